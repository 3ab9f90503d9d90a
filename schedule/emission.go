package schedule

// =============================================================================
// EMISSION POLICY - When the invoice for a period is issued
// =============================================================================

// EmissionMode selects how the emission date is derived. The emission date is
// informational: it never gates due-date or late-fee logic.
type EmissionMode string

const (
	EmissionFixedDay     EmissionMode = "FIXED_DAY"     // fixed day-of-month
	EmissionDateRange    EmissionMode = "DATE_RANGE"    // within [startDay, endDay]
	EmissionSpecificDate EmissionMode = "SPECIFIC_DATE" // explicit stored date
)

func (m EmissionMode) Valid() bool {
	switch m {
	case EmissionFixedDay, EmissionDateRange, EmissionSpecificDate:
		return true
	}
	return false
}

// EmissionPolicy is a tagged union: Mode selects which variant fields are
// meaningful, and the constructors guarantee the other variants stay zero.
// Replacing the whole value on a mode switch is what keeps the
// one-variant-populated invariant, there is no field nulling to forget.
type EmissionPolicy struct {
	Mode EmissionMode

	// FIXED_DAY
	Day int

	// DATE_RANGE
	StartDay int
	EndDay   int

	// SPECIFIC_DATE
	Date Date
}

func FixedDayEmission(day int) EmissionPolicy {
	return EmissionPolicy{Mode: EmissionFixedDay, Day: day}
}

func RangeEmission(startDay, endDay int) EmissionPolicy {
	return EmissionPolicy{Mode: EmissionDateRange, StartDay: startDay, EndDay: endDay}
}

func SpecificDateEmission(date Date) EmissionPolicy {
	return EmissionPolicy{Mode: EmissionSpecificDate, Date: date}
}

// Validate rejects malformed policies before any schedule is written.
func (p EmissionPolicy) Validate() error {
	switch p.Mode {
	case EmissionFixedDay:
		if p.Day < 1 || p.Day > 31 {
			return Invalidf("emissionDay", "must be between 1 and 31, got %d", p.Day)
		}
		if p.StartDay != 0 || p.EndDay != 0 || !p.Date.IsZero() {
			return Invalidf("emissionMode", "FIXED_DAY carries only emissionDay")
		}
	case EmissionDateRange:
		if p.StartDay < 1 || p.StartDay > 31 {
			return Invalidf("emissionStartDay", "must be between 1 and 31, got %d", p.StartDay)
		}
		if p.EndDay < p.StartDay {
			return Invalidf("emissionEndDay", "must not precede emissionStartDay (%d < %d)", p.EndDay, p.StartDay)
		}
		if p.EndDay > 31 {
			return Invalidf("emissionEndDay", "must be between 1 and 31, got %d", p.EndDay)
		}
		if p.Day != 0 || !p.Date.IsZero() {
			return Invalidf("emissionMode", "DATE_RANGE carries only emissionStartDay/emissionEndDay")
		}
	case EmissionSpecificDate:
		if p.Date.IsZero() {
			return Invalidf("emissionExactDate", "required for SPECIFIC_DATE")
		}
		if p.Day != 0 || p.StartDay != 0 || p.EndDay != 0 {
			return Invalidf("emissionMode", "SPECIFIC_DATE carries only emissionExactDate")
		}
	default:
		return Invalidf("emissionMode", "unknown mode %q", string(p.Mode))
	}
	return nil
}

// Resolve computes the emission date for a period.
//
//	FIXED_DAY:     day-th day of the period's opening month, clamped.
//	DATE_RANGE:    earliest valid day >= StartDay and <= EndDay in the
//	               period's opening month.
//	SPECIFIC_DATE: the stored literal date, independent of the period.
func (p EmissionPolicy) Resolve(period Period) (Date, error) {
	if err := p.Validate(); err != nil {
		return Date{}, err
	}
	switch p.Mode {
	case EmissionFixedDay:
		return period.Start.WithDayClamped(p.Day), nil
	case EmissionDateRange:
		return period.Start.WithDayClamped(p.StartDay), nil
	default:
		return p.Date, nil
	}
}
