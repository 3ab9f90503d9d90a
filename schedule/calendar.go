/*
Package schedule provides the pure scheduling engine for recurring financial
obligations.

PURPOSE:
  This package contains the calendar math shared by every obligation the
  system tracks: turning a start date plus a recurrence frequency into
  period boundaries, resolving the emission (invoice-issue) date for a
  period, and assessing late fees against a due date.

KEY CONCEPTS:
  - Date:           day-granularity calendar date (date.go)
  - Frequency:      recurrence step (weekly through annual, or once)
  - Period:         [start, end] boundaries of one billing occurrence
  - EmissionPolicy: tagged union of the three emission modes (emission.go)
  - FeePolicy:      late-fee rules - none/fixed/percentage + grace (latefee.go)

DESIGN PRINCIPLES:
  1. Purity: every function here is a function of its arguments; persistence
     and "now" are the caller's problem.
  2. Precision: decimal.Decimal for amounts, never float64.
  3. Clamping: day-of-month targets clamp to the length of short months,
     so dueDay=31 lands on Feb 29, not Mar 2.

USAGE:
  p := schedule.PeriodFor(start, schedule.FreqMonthly, 2)
  due := schedule.DueDateFor(p, schedule.FreqMonthly, 15)

SEE ALSO:
  - emission.go: emission date resolution
  - latefee.go: overdue days and fee assessment
  - errors.go: sentinel and structured errors
*/
package schedule

// =============================================================================
// FREQUENCY - Recurrence step mapping
// =============================================================================

type Frequency string

const (
	FreqWeekly     Frequency = "WEEKLY"     // +7 days
	FreqBiweekly   Frequency = "BIWEEKLY"   // +14 days
	FreqMonthly    Frequency = "MONTHLY"    // +1 month
	FreqBimonthly  Frequency = "BIMONTHLY"  // +2 months
	FreqQuarterly  Frequency = "QUARTERLY"  // +3 months
	FreqSemiannual Frequency = "SEMIANNUAL" // +6 months
	FreqAnnual     Frequency = "ANNUAL"     // +12 months
	FreqOnce       Frequency = "ONCE"       // single occurrence
)

// stepDays/stepMonths describe one frequency step. Exactly one is non-zero
// for repeating frequencies; both are zero for ONCE.
func (f Frequency) step() (days, months int) {
	switch f {
	case FreqWeekly:
		return 7, 0
	case FreqBiweekly:
		return 14, 0
	case FreqMonthly:
		return 0, 1
	case FreqBimonthly:
		return 0, 2
	case FreqQuarterly:
		return 0, 3
	case FreqSemiannual:
		return 0, 6
	case FreqAnnual:
		return 0, 12
	default:
		return 0, 0
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case FreqWeekly, FreqBiweekly, FreqMonthly, FreqBimonthly,
		FreqQuarterly, FreqSemiannual, FreqAnnual, FreqOnce:
		return true
	}
	return false
}

// Repeats reports whether the frequency produces more than one occurrence.
func (f Frequency) Repeats() bool { return f.Valid() && f != FreqOnce }

// Advance moves a date forward n frequency steps. Month-based frequencies
// keep the anchor day-of-month, clamped to short months.
func (f Frequency) Advance(d Date, n int) Date {
	if n == 0 {
		return d
	}
	days, months := f.step()
	switch {
	case days > 0:
		return d.AddDays(days * n)
	case months > 0:
		return d.AddMonthsClamped(months * n)
	default: // ONCE has no step
		return d
	}
}

// =============================================================================
// PERIOD - Boundaries of one billing occurrence
// =============================================================================

type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps returns true if two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// RECURRENCE CALENDAR
// =============================================================================

// PeriodFor returns the boundaries of the 0-based occurrence n of a
// recurrence anchored at start. The period runs from the n-th step to the
// day before the (n+1)-th step; for ONCE the period is the single start day.
func PeriodFor(start Date, freq Frequency, n int) Period {
	if freq == FreqOnce {
		return Period{Start: start, End: start}
	}
	return Period{
		Start: freq.Advance(start, n),
		End:   freq.Advance(start, n+1).AddDays(-1),
	}
}

// DueDateFor resolves the due date for a period. With dueDay set (1-31) the
// due date is that day of the period's opening month, clamped to month
// length, pushed to the next month when it would land before the period
// itself. With dueDay unset (0) the due date is the period end.
//
// Day-stepped frequencies (WEEKLY, BIWEEKLY) ignore dueDay and use the
// period end: their periods are shorter than a month, so a day-of-month
// target would pin consecutive occurrences to the same date.
func DueDateFor(p Period, freq Frequency, dueDay int) Date {
	if days, _ := freq.step(); days > 0 {
		return p.End
	}
	if dueDay <= 0 {
		return p.End
	}
	due := p.Start.WithDayClamped(dueDay)
	if due.Before(p.Start) {
		due = p.Start.AddMonthsClamped(1).WithDayClamped(dueDay)
	}
	return due
}
