package schedule

import "github.com/shopspring/decimal"

// =============================================================================
// LATE FEE POLICY - Surcharge on overdue entries
// =============================================================================

type LateFeeMode string

const (
	FeeNone       LateFeeMode = "NONE"
	FeeFixed      LateFeeMode = "FIXED"      // flat surcharge once past grace
	FeePercentage LateFeeMode = "PERCENTAGE" // percent of expected amount
)

func (m LateFeeMode) Valid() bool {
	switch m {
	case FeeNone, FeeFixed, FeePercentage:
		return true
	}
	return false
}

// FeePolicy describes how a service surcharges overdue entries. The fee is
// flat once grace is exceeded, it does not accrue per day.
type FeePolicy struct {
	Mode      LateFeeMode
	Value     decimal.Decimal // FIXED: amount; PERCENTAGE: percent (10 = 10%)
	GraceDays int
}

func NoFee() FeePolicy { return FeePolicy{Mode: FeeNone} }

func (p FeePolicy) Validate() error {
	if !p.Mode.Valid() {
		return Invalidf("lateFeeMode", "unknown mode %q", string(p.Mode))
	}
	if p.Mode != FeeNone && p.Value.IsNegative() {
		return Invalidf("lateFeeValue", "must not be negative")
	}
	if p.GraceDays < 0 {
		return Invalidf("lateFeeGraceDays", "must not be negative")
	}
	return nil
}

// OverdueDays returns whole days past due, never negative. The caller gates
// on entry status: only PENDING entries are ever overdue.
func OverdueDays(due, asOf Date) int {
	if days := DaysBetween(due, asOf); days > 0 {
		return days
	}
	return 0
}

// Assess computes the late fee for an entry with the given expected amount,
// overdue for the given number of days. Within the grace window the fee is
// always zero. Percentage fees round to the nearest whole peso.
func (p FeePolicy) Assess(expected decimal.Decimal, overdueDays int) decimal.Decimal {
	if overdueDays <= p.GraceDays {
		return decimal.Zero
	}
	switch p.Mode {
	case FeeFixed:
		return p.Value
	case FeePercentage:
		return expected.Mul(p.Value).Div(decimal.NewFromInt(100)).Round(0)
	default:
		return decimal.Zero
	}
}
