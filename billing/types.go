/*
Package billing manages recurring financial obligations (services) and their
payment schedules.

PURPOSE:
  A Service describes an obligation - a bill, subscription, or loan payment -
  with its recurrence, emission, and late-fee policies. The Generator expands
  a Service into ScheduleEntry rows; Payments registers, unlinks, and skips
  individual entries; the Matcher proposes bank transactions that likely
  settle an entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Service:       the obligation plus its policies
  - ScheduleEntry: one billing period's instance, with its payment state
  - Assessment:    derived overdue days / late fee / effective amount
  - Transaction:   read-only view of the external bank feed

DESIGN PRINCIPLES:
  1. Settled history is immutable: PAID and SKIPPED entries are never
     regenerated, edited, or deleted.
  2. Late fees are derived on read, never persisted: policy changes apply
     to all still-pending entries immediately and never retroactively.
  3. Precision: decimal.Decimal for every amount.

SEE ALSO:
  - generator.go: schedule generation/regeneration
  - payments.go:  pay / unlink / skip transitions
  - matcher.go:   transaction match suggestions
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/schedule"
)

// =============================================================================
// SERVICE - A tracked obligation
// =============================================================================

type RecurrenceType string

const (
	RecurrenceRecurring RecurrenceType = "RECURRING"
	RecurrenceOneOff    RecurrenceType = "ONE_OFF"
)

type IndexationMode string

const (
	IndexationNone IndexationMode = "NONE"
	IndexationUF   IndexationMode = "UF" // amount stored in UF, frozen to CLP at generation
)

type ServiceStatus string

const (
	ServiceActive   ServiceStatus = "ACTIVE"
	ServiceInactive ServiceStatus = "INACTIVE"
	ServiceArchived ServiceStatus = "ARCHIVED"
)

type Service struct {
	ID       int64
	PublicID string

	Name           string
	Category       string
	ServiceType    string
	Ownership      string
	ObligationType string

	Recurrence RecurrenceType
	Frequency  schedule.Frequency
	StartDate  schedule.Date
	DueDay     int // 1-31, 0 = unset (due at period end)

	Emission      schedule.EmissionPolicy
	DefaultAmount decimal.Decimal
	Indexation    IndexationMode
	LateFee       schedule.FeePolicy

	CounterpartID        int64 // 0 = none
	CounterpartAccountID int64 // 0 = none

	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects a malformed service before anything is written.
func (s *Service) Validate() error {
	if s.Name == "" {
		return schedule.Invalidf("name", "required")
	}
	switch s.Recurrence {
	case RecurrenceRecurring, RecurrenceOneOff:
	default:
		return schedule.Invalidf("recurrenceType", "unknown %q", string(s.Recurrence))
	}
	if !s.Frequency.Valid() {
		return schedule.Invalidf("frequency", "unknown %q", string(s.Frequency))
	}
	if s.Recurrence == RecurrenceOneOff && s.Frequency != schedule.FreqOnce {
		return schedule.Invalidf("frequency", "ONE_OFF services must use ONCE")
	}
	if s.Recurrence == RecurrenceRecurring && s.Frequency == schedule.FreqOnce {
		return schedule.Invalidf("frequency", "RECURRING services cannot use ONCE")
	}
	if s.StartDate.IsZero() {
		return schedule.Invalidf("startDate", "required")
	}
	if s.DueDay < 0 || s.DueDay > 31 {
		return schedule.Invalidf("dueDay", "must be between 1 and 31 or unset, got %d", s.DueDay)
	}
	if s.DefaultAmount.IsNegative() {
		return schedule.Invalidf("defaultAmount", "must not be negative")
	}
	switch s.Indexation {
	case IndexationNone, IndexationUF:
	default:
		return schedule.Invalidf("amountIndexation", "unknown %q", string(s.Indexation))
	}
	if err := s.Emission.Validate(); err != nil {
		return err
	}
	return s.LateFee.Validate()
}

// Status derives the service lifecycle state from its entry counts.
// Archived wins; otherwise a service with unsettled entries is ACTIVE.
func (s *Service) Status(counts EntryCounts) ServiceStatus {
	if s.Archived {
		return ServiceArchived
	}
	if counts.Pending > 0 || counts.Partial > 0 {
		return ServiceActive
	}
	return ServiceInactive
}

// =============================================================================
// SCHEDULE ENTRY - One billing period's instance of a service
// =============================================================================

type EntryStatus string

const (
	StatusPending EntryStatus = "PENDING"
	StatusPartial EntryStatus = "PARTIAL"
	StatusPaid    EntryStatus = "PAID"
	StatusSkipped EntryStatus = "SKIPPED"
)

// Settled reports whether the entry belongs to immutable history: it is
// never regenerated or overwritten.
func (s EntryStatus) Settled() bool {
	return s == StatusPaid || s == StatusPartial || s == StatusSkipped
}

type ScheduleEntry struct {
	ID        int64
	ServiceID int64

	PeriodStart  schedule.Date
	PeriodEnd    schedule.Date
	DueDate      schedule.Date
	EmissionDate schedule.Date // informational

	ExpectedAmount decimal.Decimal
	Status         EntryStatus

	PaidAmount    decimal.Decimal // zero unless PAID/PARTIAL
	PaidDate      schedule.Date   // zero unless PAID/PARTIAL
	TransactionID string          // non-owning back-reference, "" = none
	Note          string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the entry's billing period.
func (e *ScheduleEntry) Period() schedule.Period {
	return schedule.Period{Start: e.PeriodStart, End: e.PeriodEnd}
}

// Assessment is the read-time view of an entry's payable state. It is
// recomputed from the current fee policy on every read and never persisted,
// so a fee policy change takes effect on all pending entries immediately.
type Assessment struct {
	OverdueDays     int
	LateFeeAmount   decimal.Decimal
	EffectiveAmount decimal.Decimal
}

// Assess derives overdue days and the effective payable amount as of a date.
// Only PENDING entries accrue overdue days or fees.
func (e *ScheduleEntry) Assess(policy schedule.FeePolicy, asOf schedule.Date) Assessment {
	if e.Status != StatusPending {
		return Assessment{
			LateFeeAmount:   decimal.Zero,
			EffectiveAmount: e.ExpectedAmount,
		}
	}
	overdue := schedule.OverdueDays(e.DueDate, asOf)
	fee := policy.Assess(e.ExpectedAmount, overdue)
	return Assessment{
		OverdueDays:     overdue,
		LateFeeAmount:   fee,
		EffectiveAmount: e.ExpectedAmount.Add(fee),
	}
}

// =============================================================================
// ENTRY COUNTS - Derived aggregates for service status
// =============================================================================

type EntryCounts struct {
	Pending int
	Overdue int // pending and past due as of the count date
	Partial int
	Paid    int
	Skipped int
}

// CountEntries aggregates entry states as of a date. SKIPPED entries never
// count toward pending or overdue.
func CountEntries(entries []ScheduleEntry, asOf schedule.Date) EntryCounts {
	var c EntryCounts
	for i := range entries {
		switch entries[i].Status {
		case StatusPending:
			c.Pending++
			if schedule.OverdueDays(entries[i].DueDate, asOf) > 0 {
				c.Overdue++
			}
		case StatusPartial:
			c.Partial++
		case StatusPaid:
			c.Paid++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}

// =============================================================================
// TRANSACTION - Read-only view of the external bank feed
// =============================================================================

// Transaction is owned by the external transaction system; this engine only
// reads it for matching and payout reconciliation.
type Transaction struct {
	ID            string
	Date          schedule.Date
	Amount        decimal.Decimal
	Description   string
	AccountNumber string // raw payout account spelling as observed
	ObservedRUT   string // counterpart tax id seen on the withdrawal, if any
}
