/*
Package counterpart reconciles bank payout accounts with counterparties.

PURPOSE:
  Transactions arrive carrying raw bank-account spellings and, sometimes, an
  observed RUT (Chilean tax id). This package normalizes account numbers,
  groups raw spellings under a canonical key, associates accounts to
  counterparts keyed by RUT, and surfaces conflicts instead of silently
  overwriting an observed RUT with a different one.

KEY CONCEPTS:
  - Counterpart:        external party keyed by identificationNumber (RUT)
  - CounterpartAccount: a bank account owned by exactly one counterpart
  - PayoutAccountRecord: aggregated view of an account observed in the feed
  - Conflict:           observed RUT disagrees with the assigned one

SEE ALSO:
  - normalize.go: account-number and RUT normalization rules
  - resolver.go:  attach-by-RUT, suggestions, unassigned payout paging
*/
package counterpart

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COUNTERPART - External party keyed by tax id
// =============================================================================

type Counterpart struct {
	ID       int64
	PublicID string

	// IdentificationNumber is the normalized RUT, the unique key for
	// auto-matching payout accounts.
	IdentificationNumber string
	BankAccountHolder    string
	Category             string
	Notes                string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CounterpartAccount belongs to exactly one counterpart at a time and can be
// reassigned. NormalizedNumber is the grouping key: raw spellings that
// normalize alike are the same account.
type CounterpartAccount struct {
	ID            int64
	CounterpartID int64

	AccountNumber    string // raw spelling as first observed
	NormalizedNumber string
	BankName         string
	AccountType      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PAYOUT ACCOUNT RECORD - Aggregated feed view
// =============================================================================

// PayoutAccountRecord aggregates the transaction feed per normalized account
// number. Read-mostly: the feed owns the underlying rows.
type PayoutAccountRecord struct {
	AccountNumber    string // normalized grouping key
	MovementCount    int
	TotalGrossAmount decimal.Decimal

	// Linked counterpart, zero values when unassigned.
	CounterpartID   int64
	CounterpartName string

	// ObservedRUT is the RUT seen on associated withdrawal records, if any.
	ObservedRUT string

	// Conflict is set when the linked counterpart's RUT disagrees with the
	// observed one.
	Conflict bool
}

// =============================================================================
// ATTACH RESULTS
// =============================================================================

// RutConflict reports an account whose previously-observed RUT disagrees
// with the RUT being assigned. Surfaced to the caller, never auto-resolved.
type RutConflict struct {
	AccountNumber string // normalized
	ObservedRUT   string
	AssignedRUT   string
}

// AttachResult summarizes an attach-by-RUT run.
type AttachResult struct {
	Counterpart *Counterpart
	Created     bool // a new counterpart was created for the RUT
	Assigned    int
	Conflicts   []RutConflict
	Accounts    []CounterpartAccount
}
