package counterpart

import "context"

// =============================================================================
// STORE - Persistence interface for counterparts and payout accounts
// =============================================================================

// Store is implemented by store/sqlite for production and store/memory for
// tests. Payout aggregates are derived from the transaction feed mirror and
// are read-only here.
type Store interface {
	// Counterparts
	CreateCounterpart(ctx context.Context, c *Counterpart) error
	UpdateCounterpart(ctx context.Context, c *Counterpart) error
	GetCounterpart(ctx context.Context, id int64) (*Counterpart, error)
	GetCounterpartByRUT(ctx context.Context, normalizedRUT string) (*Counterpart, error)
	ListCounterparts(ctx context.Context) ([]Counterpart, error)

	// Accounts
	AccountsByCounterpart(ctx context.Context, counterpartID int64) ([]CounterpartAccount, error)
	GetAccountByNumber(ctx context.Context, normalizedNumber string) (*CounterpartAccount, error)

	// SaveAccount inserts the account or reassigns an existing one (matched
	// by normalized number) to the account's counterpart.
	SaveAccount(ctx context.Context, a *CounterpartAccount) error

	// PayoutAccounts returns feed aggregates grouped by normalized account
	// number, ordered by total gross amount then movement count descending,
	// filtered by an optional substring query and optionally to unassigned
	// accounts only, limit rows starting at offset, plus the total group
	// count for the filter.
	PayoutAccounts(ctx context.Context, query string, unassignedOnly bool, limit, offset int) ([]PayoutAccountRecord, int, error)

	// PayoutAccountsByRUT returns feed aggregates whose observed RUT equals
	// the given normalized RUT.
	PayoutAccountsByRUT(ctx context.Context, normalizedRUT string) ([]PayoutAccountRecord, error)

	// ObservedRUT returns the RUT seen on withdrawals for a normalized
	// account number, "" when none was ever observed.
	ObservedRUT(ctx context.Context, normalizedNumber string) (string, error)
}
