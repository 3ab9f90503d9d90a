package billing

import (
	"context"

	"github.com/andesfin/obligation-engine/schedule"
)

// =============================================================================
// STORE - Persistence interface for services and schedules
// =============================================================================

// Store is implemented by store/sqlite for production and store/memory for
// tests. Mutations that touch several rows go through the atomic methods;
// callers must not simulate them with individual writes.
type Store interface {
	// Services
	CreateService(ctx context.Context, s *Service) error
	UpdateService(ctx context.Context, s *Service) error
	GetService(ctx context.Context, publicID string) (*Service, error)
	GetServiceByID(ctx context.Context, id int64) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)

	// Schedule entries
	EntriesByService(ctx context.Context, serviceID int64) ([]ScheduleEntry, error)
	GetEntry(ctx context.Context, id int64) (*ScheduleEntry, error)
	UpdateEntry(ctx context.Context, e *ScheduleEntry) error

	// ReplaceSchedule persists the service configuration and atomically
	// swaps its PENDING entries for the given batch: the config and all new
	// entries commit together or nothing does. Settled entries
	// (PAID/PARTIAL/SKIPPED) are never touched.
	ReplaceSchedule(ctx context.Context, svc *Service, entries []ScheduleEntry) error
}

// TransactionFeed is the read-only view of the external bank transaction
// mirror. Listing is paged; callers bound how many pages they walk.
type TransactionFeed interface {
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// TransactionsInWindow returns feed rows dated within [from, to],
	// most recent first, limit rows starting at offset.
	TransactionsInWindow(ctx context.Context, from, to schedule.Date, limit, offset int) ([]Transaction, error)

	// ImportTransactions upserts feed rows from the external system.
	ImportTransactions(ctx context.Context, txs []Transaction) error
}
