/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements billing.Store, billing.TransactionFeed, and counterpart.Store
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  services:             obligation definitions with their policies
  service_schedules:    one row per billing period instance
  counterparts:         external parties keyed by RUT
  counterpart_accounts: bank accounts currently assigned to counterparts
  bank_transactions:    mirror of the external transaction feed

AUDIT:
  Every row carries created_at/updated_at (RFC3339, UTC).

MUTATION DISCIPLINE:
  Settled schedule rows (PAID/PARTIAL/SKIPPED) are never deleted.
  ReplaceSchedule commits the service config and the PENDING row swap in
  one SQL transaction; settled rows are never touched.

AMOUNTS:
  Stored as decimal strings to avoid float drift. The payout aggregation
  casts to REAL for SUM/ORDER BY only; Chilean pesos carry no cents, so
  the cast is exact at realistic magnitudes.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/obligations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: interface definitions
  - counterpart/store.go: interface definitions
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/counterpart"
	"github.com/andesfin/obligation-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		service_type TEXT NOT NULL DEFAULT '',
		ownership TEXT NOT NULL DEFAULT '',
		obligation_type TEXT NOT NULL DEFAULT '',
		recurrence TEXT NOT NULL,
		frequency TEXT NOT NULL,
		start_date TEXT NOT NULL,
		due_day INTEGER NOT NULL DEFAULT 0,
		emission_mode TEXT NOT NULL,
		emission_day INTEGER NOT NULL DEFAULT 0,
		emission_start_day INTEGER NOT NULL DEFAULT 0,
		emission_end_day INTEGER NOT NULL DEFAULT 0,
		emission_date TEXT NOT NULL DEFAULT '',
		default_amount TEXT NOT NULL,
		indexation TEXT NOT NULL,
		late_fee_mode TEXT NOT NULL,
		late_fee_value TEXT NOT NULL DEFAULT '0',
		late_fee_grace_days INTEGER NOT NULL DEFAULT 0,
		counterpart_id INTEGER NOT NULL DEFAULT 0,
		counterpart_account_id INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS service_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id INTEGER NOT NULL REFERENCES services(id),
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		due_date TEXT NOT NULL,
		emission_date TEXT NOT NULL DEFAULT '',
		expected_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_date TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_service_status
		ON service_schedules(service_id, status);
	CREATE INDEX IF NOT EXISTS idx_schedules_due_date
		ON service_schedules(due_date);

	CREATE TABLE IF NOT EXISTS counterparts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		identification_number TEXT NOT NULL DEFAULT '',
		bank_account_holder TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_counterparts_rut
		ON counterparts(identification_number) WHERE identification_number != '';

	CREATE TABLE IF NOT EXISTS counterpart_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		counterpart_id INTEGER NOT NULL REFERENCES counterparts(id),
		account_number TEXT NOT NULL,
		normalized_number TEXT NOT NULL UNIQUE,
		bank_name TEXT NOT NULL DEFAULT '',
		account_type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bank_transactions (
		id TEXT PRIMARY KEY,
		tx_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		normalized_account TEXT NOT NULL DEFAULT '',
		observed_rut TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bank_tx_date ON bank_transactions(tx_date);
	CREATE INDEX IF NOT EXISTS idx_bank_tx_account ON bank_transactions(normalized_account);
	`
	_, err := s.db.Exec(schemaSQL)
	return err
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

// Dates are stored as "YYYY-MM-DD" text so lexical order matches
// chronological order.

func encodeDate(d schedule.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func decodeDate(s string) schedule.Date {
	if s == "" {
		return schedule.Date{}
	}
	d, err := schedule.ParseDate(s)
	if err != nil {
		return schedule.Date{}
	}
	return d
}

func decodeDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// SERVICES
// =============================================================================

func (s *Store) CreateService(ctx context.Context, svc *billing.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.PublicID == "" {
		svc.PublicID = uuid.NewString()
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO services (
			public_id, name, category, service_type, ownership, obligation_type,
			recurrence, frequency, start_date, due_day,
			emission_mode, emission_day, emission_start_day, emission_end_day, emission_date,
			default_amount, indexation, late_fee_mode, late_fee_value, late_fee_grace_days,
			counterpart_id, counterpart_account_id, archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.PublicID, svc.Name, svc.Category, svc.ServiceType, svc.Ownership, svc.ObligationType,
		string(svc.Recurrence), string(svc.Frequency), encodeDate(svc.StartDate), svc.DueDay,
		string(svc.Emission.Mode), svc.Emission.Day, svc.Emission.StartDay, svc.Emission.EndDay, encodeDate(svc.Emission.Date),
		svc.DefaultAmount.String(), string(svc.Indexation),
		string(svc.LateFee.Mode), svc.LateFee.Value.String(), svc.LateFee.GraceDays,
		svc.CounterpartID, svc.CounterpartAccountID, boolToInt(svc.Archived),
		encodeTime(svc.CreatedAt), encodeTime(svc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	svc.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdateService(ctx context.Context, svc *billing.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateService(ctx, s.db, svc)
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the service update can
// run standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateService(ctx context.Context, ex execer, svc *billing.Service) error {
	svc.UpdatedAt = time.Now().UTC()
	res, err := ex.ExecContext(ctx, `
		UPDATE services SET
			name = ?, category = ?, service_type = ?, ownership = ?, obligation_type = ?,
			recurrence = ?, frequency = ?, start_date = ?, due_day = ?,
			emission_mode = ?, emission_day = ?, emission_start_day = ?, emission_end_day = ?, emission_date = ?,
			default_amount = ?, indexation = ?, late_fee_mode = ?, late_fee_value = ?, late_fee_grace_days = ?,
			counterpart_id = ?, counterpart_account_id = ?, archived = ?, updated_at = ?
		WHERE id = ?`,
		svc.Name, svc.Category, svc.ServiceType, svc.Ownership, svc.ObligationType,
		string(svc.Recurrence), string(svc.Frequency), encodeDate(svc.StartDate), svc.DueDay,
		string(svc.Emission.Mode), svc.Emission.Day, svc.Emission.StartDay, svc.Emission.EndDay, encodeDate(svc.Emission.Date),
		svc.DefaultAmount.String(), string(svc.Indexation),
		string(svc.LateFee.Mode), svc.LateFee.Value.String(), svc.LateFee.GraceDays,
		svc.CounterpartID, svc.CounterpartAccountID, boolToInt(svc.Archived), encodeTime(svc.UpdatedAt),
		svc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrServiceNotFound
	}
	return nil
}

const serviceColumns = `
	id, public_id, name, category, service_type, ownership, obligation_type,
	recurrence, frequency, start_date, due_day,
	emission_mode, emission_day, emission_start_day, emission_end_day, emission_date,
	default_amount, indexation, late_fee_mode, late_fee_value, late_fee_grace_days,
	counterpart_id, counterpart_account_id, archived, created_at, updated_at`

func scanService(row interface{ Scan(...any) error }) (*billing.Service, error) {
	var (
		svc                              billing.Service
		recurrence, frequency, startDate string
		emissionMode, emissionDate       string
		defaultAmount, indexation        string
		feeMode, feeValue                string
		archived                         int
		createdAt, updatedAt             string
	)
	err := row.Scan(
		&svc.ID, &svc.PublicID, &svc.Name, &svc.Category, &svc.ServiceType, &svc.Ownership, &svc.ObligationType,
		&recurrence, &frequency, &startDate, &svc.DueDay,
		&emissionMode, &svc.Emission.Day, &svc.Emission.StartDay, &svc.Emission.EndDay, &emissionDate,
		&defaultAmount, &indexation, &feeMode, &feeValue, &svc.LateFee.GraceDays,
		&svc.CounterpartID, &svc.CounterpartAccountID, &archived, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	svc.Recurrence = billing.RecurrenceType(recurrence)
	svc.Frequency = schedule.Frequency(frequency)
	svc.StartDate = decodeDate(startDate)
	svc.Emission.Mode = schedule.EmissionMode(emissionMode)
	svc.Emission.Date = decodeDate(emissionDate)
	svc.DefaultAmount = decodeDecimal(defaultAmount)
	svc.Indexation = billing.IndexationMode(indexation)
	svc.LateFee.Mode = schedule.LateFeeMode(feeMode)
	svc.LateFee.Value = decodeDecimal(feeValue)
	svc.Archived = archived != 0
	svc.CreatedAt = decodeTime(createdAt)
	svc.UpdatedAt = decodeTime(updatedAt)
	return &svc, nil
}

func (s *Store) getServiceWhere(ctx context.Context, where string, arg any) (*billing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE `+where, arg)
	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return svc, nil
}

func (s *Store) GetService(ctx context.Context, publicID string) (*billing.Service, error) {
	return s.getServiceWhere(ctx, "public_id = ?", publicID)
}

func (s *Store) GetServiceByID(ctx context.Context, id int64) (*billing.Service, error) {
	return s.getServiceWhere(ctx, "id = ?", id)
}

func (s *Store) ListServices(ctx context.Context) ([]billing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var out []billing.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

// =============================================================================
// SCHEDULE ENTRIES
// =============================================================================

const entryColumns = `
	id, service_id, period_start, period_end, due_date, emission_date,
	expected_amount, status, paid_amount, paid_date, transaction_id, note,
	created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*billing.ScheduleEntry, error) {
	var (
		e                                             billing.ScheduleEntry
		periodStart, periodEnd, dueDate, emissionDate string
		expected, status, paidAmount, paidDate        string
		createdAt, updatedAt                          string
	)
	err := row.Scan(
		&e.ID, &e.ServiceID, &periodStart, &periodEnd, &dueDate, &emissionDate,
		&expected, &status, &paidAmount, &paidDate, &e.TransactionID, &e.Note,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.PeriodStart = decodeDate(periodStart)
	e.PeriodEnd = decodeDate(periodEnd)
	e.DueDate = decodeDate(dueDate)
	e.EmissionDate = decodeDate(emissionDate)
	e.ExpectedAmount = decodeDecimal(expected)
	e.Status = billing.EntryStatus(status)
	e.PaidAmount = decodeDecimal(paidAmount)
	e.PaidDate = decodeDate(paidDate)
	e.CreatedAt = decodeTime(createdAt)
	e.UpdatedAt = decodeTime(updatedAt)
	return &e, nil
}

func (s *Store) EntriesByService(ctx context.Context, serviceID int64) ([]billing.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM service_schedules WHERE service_id = ? ORDER BY due_date, id`,
		serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []billing.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) GetEntry(ctx context.Context, id int64) (*billing.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM service_schedules WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e *billing.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE service_schedules SET
			expected_amount = ?, status = ?, paid_amount = ?, paid_date = ?,
			transaction_id = ?, note = ?, updated_at = ?
		WHERE id = ?`,
		e.ExpectedAmount.String(), string(e.Status), e.PaidAmount.String(), encodeDate(e.PaidDate),
		e.TransactionID, e.Note, encodeTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrScheduleNotFound
	}
	return nil
}

// ReplaceSchedule persists the service and swaps its PENDING rows for the
// given batch inside one SQL transaction: the config and the new entries
// commit together or the whole regeneration rolls back. Settled rows are
// never touched.
func (s *Store) ReplaceSchedule(ctx context.Context, svc *billing.Service, entries []billing.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateService(ctx, tx, svc); err != nil {
		return err
	}

	serviceID := svc.ID
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM service_schedules WHERE service_id = ? AND status = ?`,
		serviceID, string(billing.StatusPending)); err != nil {
		return fmt.Errorf("failed to clear pending schedules: %w", err)
	}

	now := encodeTime(time.Now().UTC())
	for i := range entries {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO service_schedules (
				service_id, period_start, period_end, due_date, emission_date,
				expected_amount, status, paid_amount, paid_date, transaction_id, note,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, '0', '', '', ?, ?, ?)`,
			serviceID, encodeDate(entries[i].PeriodStart), encodeDate(entries[i].PeriodEnd),
			encodeDate(entries[i].DueDate), encodeDate(entries[i].EmissionDate),
			entries[i].ExpectedAmount.String(), string(billing.StatusPending),
			entries[i].Note, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
		entries[i].ID, _ = res.LastInsertId()
		entries[i].ServiceID = serviceID
	}

	return tx.Commit()
}

// =============================================================================
// TRANSACTION FEED
// =============================================================================

func scanTransaction(row interface{ Scan(...any) error }) (*billing.Transaction, error) {
	var (
		tx           billing.Transaction
		date, amount string
	)
	if err := row.Scan(&tx.ID, &date, &amount, &tx.Description, &tx.AccountNumber, &tx.ObservedRUT); err != nil {
		return nil, err
	}
	tx.Date = decodeDate(date)
	tx.Amount = decodeDecimal(amount)
	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tx_date, amount, description, account_number, observed_rut
		FROM bank_transactions WHERE id = ?`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) TransactionsInWindow(ctx context.Context, from, to schedule.Date, limit, offset int) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_date, amount, description, account_number, observed_rut
		FROM bank_transactions
		WHERE tx_date >= ? AND tx_date <= ?
		ORDER BY tx_date DESC, id
		LIMIT ? OFFSET ?`,
		encodeDate(from), encodeDate(to), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schedule.ErrFeedUnavailable, err)
	}
	defer rows.Close()

	var out []billing.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// ImportTransactions upserts feed rows by transaction id so repeated imports
// of overlapping statements stay idempotent.
func (s *Store) ImportTransactions(ctx context.Context, txs []billing.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	now := encodeTime(time.Now().UTC())
	for _, tx := range txs {
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO bank_transactions (id, tx_date, amount, description, account_number, normalized_account, observed_rut, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tx_date = excluded.tx_date,
				amount = excluded.amount,
				description = excluded.description,
				account_number = excluded.account_number,
				normalized_account = excluded.normalized_account,
				observed_rut = excluded.observed_rut`,
			tx.ID, encodeDate(tx.Date), tx.Amount.String(), tx.Description,
			tx.AccountNumber, counterpart.NormalizeAccountNumber(tx.AccountNumber),
			counterpart.NormalizeRUT(tx.ObservedRUT), now,
		); err != nil {
			return fmt.Errorf("failed to import transaction %s: %w", tx.ID, err)
		}
	}
	return dbTx.Commit()
}

// =============================================================================
// COUNTERPARTS
// =============================================================================

func (s *Store) CreateCounterpart(ctx context.Context, c *counterpart.Counterpart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.PublicID == "" {
		c.PublicID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO counterparts (public_id, identification_number, bank_account_holder, category, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.PublicID, c.IdentificationNumber, c.BankAccountHolder, c.Category, c.Notes,
		encodeTime(c.CreatedAt), encodeTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert counterpart: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdateCounterpart(ctx context.Context, c *counterpart.Counterpart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE counterparts SET identification_number = ?, bank_account_holder = ?, category = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		c.IdentificationNumber, c.BankAccountHolder, c.Category, c.Notes, encodeTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update counterpart: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrCounterpartNotFound
	}
	return nil
}

const counterpartColumns = `id, public_id, identification_number, bank_account_holder, category, notes, created_at, updated_at`

func scanCounterpart(row interface{ Scan(...any) error }) (*counterpart.Counterpart, error) {
	var (
		c                    counterpart.Counterpart
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.PublicID, &c.IdentificationNumber, &c.BankAccountHolder,
		&c.Category, &c.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = decodeTime(createdAt)
	c.UpdatedAt = decodeTime(updatedAt)
	return &c, nil
}

func (s *Store) GetCounterpart(ctx context.Context, id int64) (*counterpart.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+counterpartColumns+` FROM counterparts WHERE id = ?`, id)
	c, err := scanCounterpart(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counterpart: %w", err)
	}
	return c, nil
}

func (s *Store) GetCounterpartByRUT(ctx context.Context, normalizedRUT string) (*counterpart.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+counterpartColumns+` FROM counterparts WHERE identification_number = ?`, normalizedRUT)
	c, err := scanCounterpart(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counterpart by rut: %w", err)
	}
	return c, nil
}

func (s *Store) ListCounterparts(ctx context.Context) ([]counterpart.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+counterpartColumns+` FROM counterparts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list counterparts: %w", err)
	}
	defer rows.Close()

	var out []counterpart.Counterpart
	for rows.Next() {
		c, err := scanCounterpart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// =============================================================================
// COUNTERPART ACCOUNTS
// =============================================================================

const accountColumns = `id, counterpart_id, account_number, normalized_number, bank_name, account_type, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*counterpart.CounterpartAccount, error) {
	var (
		a                    counterpart.CounterpartAccount
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.CounterpartID, &a.AccountNumber, &a.NormalizedNumber,
		&a.BankName, &a.AccountType, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = decodeTime(createdAt)
	a.UpdatedAt = decodeTime(updatedAt)
	return &a, nil
}

func (s *Store) AccountsByCounterpart(ctx context.Context, counterpartID int64) ([]counterpart.CounterpartAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM counterpart_accounts WHERE counterpart_id = ? ORDER BY id`, counterpartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []counterpart.CounterpartAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) GetAccountByNumber(ctx context.Context, normalizedNumber string) (*counterpart.CounterpartAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM counterpart_accounts WHERE normalized_number = ?`, normalizedNumber)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// SaveAccount inserts the account or reassigns the existing row with the
// same normalized number.
func (s *Store) SaveAccount(ctx context.Context, a *counterpart.CounterpartAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	a.UpdatedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO counterpart_accounts (counterpart_id, account_number, normalized_number, bank_name, account_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(normalized_number) DO UPDATE SET
			counterpart_id = excluded.counterpart_id,
			bank_name = excluded.bank_name,
			account_type = excluded.account_type,
			updated_at = excluded.updated_at`,
		a.CounterpartID, a.AccountNumber, a.NormalizedNumber, a.BankName, a.AccountType,
		encodeTime(a.CreatedAt), encodeTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if a.ID == 0 {
		a.ID, _ = res.LastInsertId()
	}
	return nil
}

// =============================================================================
// PAYOUT AGGREGATES
// =============================================================================

const payoutSelect = `
	SELECT t.normalized_account,
	       COUNT(*) AS movement_count,
	       SUM(ABS(CAST(t.amount AS REAL))) AS total_gross,
	       MAX(t.observed_rut) AS observed_rut,
	       COALESCE(c.id, 0),
	       COALESCE(c.bank_account_holder, ''),
	       COALESCE(c.identification_number, '')
	FROM bank_transactions t
	LEFT JOIN counterpart_accounts ca ON ca.normalized_number = t.normalized_account
	LEFT JOIN counterparts c ON c.id = ca.counterpart_id
	WHERE t.normalized_account != ''`

func (s *Store) PayoutAccounts(ctx context.Context, query string, unassignedOnly bool, limit, offset int) ([]counterpart.PayoutAccountRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := ""
	args := []any{}
	if unassignedOnly {
		where += " AND c.id IS NULL"
	}
	if query != "" {
		where += " AND t.normalized_account LIKE ?"
		args = append(args, "%"+counterpart.NormalizeAccountNumber(query)+"%")
	}

	group := " GROUP BY t.normalized_account, c.id, c.bank_account_holder, c.identification_number"

	var total int
	countSQL := `SELECT COUNT(*) FROM (` + payoutSelect + where + group + `)`
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payout accounts: %w", err)
	}

	listSQL := payoutSelect + where + group +
		` ORDER BY total_gross DESC, movement_count DESC, t.normalized_account LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, listSQL, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payout accounts: %w", err)
	}
	defer rows.Close()

	records, err := scanPayoutRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *Store) PayoutAccountsByRUT(ctx context.Context, normalizedRUT string) ([]counterpart.PayoutAccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlText := payoutSelect + ` AND t.observed_rut = ?
		GROUP BY t.normalized_account, c.id, c.bank_account_holder, c.identification_number
		ORDER BY total_gross DESC, movement_count DESC`
	rows, err := s.db.QueryContext(ctx, sqlText, normalizedRUT)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout accounts by rut: %w", err)
	}
	defer rows.Close()

	return scanPayoutRecords(rows)
}

func scanPayoutRecords(rows *sql.Rows) ([]counterpart.PayoutAccountRecord, error) {
	var out []counterpart.PayoutAccountRecord
	for rows.Next() {
		var (
			rec        counterpart.PayoutAccountRecord
			totalGross float64
			linkedRUT  string
		)
		if err := rows.Scan(&rec.AccountNumber, &rec.MovementCount, &totalGross,
			&rec.ObservedRUT, &rec.CounterpartID, &rec.CounterpartName, &linkedRUT); err != nil {
			return nil, err
		}
		rec.TotalGrossAmount = decimal.NewFromFloat(totalGross).Round(2)
		rec.Conflict = rec.ObservedRUT != "" && linkedRUT != "" && rec.ObservedRUT != linkedRUT
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ObservedRUT(ctx context.Context, normalizedNumber string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rut string
	err := s.db.QueryRowContext(ctx, `
		SELECT observed_rut FROM bank_transactions
		WHERE normalized_account = ? AND observed_rut != ''
		ORDER BY tx_date DESC LIMIT 1`, normalizedNumber).Scan(&rut)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read observed rut: %w", err)
	}
	return rut, nil
}
