// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/counterpart"
	"github.com/andesfin/obligation-engine/schedule"
)

// =============================================================================
// MEMORY STORE - Implements billing.Store, billing.TransactionFeed and
// counterpart.Store
// =============================================================================

type Store struct {
	mu sync.RWMutex

	services map[int64]billing.Service
	entries  map[int64]billing.ScheduleEntry
	feed     map[string]billing.Transaction

	counterparts map[int64]counterpart.Counterpart
	accounts     map[int64]counterpart.CounterpartAccount

	nextServiceID     int64
	nextEntryID       int64
	nextCounterpartID int64
	nextAccountID     int64
}

func New() *Store {
	return &Store{
		services:     make(map[int64]billing.Service),
		entries:      make(map[int64]billing.ScheduleEntry),
		feed:         make(map[string]billing.Transaction),
		counterparts: make(map[int64]counterpart.Counterpart),
		accounts:     make(map[int64]counterpart.CounterpartAccount),
	}
}

// =============================================================================
// SERVICES
// =============================================================================

func (s *Store) CreateService(_ context.Context, svc *billing.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextServiceID++
	svc.ID = s.nextServiceID
	if svc.PublicID == "" {
		svc.PublicID = uuid.NewString()
	}
	svc.CreatedAt = time.Now().UTC()
	svc.UpdatedAt = svc.CreatedAt
	s.services[svc.ID] = *svc
	return nil
}

func (s *Store) UpdateService(_ context.Context, svc *billing.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[svc.ID]; !ok {
		return schedule.ErrServiceNotFound
	}
	svc.UpdatedAt = time.Now().UTC()
	s.services[svc.ID] = *svc
	return nil
}

func (s *Store) GetService(_ context.Context, publicID string) (*billing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, svc := range s.services {
		if svc.PublicID == publicID {
			out := svc
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) GetServiceByID(_ context.Context, id int64) (*billing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, nil
	}
	out := svc
	return &out, nil
}

func (s *Store) ListServices(_ context.Context) ([]billing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// SCHEDULE ENTRIES
// =============================================================================

func (s *Store) EntriesByService(_ context.Context, serviceID int64) ([]billing.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.ScheduleEntry
	for _, e := range s.entries {
		if e.ServiceID == serviceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id int64) (*billing.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	out := e
	return &out, nil
}

func (s *Store) UpdateEntry(_ context.Context, e *billing.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; !ok {
		return schedule.ErrScheduleNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	s.entries[e.ID] = *e
	return nil
}

func (s *Store) ReplaceSchedule(_ context.Context, svc *billing.Service, entries []billing.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[svc.ID]; !ok {
		return schedule.ErrServiceNotFound
	}
	svc.UpdatedAt = time.Now().UTC()
	s.services[svc.ID] = *svc

	// Delete pending, keep settled. Config update and both halves of the
	// swap happen under one lock: all-or-nothing like the SQL transaction
	// in store/sqlite.
	for id, e := range s.entries {
		if e.ServiceID == svc.ID && e.Status == billing.StatusPending {
			delete(s.entries, id)
		}
	}
	now := time.Now().UTC()
	for i := range entries {
		s.nextEntryID++
		entries[i].ID = s.nextEntryID
		entries[i].ServiceID = svc.ID
		entries[i].CreatedAt = now
		entries[i].UpdatedAt = now
		s.entries[entries[i].ID] = entries[i]
	}
	return nil
}

// =============================================================================
// TRANSACTION FEED
// =============================================================================

func (s *Store) GetTransaction(_ context.Context, id string) (*billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.feed[id]
	if !ok {
		return nil, nil
	}
	out := tx
	return &out, nil
}

func (s *Store) TransactionsInWindow(_ context.Context, from, to schedule.Date, limit, offset int) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []billing.Transaction
	for _, tx := range s.feed {
		if tx.Date.AfterOrEqual(from) && tx.Date.BeforeOrEqual(to) {
			all = append(all, tx)
		}
	}
	// ID breaks same-day ties so paging matches store/sqlite's
	// ORDER BY tx_date DESC, id.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) ImportTransactions(_ context.Context, txs []billing.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		s.feed[tx.ID] = tx
	}
	return nil
}

// =============================================================================
// COUNTERPARTS
// =============================================================================

func (s *Store) CreateCounterpart(_ context.Context, c *counterpart.Counterpart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCounterpartID++
	c.ID = s.nextCounterpartID
	if c.PublicID == "" {
		c.PublicID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	s.counterparts[c.ID] = *c
	return nil
}

func (s *Store) UpdateCounterpart(_ context.Context, c *counterpart.Counterpart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counterparts[c.ID]; !ok {
		return schedule.ErrCounterpartNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	s.counterparts[c.ID] = *c
	return nil
}

func (s *Store) GetCounterpart(_ context.Context, id int64) (*counterpart.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counterparts[id]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (s *Store) GetCounterpartByRUT(_ context.Context, normalizedRUT string) (*counterpart.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.counterparts {
		if c.IdentificationNumber == normalizedRUT {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListCounterparts(_ context.Context) ([]counterpart.Counterpart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]counterpart.Counterpart, 0, len(s.counterparts))
	for _, c := range s.counterparts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// COUNTERPART ACCOUNTS
// =============================================================================

func (s *Store) AccountsByCounterpart(_ context.Context, counterpartID int64) ([]counterpart.CounterpartAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []counterpart.CounterpartAccount
	for _, a := range s.accounts {
		if a.CounterpartID == counterpartID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAccountByNumber(_ context.Context, normalizedNumber string) (*counterpart.CounterpartAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.NormalizedNumber == normalizedNumber {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveAccount(_ context.Context, a *counterpart.CounterpartAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if a.ID == 0 {
		for id, existing := range s.accounts {
			if existing.NormalizedNumber == a.NormalizedNumber {
				a.ID = id
				a.CreatedAt = existing.CreatedAt
				break
			}
		}
	}
	if a.ID == 0 {
		s.nextAccountID++
		a.ID = s.nextAccountID
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.accounts[a.ID] = *a
	return nil
}

// =============================================================================
// PAYOUT AGGREGATES
// =============================================================================

func (s *Store) PayoutAccounts(_ context.Context, query string, unassignedOnly bool, limit, offset int) ([]counterpart.PayoutAccountRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.aggregateLocked()

	var filtered []counterpart.PayoutAccountRecord
	for _, rec := range records {
		if unassignedOnly && rec.CounterpartID != 0 {
			continue
		}
		if query != "" && !strings.Contains(rec.AccountNumber, counterpart.NormalizeAccountNumber(query)) {
			continue
		}
		filtered = append(filtered, rec)
	}

	total := len(filtered)
	if offset >= len(filtered) {
		return nil, total, nil
	}
	filtered = filtered[offset:]
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, total, nil
}

func (s *Store) PayoutAccountsByRUT(_ context.Context, normalizedRUT string) ([]counterpart.PayoutAccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []counterpart.PayoutAccountRecord
	for _, rec := range s.aggregateLocked() {
		if rec.ObservedRUT == normalizedRUT {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) ObservedRUT(_ context.Context, normalizedNumber string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.feed {
		if counterpart.NormalizeAccountNumber(tx.AccountNumber) == normalizedNumber && tx.ObservedRUT != "" {
			return counterpart.NormalizeRUT(tx.ObservedRUT), nil
		}
	}
	return "", nil
}

// aggregateLocked groups the feed by normalized account number, ordered by
// total amount then movement count descending. Caller holds the lock.
func (s *Store) aggregateLocked() []counterpart.PayoutAccountRecord {
	groups := make(map[string]*counterpart.PayoutAccountRecord)
	for _, tx := range s.feed {
		key := counterpart.NormalizeAccountNumber(tx.AccountNumber)
		if key == "" {
			continue
		}
		rec, ok := groups[key]
		if !ok {
			rec = &counterpart.PayoutAccountRecord{AccountNumber: key, TotalGrossAmount: decimal.Zero}
			groups[key] = rec
		}
		rec.MovementCount++
		rec.TotalGrossAmount = rec.TotalGrossAmount.Add(tx.Amount.Abs())
		if rec.ObservedRUT == "" && tx.ObservedRUT != "" {
			rec.ObservedRUT = counterpart.NormalizeRUT(tx.ObservedRUT)
		}
	}

	for key, rec := range groups {
		for _, a := range s.accounts {
			if a.NormalizedNumber != key {
				continue
			}
			cp, ok := s.counterparts[a.CounterpartID]
			if !ok {
				continue
			}
			rec.CounterpartID = cp.ID
			rec.CounterpartName = cp.BankAccountHolder
			if rec.ObservedRUT != "" && cp.IdentificationNumber != "" && rec.ObservedRUT != cp.IdentificationNumber {
				rec.Conflict = true
			}
		}
	}

	out := make([]counterpart.PayoutAccountRecord, 0, len(groups))
	for _, rec := range groups {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalGrossAmount.Equal(out[j].TotalGrossAmount) {
			return out[i].TotalGrossAmount.GreaterThan(out[j].TotalGrossAmount)
		}
		if out[i].MovementCount != out[j].MovementCount {
			return out[i].MovementCount > out[j].MovementCount
		}
		return out[i].AccountNumber < out[j].AccountNumber
	})
	return out
}
