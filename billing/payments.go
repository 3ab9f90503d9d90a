/*
payments.go - Payment registration, unlink, skip, and manual edit

PURPOSE:
  State transitions on individual schedule entries. Entries are never
  deleted: they move between PENDING, PARTIAL, PAID, and SKIPPED. Every
  transition takes the parent service's keyed mutex, so payment mutations
  serialize against schedule regeneration on the same service.

TRANSITIONS:
  PENDING/PARTIAL --register--> PAID or PARTIAL
  PAID            --unlink----> PENDING (payment fields cleared)
  PENDING         --skip------> SKIPPED (terminal; reason kept in note)
  PENDING         --edit------> PENDING (amount/note only)
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/schedule"
)

// maxSkipReasonLen bounds the retained skip reason.
const maxSkipReasonLen = 500

// =============================================================================
// PAYMENTS
// =============================================================================

type Payments struct {
	store Store
	locks *KeyedMutex

	// now is swappable for tests.
	now func() schedule.Date
}

func NewPayments(store Store, locks *KeyedMutex) *Payments {
	return &Payments{store: store, locks: locks, now: schedule.Today}
}

func (p *Payments) loadEntry(ctx context.Context, entryID int64) (*ScheduleEntry, *Service, error) {
	entry, err := p.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, fmt.Errorf("%w: %d", schedule.ErrScheduleNotFound, entryID)
	}
	svc, err := p.store.GetServiceByID(ctx, entry.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	if svc == nil {
		return nil, nil, fmt.Errorf("%w: id %d", schedule.ErrServiceNotFound, entry.ServiceID)
	}
	return entry, svc, nil
}

// lockEntry takes the entry's parent service lock, then re-reads the entry
// under it. ServiceID never changes for an entry, so the unlocked first read
// is safe; re-reading catches a regeneration that replaced the row while we
// waited on the lock.
func (p *Payments) lockEntry(ctx context.Context, entryID int64) (*ScheduleEntry, *Service, func(), error) {
	ref, err := p.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, nil, nil, err
	}
	if ref == nil {
		return nil, nil, nil, fmt.Errorf("%w: %d", schedule.ErrScheduleNotFound, entryID)
	}

	unlock := p.locks.Lock(serviceKey(ref.ServiceID))
	entry, svc, err := p.loadEntry(ctx, entryID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return entry, svc, unlock, nil
}

// Register records a payment against an entry. The entry becomes PAID when
// the paid amount covers the effective amount (expected + late fee as of the
// paid date), PARTIAL otherwise. The transaction id is stored as a
// non-owning back-reference.
func (p *Payments) Register(ctx context.Context, entryID int64, transactionID string, paidAmount decimal.Decimal, paidDate schedule.Date, note string) (*ScheduleEntry, error) {
	if transactionID == "" {
		return nil, schedule.Invalidf("transactionId", "required")
	}
	if paidAmount.IsNegative() || paidAmount.IsZero() {
		return nil, schedule.Invalidf("paidAmount", "must be positive")
	}
	if paidDate.IsZero() {
		paidDate = p.now()
	}

	entry, svc, unlock, err := p.lockEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if entry.Status == StatusPaid || entry.Status == StatusSkipped {
		return nil, fmt.Errorf("%w: entry %d is %s", schedule.ErrAlreadyPaid, entryID, entry.Status)
	}

	assessment := entry.Assess(svc.LateFee, paidDate)
	if paidAmount.GreaterThanOrEqual(assessment.EffectiveAmount) {
		entry.Status = StatusPaid
	} else {
		entry.Status = StatusPartial
	}
	entry.PaidAmount = paidAmount
	entry.PaidDate = paidDate
	entry.TransactionID = transactionID
	if note != "" {
		entry.Note = note
	}

	if err := p.store.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unlink detaches a registered payment, returning the entry to PENDING.
// Only legal on a PAID entry that carries a transaction reference.
func (p *Payments) Unlink(ctx context.Context, entryID int64) (*ScheduleEntry, error) {
	entry, _, unlock, err := p.lockEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if entry.Status != StatusPaid || entry.TransactionID == "" {
		return nil, fmt.Errorf("%w: entry %d is %s", schedule.ErrNothingToUnlink, entryID, entry.Status)
	}

	entry.Status = StatusPending
	entry.PaidAmount = decimal.Zero
	entry.PaidDate = schedule.Date{}
	entry.TransactionID = ""

	if err := p.store.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Skip marks a pending entry as SKIPPED, keeping the reason in its note.
// Skipped entries never again count toward pending or overdue, and there is
// no un-skip: the transition is terminal.
func (p *Payments) Skip(ctx context.Context, entryID int64, reason string) (*ScheduleEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, schedule.Invalidf("reason", "required")
	}
	if utf8.RuneCountInString(reason) > maxSkipReasonLen {
		return nil, schedule.Invalidf("reason", "must be at most %d characters", maxSkipReasonLen)
	}

	entry, _, unlock, err := p.lockEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if entry.Status != StatusPending {
		return nil, fmt.Errorf("%w: entry %d is %s", schedule.ErrAlreadyPaid, entryID, entry.Status)
	}

	entry.Status = StatusSkipped
	entry.Note = reason

	if err := p.store.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Edit adjusts a pending entry's expected amount and/or note. Settled
// entries are immutable.
func (p *Payments) Edit(ctx context.Context, entryID int64, amount *decimal.Decimal, note *string) (*ScheduleEntry, error) {
	if amount != nil && amount.IsNegative() {
		return nil, schedule.Invalidf("expectedAmount", "must not be negative")
	}

	entry, _, unlock, err := p.lockEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if entry.Status != StatusPending {
		return nil, fmt.Errorf("%w: entry %d is %s", schedule.ErrAlreadyPaid, entryID, entry.Status)
	}

	if amount != nil {
		entry.ExpectedAmount = *amount
	}
	if note != nil {
		entry.Note = *note
	}

	if err := p.store.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
