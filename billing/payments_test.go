package billing_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/schedule"
	"github.com/andesfin/obligation-engine/store/memory"
)

// setupEntry generates one pending entry with a FIXED late fee policy.
func setupEntry(t *testing.T) (*memory.Store, *billing.Payments, billing.ScheduleEntry) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	svc := &billing.Service{
		Name:          "Internet",
		Recurrence:    billing.RecurrenceRecurring,
		Frequency:     schedule.FreqMonthly,
		StartDate:     date(2024, time.January, 10),
		DueDay:        15,
		Emission:      schedule.FixedDayEmission(1),
		DefaultAmount: clp(80000),
		Indexation:    billing.IndexationNone,
		LateFee:       schedule.FeePolicy{Mode: schedule.FeeFixed, Value: clp(5000), GraceDays: 3},
	}
	require.NoError(t, store.CreateService(ctx, svc))

	_, entries, err := newGenerator(store).Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	return store, billing.NewPayments(store, billing.NewKeyedMutex()), entries[0]
}

func TestRegister_FullAmountSetsPaid(t *testing.T) {
	_, payments, entry := setupEntry(t)

	got, err := payments.Register(context.Background(), entry.ID, "tx-1", clp(80000), date(2024, time.January, 14), "")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got.Status)
	assert.Equal(t, "tx-1", got.TransactionID)
	assert.True(t, got.PaidAmount.Equal(clp(80000)))
}

func TestRegister_PartialAmountSetsPartial(t *testing.T) {
	_, payments, entry := setupEntry(t)

	got, err := payments.Register(context.Background(), entry.ID, "tx-1", clp(30000), date(2024, time.January, 14), "")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartial, got.Status)
}

func TestRegister_EffectiveAmountIncludesLateFee(t *testing.T) {
	// GIVEN: Entry due 2024-01-15, FIXED fee 5000, grace 3
	// WHEN: Paying the bare expected amount on 2024-01-20 (5 days overdue)
	// THEN: The payment falls short of effective (85000) and lands PARTIAL
	_, payments, entry := setupEntry(t)

	got, err := payments.Register(context.Background(), entry.ID, "tx-1", clp(80000), date(2024, time.January, 20), "")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartial, got.Status)

	// Paying effective in full settles it.
	_, err = payments.Unlink(context.Background(), entry.ID)
	assert.Error(t, err, "partial entries cannot be unlinked")

	got, err = payments.Register(context.Background(), entry.ID, "tx-2", clp(85000), date(2024, time.January, 20), "")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got.Status)
}

func TestRegister_DoublePayFailsWithAlreadyPaid(t *testing.T) {
	_, payments, entry := setupEntry(t)
	ctx := context.Background()

	_, err := payments.Register(ctx, entry.ID, "tx-1", clp(80000), date(2024, time.January, 14), "")
	require.NoError(t, err)

	_, err = payments.Register(ctx, entry.ID, "tx-2", clp(80000), date(2024, time.January, 15), "")
	assert.ErrorIs(t, err, schedule.ErrAlreadyPaid)
}

func TestRegister_Validation(t *testing.T) {
	_, payments, entry := setupEntry(t)
	ctx := context.Background()

	_, err := payments.Register(ctx, entry.ID, "", clp(80000), date(2024, time.January, 14), "")
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration)

	_, err = payments.Register(ctx, entry.ID, "tx-1", clp(-5), date(2024, time.January, 14), "")
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration)
}

func TestUnlink_ResetsToPending(t *testing.T) {
	_, payments, entry := setupEntry(t)
	ctx := context.Background()

	_, err := payments.Register(ctx, entry.ID, "tx-1", clp(80000), date(2024, time.January, 14), "")
	require.NoError(t, err)

	got, err := payments.Unlink(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, got.Status)
	assert.Empty(t, got.TransactionID)
	assert.True(t, got.PaidAmount.IsZero())
	assert.True(t, got.PaidDate.IsZero())
}

func TestUnlink_PendingEntryFailsWithNothingToUnlink(t *testing.T) {
	_, payments, entry := setupEntry(t)

	_, err := payments.Unlink(context.Background(), entry.ID)
	assert.ErrorIs(t, err, schedule.ErrNothingToUnlink)
}

func TestSkip_RequiresReason(t *testing.T) {
	_, payments, entry := setupEntry(t)
	ctx := context.Background()

	_, err := payments.Skip(ctx, entry.ID, "   ")
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration)

	_, err = payments.Skip(ctx, entry.ID, strings.Repeat("x", 501))
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration)

	// 400 accented characters span 800 bytes; the limit counts characters.
	got, err := payments.Skip(ctx, entry.ID, strings.Repeat("ñ", 400))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSkipped, got.Status)
}

func TestSkip_ExcludedFromCountsForever(t *testing.T) {
	store, payments, entry := setupEntry(t)
	ctx := context.Background()

	got, err := payments.Skip(ctx, entry.ID, "billed on the wrong service")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSkipped, got.Status)
	assert.Equal(t, "billed on the wrong service", got.Note)

	entries, err := store.EntriesByService(ctx, entry.ServiceID)
	require.NoError(t, err)
	counts := billing.CountEntries(entries, date(2030, time.January, 1))
	assert.Zero(t, counts.Pending)
	assert.Zero(t, counts.Overdue)
	assert.Equal(t, 1, counts.Skipped)

	// Terminal: skipped entries cannot be paid or re-skipped.
	_, err = payments.Register(ctx, entry.ID, "tx-1", clp(80000), date(2024, time.February, 1), "")
	assert.ErrorIs(t, err, schedule.ErrAlreadyPaid)
	_, err = payments.Skip(ctx, entry.ID, "again")
	assert.ErrorIs(t, err, schedule.ErrAlreadyPaid)
}

func TestEdit_PendingOnly(t *testing.T) {
	_, payments, entry := setupEntry(t)
	ctx := context.Background()

	amount := clp(90000)
	note := "adjusted for new contract"
	got, err := payments.Edit(ctx, entry.ID, &amount, &note)
	require.NoError(t, err)
	assert.True(t, got.ExpectedAmount.Equal(clp(90000)))
	assert.Equal(t, note, got.Note)

	_, err = payments.Register(ctx, entry.ID, "tx-1", clp(90000), date(2024, time.January, 14), "")
	require.NoError(t, err)

	_, err = payments.Edit(ctx, entry.ID, &amount, nil)
	assert.ErrorIs(t, err, schedule.ErrAlreadyPaid)
}

// pausingStore holds ReplaceSchedule until released, so a regeneration can
// be caught mid-write.
type pausingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (s *pausingStore) ReplaceSchedule(ctx context.Context, svc *billing.Service, entries []billing.ScheduleEntry) error {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.ReplaceSchedule(ctx, svc, entries)
}

func TestRegister_SerializesAgainstRegeneration(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := &billing.Service{
		Name:          "Internet",
		Recurrence:    billing.RecurrenceRecurring,
		Frequency:     schedule.FreqMonthly,
		StartDate:     date(2024, time.January, 10),
		DueDay:        15,
		Emission:      schedule.FixedDayEmission(1),
		DefaultAmount: clp(80000),
		Indexation:    billing.IndexationNone,
		LateFee:       schedule.NoFee(),
	}
	require.NoError(t, store.CreateService(ctx, svc))

	locks := billing.NewKeyedMutex()
	rates := billing.StaticRateSource{Rate: clp(37000)}
	_, entries, err := billing.NewGenerator(store, rates, locks).Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	paused := &pausingStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	gen := billing.NewGenerator(paused, rates, locks)
	payments := billing.NewPayments(store, locks)

	genDone := make(chan error, 1)
	go func() {
		_, _, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 1})
		genDone <- err
	}()
	<-paused.entered // the regeneration holds the service lock mid-write

	payDone := make(chan error, 1)
	go func() {
		_, err := payments.Register(ctx, entries[0].ID, "tx-1", clp(80000), date(2024, time.January, 14), "")
		payDone <- err
	}()

	select {
	case err := <-payDone:
		t.Fatalf("payment landed during regeneration (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(paused.release)
	require.NoError(t, <-genDone)

	// The regeneration replaced the pending row, so the waiting payment
	// finds its entry gone instead of settling a row that a duplicate
	// pending entry would shadow.
	err = <-payDone
	assert.ErrorIs(t, err, schedule.ErrScheduleNotFound)

	after, err := store.EntriesByService(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, after, 1, "one entry per period")
	assert.Equal(t, billing.StatusPending, after[0].Status)
}

func TestAssess_NonPendingEntriesNeverAccrue(t *testing.T) {
	policy := schedule.FeePolicy{Mode: schedule.FeeFixed, Value: clp(5000), GraceDays: 0}
	entry := billing.ScheduleEntry{
		DueDate:        date(2024, time.January, 15),
		ExpectedAmount: clp(80000),
		Status:         billing.StatusPaid,
	}

	a := entry.Assess(policy, date(2024, time.June, 1))
	assert.Zero(t, a.OverdueDays)
	assert.True(t, a.LateFeeAmount.IsZero())
	assert.True(t, a.EffectiveAmount.Equal(clp(80000)))
}
