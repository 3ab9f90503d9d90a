package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/counterpart"
	"github.com/andesfin/obligation-engine/schedule"
	"github.com/andesfin/obligation-engine/store/memory"
)

// Store is the composite interface the memory store satisfies.
var (
	_ billing.Store           = (*memory.Store)(nil)
	_ billing.TransactionFeed = (*memory.Store)(nil)
	_ counterpart.Store       = (*memory.Store)(nil)
)

func date(y int, m time.Month, d int) schedule.Date { return schedule.NewDate(y, m, d) }

func clp(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T, store *memory.Store) *billing.Service {
	t.Helper()
	svc := &billing.Service{
		Name:          "Office rent",
		Category:      "rent",
		Recurrence:    billing.RecurrenceRecurring,
		Frequency:     schedule.FreqMonthly,
		StartDate:     date(2024, time.January, 10),
		DueDay:        15,
		Emission:      schedule.FixedDayEmission(1),
		DefaultAmount: clp(500000),
		Indexation:    billing.IndexationNone,
		LateFee:       schedule.NoFee(),
	}
	require.NoError(t, store.CreateService(context.Background(), svc))
	return svc
}

func newGenerator(store *memory.Store) *billing.Generator {
	return billing.NewGenerator(store, billing.StaticRateSource{Rate: clp(37000)}, billing.NewKeyedMutex())
}

func TestGenerate_MonthlyProducesRequestedEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newTestService(t, store)
	gen := newGenerator(store)

	_, entries, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	wantDue := []schedule.Date{
		date(2024, time.January, 15),
		date(2024, time.February, 15),
		date(2024, time.March, 15),
	}
	for i, e := range entries {
		assert.Equal(t, billing.StatusPending, e.Status)
		assert.True(t, e.DueDate.Equal(wantDue[i]), "entry %d due %s, want %s", i, e.DueDate, wantDue[i])
		assert.True(t, e.ExpectedAmount.Equal(clp(500000)))
	}
}

func TestGenerate_OnceYieldsSingleEntryRegardlessOfCount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := &billing.Service{
		Name:          "Notary fee",
		Recurrence:    billing.RecurrenceOneOff,
		Frequency:     schedule.FreqOnce,
		StartDate:     date(2024, time.June, 1),
		Emission:      schedule.SpecificDateEmission(date(2024, time.June, 1)),
		DefaultAmount: clp(120000),
		Indexation:    billing.IndexationNone,
		LateFee:       schedule.NoFee(),
	}
	require.NoError(t, store.CreateService(ctx, svc))

	_, entries, err := newGenerator(store).Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 12})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].DueDate.Equal(date(2024, time.June, 1)))
}

func TestGenerate_IdempotentAndPreservesSettledHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newTestService(t, store)
	gen := newGenerator(store)

	_, entries, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Settle the first entry.
	paid := entries[0]
	paid.Status = billing.StatusPaid
	paid.PaidAmount = clp(500000)
	paid.PaidDate = date(2024, time.January, 14)
	paid.TransactionID = "tx-1"
	require.NoError(t, store.UpdateEntry(ctx, &paid))

	// Regenerate with identical parameters.
	_, after, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 3})
	require.NoError(t, err)
	require.Len(t, after, 3, "regeneration must not duplicate entries")

	// The settled entry survives untouched, including its row identity.
	assert.Equal(t, paid.ID, after[0].ID)
	assert.Equal(t, billing.StatusPaid, after[0].Status)
	assert.Equal(t, "tx-1", after[0].TransactionID)

	// Pending entries were replaced but cover the same periods.
	assert.Equal(t, billing.StatusPending, after[1].Status)
	assert.True(t, after[1].DueDate.Equal(date(2024, time.February, 15)))
}

func TestGenerate_UFIndexationFreezesConvertedAmount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := &billing.Service{
		Name:          "UF-indexed lease",
		Recurrence:    billing.RecurrenceRecurring,
		Frequency:     schedule.FreqMonthly,
		StartDate:     date(2024, time.January, 1),
		Emission:      schedule.FixedDayEmission(1),
		DefaultAmount: decimal.NewFromFloat(10.5), // UF
		Indexation:    billing.IndexationUF,
		LateFee:       schedule.NoFee(),
	}
	require.NoError(t, store.CreateService(ctx, svc))

	gen := billing.NewGenerator(store, billing.StaticRateSource{Rate: clp(37000)}, billing.NewKeyedMutex())
	_, entries, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// 10.5 UF * 37000 = 388500 CLP, frozen per entry.
	for _, e := range entries {
		assert.True(t, e.ExpectedAmount.Equal(clp(388500)), "got %s", e.ExpectedAmount)
	}
}

func TestGenerate_UFRateUnavailableFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := &billing.Service{
		Name:          "UF-indexed lease",
		Recurrence:    billing.RecurrenceRecurring,
		Frequency:     schedule.FreqMonthly,
		StartDate:     date(2024, time.January, 1),
		Emission:      schedule.FixedDayEmission(1),
		DefaultAmount: decimal.NewFromInt(10),
		Indexation:    billing.IndexationUF,
		LateFee:       schedule.NoFee(),
	}
	require.NoError(t, store.CreateService(ctx, svc))

	// Static source with no rate simulates an unreachable origin and no cache.
	gen := billing.NewGenerator(store, billing.StaticRateSource{}, billing.NewKeyedMutex())
	_, _, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 2})
	assert.ErrorIs(t, err, schedule.ErrRateUnavailable)

	// Nothing was written.
	entries, err := store.EntriesByService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_CachedRateSourceFallsBack(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyRateSource{rate: clp(36900)}
	cached := billing.NewCachedRateSource(flaky)

	rate, err := cached.UFRate(ctx, date(2024, time.January, 1))
	require.NoError(t, err)
	assert.True(t, rate.Equal(clp(36900)))

	flaky.down = true
	rate, err = cached.UFRate(ctx, date(2024, time.January, 2))
	require.NoError(t, err, "cached rate should serve while origin is down")
	assert.True(t, rate.Equal(clp(36900)))
}

func TestGenerate_InvalidOverridesRejectedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newTestService(t, store)
	gen := newGenerator(store)

	neg := clp(-1)
	_, _, err := gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 3, DefaultAmount: &neg})
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration)

	badDay := 32
	_, _, err = gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 3, DueDay: &badDay})
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration)

	once := schedule.FreqOnce
	_, _, err = gen.Generate(ctx, svc.PublicID, billing.GenerateInput{Months: 3, Frequency: &once})
	assert.ErrorIs(t, err, schedule.ErrInvalidConfiguration,
		"RECURRING service cannot switch to ONCE")

	entries, err := store.EntriesByService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "no entries may be written on validation failure")
}

func TestGenerate_UnknownServiceFails(t *testing.T) {
	gen := newGenerator(memory.New())
	_, _, err := gen.Generate(context.Background(), "nope", billing.GenerateInput{Months: 3})
	assert.ErrorIs(t, err, schedule.ErrServiceNotFound)
}

// flakyRateSource toggles between serving a rate and failing.
type flakyRateSource struct {
	rate decimal.Decimal
	down bool
}

func (f *flakyRateSource) UFRate(ctx context.Context, on schedule.Date) (decimal.Decimal, error) {
	if f.down {
		return decimal.Zero, schedule.ErrRateUnavailable
	}
	return f.rate, nil
}
