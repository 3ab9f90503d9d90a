/*
generator.go - Schedule generation and regeneration

PURPOSE:
  Expands a Service into its ScheduleEntry rows: period boundaries from the
  recurrence calendar, due dates from the dueDay rule, emission dates from
  the emission policy, amounts from the default amount subject to UF
  indexation.

INVARIANTS:
  1. Idempotent: regenerating with identical parameters yields the same
     pending rows and never duplicates settled history.
  2. Settled history is untouched: periods already covered by a
     PAID/PARTIAL/SKIPPED entry are skipped, never overwritten.
  3. Atomic: all new PENDING rows commit together or not at all.
  4. Serialized: one regeneration per service at a time.

SEE ALSO:
  - schedule/calendar.go: period and due-date math
  - indexation.go: UF rate source with last-known fallback
*/
package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/schedule"
)

// defaultOccurrences is used when a generation request does not say how far
// ahead to schedule.
const defaultOccurrences = 12

// maxOccurrences bounds a single generation request.
const maxOccurrences = 120

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	store Store
	rates RateSource
	locks *KeyedMutex

	// now is swappable for tests.
	now func() schedule.Date
}

func NewGenerator(store Store, rates RateSource, locks *KeyedMutex) *Generator {
	return &Generator{store: store, rates: rates, locks: locks, now: schedule.Today}
}

// GenerateInput carries the regeneration overrides. Nil pointer = keep the
// service's current value. Overrides are persisted onto the service: a
// regeneration is also a config mutation.
type GenerateInput struct {
	Months        int // occurrence count; 0 = default
	StartDate     *schedule.Date
	DefaultAmount *decimal.Decimal
	DueDay        *int
	Frequency     *schedule.Frequency
	EmissionDay   *int // only meaningful for FIXED_DAY emission
}

func (in GenerateInput) validate(svc *Service) error {
	if in.Months < 0 || in.Months > maxOccurrences {
		return schedule.Invalidf("months", "must be between 1 and %d, got %d", maxOccurrences, in.Months)
	}
	if in.DefaultAmount != nil && in.DefaultAmount.IsNegative() {
		return schedule.Invalidf("defaultAmount", "must not be negative")
	}
	if in.DueDay != nil && (*in.DueDay < 0 || *in.DueDay > 31) {
		return schedule.Invalidf("dueDay", "must be between 1 and 31 or 0 to unset, got %d", *in.DueDay)
	}
	if in.Frequency != nil {
		if !in.Frequency.Valid() {
			return schedule.Invalidf("frequency", "unknown %q", string(*in.Frequency))
		}
		if svc.Recurrence == RecurrenceOneOff && *in.Frequency != schedule.FreqOnce {
			return schedule.Invalidf("frequency", "ONE_OFF services must use ONCE")
		}
	}
	if in.EmissionDay != nil {
		if svc.Emission.Mode != schedule.EmissionFixedDay {
			return schedule.Invalidf("emissionDay", "only valid for FIXED_DAY emission")
		}
		if *in.EmissionDay < 1 || *in.EmissionDay > 31 {
			return schedule.Invalidf("emissionDay", "must be between 1 and 31, got %d", *in.EmissionDay)
		}
	}
	return nil
}

// apply writes the overrides onto the service.
func (in GenerateInput) apply(svc *Service) {
	if in.StartDate != nil {
		svc.StartDate = *in.StartDate
	}
	if in.DefaultAmount != nil {
		svc.DefaultAmount = *in.DefaultAmount
	}
	if in.DueDay != nil {
		svc.DueDay = *in.DueDay
	}
	if in.Frequency != nil {
		svc.Frequency = *in.Frequency
	}
	if in.EmissionDay != nil {
		svc.Emission = schedule.FixedDayEmission(*in.EmissionDay)
	}
}

// Generate builds or rebuilds the service's schedule. Pending entries are
// replaced wholesale; settled entries and the periods they cover are
// preserved. Returns the updated service and its full entry list ordered by
// due date.
func (g *Generator) Generate(ctx context.Context, publicID string, in GenerateInput) (*Service, []ScheduleEntry, error) {
	svc, err := g.store.GetService(ctx, publicID)
	if err != nil {
		return nil, nil, err
	}
	if svc == nil {
		return nil, nil, fmt.Errorf("%w: %s", schedule.ErrServiceNotFound, publicID)
	}

	if err := in.validate(svc); err != nil {
		return nil, nil, err
	}
	in.apply(svc)
	if err := svc.Validate(); err != nil {
		return nil, nil, err
	}

	unlock := g.locks.Lock(serviceKey(svc.ID))
	defer unlock()

	count := in.Months
	if count == 0 {
		count = defaultOccurrences
	}
	// ONE_OFF and ONCE collapse to a single occurrence regardless of the
	// requested horizon.
	if svc.Recurrence == RecurrenceOneOff || svc.Frequency == schedule.FreqOnce {
		count = 1
	}

	amount, err := g.entryAmount(ctx, svc)
	if err != nil {
		return nil, nil, err
	}

	existing, err := g.store.EntriesByService(ctx, svc.ID)
	if err != nil {
		return nil, nil, err
	}
	var settled []ScheduleEntry
	for i := range existing {
		if existing[i].Status.Settled() {
			settled = append(settled, existing[i])
		}
	}

	fresh, err := g.buildEntries(svc, count, amount, settled)
	if err != nil {
		return nil, nil, err
	}

	// The service config (with any overrides applied) and the pending
	// replacement commit together or not at all.
	if err := g.store.ReplaceSchedule(ctx, svc, fresh); err != nil {
		return nil, nil, err
	}

	entries, err := g.store.EntriesByService(ctx, svc.ID)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DueDate.Before(entries[j].DueDate)
	})
	return svc, entries, nil
}

// entryAmount resolves the per-entry expected amount, converting UF-priced
// services to pesos at today's rate. The converted amount is frozen per
// entry and never re-indexed on later reads.
func (g *Generator) entryAmount(ctx context.Context, svc *Service) (decimal.Decimal, error) {
	if svc.Indexation != IndexationUF {
		return svc.DefaultAmount, nil
	}
	rate, err := g.rates.UFRate(ctx, g.now())
	if err != nil {
		return decimal.Zero, err
	}
	return svc.DefaultAmount.Mul(rate).Round(0), nil
}

func (g *Generator) buildEntries(svc *Service, count int, amount decimal.Decimal, settled []ScheduleEntry) ([]ScheduleEntry, error) {
	entries := make([]ScheduleEntry, 0, count)
	for n := 0; n < count; n++ {
		period := schedule.PeriodFor(svc.StartDate, svc.Frequency, n)
		if coveredBySettled(period, settled) {
			continue
		}

		emission, err := svc.Emission.Resolve(period)
		if err != nil {
			return nil, err
		}

		entries = append(entries, ScheduleEntry{
			ServiceID:      svc.ID,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			DueDate:        schedule.DueDateFor(period, svc.Frequency, svc.DueDay),
			EmissionDate:   emission,
			ExpectedAmount: amount,
			Status:         StatusPending,
		})
	}
	return entries, nil
}

// coveredBySettled reports whether a candidate period overlaps settled
// history. Such periods are skipped: no duplication, no overwrite.
func coveredBySettled(p schedule.Period, settled []ScheduleEntry) bool {
	for i := range settled {
		if p.Overlaps(settled[i].Period()) {
			return true
		}
	}
	return false
}

func serviceKey(id int64) string { return fmt.Sprintf("service:%d", id) }
