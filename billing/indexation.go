package billing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/schedule"
)

// =============================================================================
// UF INDEXATION - External rate source collaborator
// =============================================================================

// RateSource provides the UF->CLP conversion rate for a date. The UF (Unidad
// de Fomento) is Chile's inflation-indexed unit; services priced in UF are
// converted to pesos at generation time and frozen per entry.
type RateSource interface {
	UFRate(ctx context.Context, on schedule.Date) (decimal.Decimal, error)
}

// StaticRateSource always returns a fixed rate. Used in tests and as a
// deliberate pin when no live source is configured.
type StaticRateSource struct {
	Rate decimal.Decimal
}

func (s StaticRateSource) UFRate(ctx context.Context, on schedule.Date) (decimal.Decimal, error) {
	if s.Rate.IsZero() {
		return decimal.Zero, schedule.ErrRateUnavailable
	}
	return s.Rate, nil
}

// CachedRateSource decorates a RateSource with last-known-rate fallback:
// when the origin fails but a rate was fetched before, generation proceeds
// with the cached rate. With no cached rate it fails closed.
type CachedRateSource struct {
	Source RateSource

	mu   sync.Mutex
	last decimal.Decimal
	ok   bool
}

func NewCachedRateSource(src RateSource) *CachedRateSource {
	return &CachedRateSource{Source: src}
}

func (c *CachedRateSource) UFRate(ctx context.Context, on schedule.Date) (decimal.Decimal, error) {
	rate, err := c.Source.UFRate(ctx, on)
	if err == nil {
		c.mu.Lock()
		c.last, c.ok = rate, true
		c.mu.Unlock()
		return rate, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok {
		return c.last, nil
	}
	return decimal.Zero, schedule.ErrRateUnavailable
}
