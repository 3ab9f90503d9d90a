/*
matcher.go - Transaction match suggestions

PURPOSE:
  Proposes bank transactions that likely settle a schedule entry: amount
  within a tolerance window of the expected amount, date within a window
  around the due date, best candidates first.

ADVISORY SEMANTICS:
  Matching is a read-path convenience. A feed outage degrades to "no
  suggestions" rather than an error; only an unknown schedule entry is
  reported as such.

POLICY:
  The tolerance and window constants are configurable policy, not
  invariants - the defaults mirror what the intranet frontend assumed
  (1% or 100 pesos, +/-45 days, 8 suggestions).
*/
package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/schedule"
)

// Feed paging bounds for suggestion queries: never load the pool unbounded.
const (
	feedPageSize = 200
	feedMaxPages = 25
)

// =============================================================================
// MATCH POLICY
// =============================================================================

type MatchPolicy struct {
	TolerancePct   decimal.Decimal // fraction of expected amount (0.01 = 1%)
	ToleranceMin   decimal.Decimal // floor in pesos
	WindowDays     int             // days around the due date
	MaxSuggestions int
}

func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{
		TolerancePct:   decimal.NewFromFloat(0.01),
		ToleranceMin:   decimal.NewFromInt(100),
		WindowDays:     45,
		MaxSuggestions: 8,
	}
}

// Tolerance returns the allowed amount deviation for an expected amount:
// max(ToleranceMin, round(expected * TolerancePct)).
func (p MatchPolicy) Tolerance(expected decimal.Decimal) decimal.Decimal {
	pct := expected.Mul(p.TolerancePct).Round(0)
	if pct.GreaterThan(p.ToleranceMin) {
		return pct
	}
	return p.ToleranceMin
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// Suggestion pairs a candidate transaction with how far its amount sits from
// the expected amount.
type Suggestion struct {
	Transaction Transaction
	AmountDelta decimal.Decimal // abs(tx.Amount - expected)
}

// SuggestMatches filters and ranks a candidate pool against an entry. Pure
// function: the pool is whatever the caller fetched. Ordered by closeness of
// amount, then recency, capped at MaxSuggestions.
func SuggestMatches(entry ScheduleEntry, pool []Transaction, policy MatchPolicy) []Suggestion {
	tolerance := policy.Tolerance(entry.ExpectedAmount)
	from := entry.DueDate.AddDays(-policy.WindowDays)
	to := entry.DueDate.AddDays(policy.WindowDays)

	var out []Suggestion
	for _, tx := range pool {
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		delta := tx.Amount.Sub(entry.ExpectedAmount).Abs()
		if delta.GreaterThan(tolerance) {
			continue
		}
		out = append(out, Suggestion{Transaction: tx, AmountDelta: delta})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AmountDelta.Equal(out[j].AmountDelta) {
			return out[i].AmountDelta.LessThan(out[j].AmountDelta)
		}
		return out[i].Transaction.Date.After(out[j].Transaction.Date)
	})

	if policy.MaxSuggestions > 0 && len(out) > policy.MaxSuggestions {
		out = out[:policy.MaxSuggestions]
	}
	return out
}

// =============================================================================
// MATCHER - Suggestion service over the stored feed
// =============================================================================

type Matcher struct {
	store  Store
	feed   TransactionFeed
	policy MatchPolicy
}

func NewMatcher(store Store, feed TransactionFeed, policy MatchPolicy) *Matcher {
	return &Matcher{store: store, feed: feed, policy: policy}
}

// Suggest returns ranked candidates for one schedule entry, walking the feed
// mirror in pages. A feed failure yields an empty list, not an error.
func (m *Matcher) Suggest(ctx context.Context, entryID int64) ([]Suggestion, error) {
	entry, err := m.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %d", schedule.ErrScheduleNotFound, entryID)
	}

	from := entry.DueDate.AddDays(-m.policy.WindowDays)
	to := entry.DueDate.AddDays(m.policy.WindowDays)

	var pool []Transaction
	for page := 0; page < feedMaxPages; page++ {
		txs, err := m.feed.TransactionsInWindow(ctx, from, to, feedPageSize, page*feedPageSize)
		if err != nil {
			// Advisory read path: degrade to no suggestions.
			return []Suggestion{}, nil
		}
		pool = append(pool, txs...)
		if len(txs) < feedPageSize {
			break
		}
	}

	return SuggestMatches(*entry, pool, m.policy), nil
}
