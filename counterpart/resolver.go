/*
resolver.go - Account-to-counterpart reconciliation

PURPOSE:
  Assigns payout accounts observed in the transaction feed to counterparts
  keyed by RUT. Creates the counterpart when the RUT is new, reassigns
  accounts when told to, and reports - never auto-resolves - RUT conflicts.

CONFLICT RULE:
  An account whose feed-observed RUT disagrees with the RUT being assigned
  is NOT attached. It lands in the conflict list so the operator can decide
  whether to force the assignment through a corrected request.
*/
package counterpart

import (
	"context"
	"fmt"

	"github.com/andesfin/obligation-engine/schedule"
)

// Paging bounds for payout listings, matching how the intranet client pages.
const (
	maxPageSize = 200
	maxPages    = 25
)

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// AttachByRut associates payout accounts with the counterpart identified by
// the RUT, creating the counterpart first when the RUT is unknown. Accounts
// whose previously-observed RUT disagrees are surfaced as conflicts and left
// untouched.
func (r *Resolver) AttachByRut(ctx context.Context, rut string, accountNumbers []string) (*AttachResult, error) {
	normalizedRUT := NormalizeRUT(rut)
	if normalizedRUT == "" {
		return nil, schedule.Invalidf("rut", "required")
	}

	cp, err := r.store.GetCounterpartByRUT(ctx, normalizedRUT)
	if err != nil {
		return nil, err
	}
	created := false
	if cp == nil {
		cp = &Counterpart{IdentificationNumber: normalizedRUT}
		if err := r.store.CreateCounterpart(ctx, cp); err != nil {
			return nil, err
		}
		created = true
	}

	result := &AttachResult{Counterpart: cp, Created: created}
	if err := r.attachAccounts(ctx, cp, normalizedRUT, accountNumbers, result); err != nil {
		return nil, err
	}

	accounts, err := r.store.AccountsByCounterpart(ctx, cp.ID)
	if err != nil {
		return nil, err
	}
	result.Accounts = accounts
	return result, nil
}

// AttachToCounterpart is the REST-facing variant: the counterpart is chosen
// by id and the RUT must agree with the one it already carries. With no
// explicit account numbers, every feed account observed under the RUT is
// attached.
func (r *Resolver) AttachToCounterpart(ctx context.Context, counterpartID int64, rut string, accountNumbers []string) (*AttachResult, error) {
	normalizedRUT := NormalizeRUT(rut)
	if normalizedRUT == "" {
		return nil, schedule.Invalidf("rut", "required")
	}

	cp, err := r.store.GetCounterpart(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %d", schedule.ErrCounterpartNotFound, counterpartID)
	}

	if cp.IdentificationNumber == "" {
		cp.IdentificationNumber = normalizedRUT
		if err := r.store.UpdateCounterpart(ctx, cp); err != nil {
			return nil, err
		}
	} else if cp.IdentificationNumber != normalizedRUT {
		return nil, fmt.Errorf("%w: counterpart %d holds RUT %s, got %s",
			schedule.ErrRutConflict, counterpartID, cp.IdentificationNumber, normalizedRUT)
	}

	if len(accountNumbers) == 0 {
		records, err := r.store.PayoutAccountsByRUT(ctx, normalizedRUT)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			accountNumbers = append(accountNumbers, rec.AccountNumber)
		}
	}

	result := &AttachResult{Counterpart: cp}
	if err := r.attachAccounts(ctx, cp, normalizedRUT, accountNumbers, result); err != nil {
		return nil, err
	}

	accounts, err := r.store.AccountsByCounterpart(ctx, cp.ID)
	if err != nil {
		return nil, err
	}
	result.Accounts = accounts
	return result, nil
}

func (r *Resolver) attachAccounts(ctx context.Context, cp *Counterpart, normalizedRUT string, accountNumbers []string, result *AttachResult) error {
	seen := make(map[string]bool)
	for _, raw := range accountNumbers {
		normalized := NormalizeAccountNumber(raw)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true

		observed, err := r.store.ObservedRUT(ctx, normalized)
		if err != nil {
			return err
		}
		if observed != "" && observed != normalizedRUT {
			result.Conflicts = append(result.Conflicts, RutConflict{
				AccountNumber: normalized,
				ObservedRUT:   observed,
				AssignedRUT:   normalizedRUT,
			})
			continue
		}

		existing, err := r.store.GetAccountByNumber(ctx, normalized)
		if err != nil {
			return err
		}
		account := &CounterpartAccount{
			CounterpartID:    cp.ID,
			AccountNumber:    raw,
			NormalizedNumber: normalized,
		}
		if existing != nil {
			if existing.CounterpartID == cp.ID {
				continue // already ours
			}
			// Reassignment: an account belongs to one counterpart at a time.
			account = existing
			account.CounterpartID = cp.ID
		}
		if err := r.store.SaveAccount(ctx, account); err != nil {
			return err
		}
		result.Assigned++
	}
	return nil
}

// =============================================================================
// SUGGESTIONS & PAYOUT LISTING
// =============================================================================

// Suggestions ranks unassigned payout identifiers for manual review: highest
// total transacted amount first, then movement count. Advisory read path: a
// feed failure yields an empty list.
func (r *Resolver) Suggestions(ctx context.Context, query string, limit int) ([]PayoutAccountRecord, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 20
	}
	records, _, err := r.store.PayoutAccounts(ctx, query, true, limit, 0)
	if err != nil {
		return []PayoutAccountRecord{}, nil
	}
	return records, nil
}

// PayoutPage is one page of unassigned payout accounts.
type PayoutPage struct {
	Records  []PayoutAccountRecord
	Page     int
	PageSize int
	Total    int
}

// UnassignedPayout pages through unassigned payout accounts. Page is
// 1-based; page size is capped at 200 and pages beyond 25 come back empty
// rather than walking the feed unbounded.
func (r *Resolver) UnassignedPayout(ctx context.Context, query string, page, pageSize int) (*PayoutPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page > maxPages {
		return &PayoutPage{Records: []PayoutAccountRecord{}, Page: page, PageSize: pageSize}, nil
	}

	records, total, err := r.store.PayoutAccounts(ctx, query, true, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &PayoutPage{Records: records, Page: page, PageSize: pageSize, Total: total}, nil
}
