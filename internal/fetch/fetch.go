// Package fetch pulls change records from the source with bounded retry.
package fetch

import (
	"context"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/retry"
	"github.com/dvloznov/splitwise-ledger/internal/splitwise"
)

// DefaultPageSize is the page size requested from the source.
const DefaultPageSize = 200

// Source is the paginated record source.
type Source interface {
	ListExpenses(ctx context.Context, q splitwise.ExpenseQuery) ([]domain.RawExpense, error)
}

// Fetcher walks every page of a collection. A failure on any page restarts
// the walk from the first page with the same parameters.
type Fetcher struct {
	source    Source
	policy    retry.Policy
	pageSize  int
	retryable func(error) bool
}

// New creates a Fetcher that retries transient source failures under policy.
func New(source Source, policy retry.Policy) *Fetcher {
	return &Fetcher{
		source:    source,
		policy:    policy,
		pageSize:  DefaultPageSize,
		retryable: splitwise.IsTransient,
	}
}

// WithPageSize overrides the page size.
func (f *Fetcher) WithPageSize(n int) *Fetcher {
	if n > 0 {
		f.pageSize = n
	}
	return f
}

// Fetch returns every record of collectionID modified strictly after since,
// or the whole collection when since is nil, in source order.
//
// Exhausted retries fail with domain.ErrSourceUnavailable. A credential
// rejection fails with domain.ErrCredentialMissing without retrying.
func (f *Fetcher) Fetch(ctx context.Context, collectionID string, since *time.Time) ([]domain.RawExpense, error) {
	log := logger.FromContext(ctx)

	var records []domain.RawExpense
	err := f.policy.Do(ctx, f.retryable, func(ctx context.Context, attempt int) error {
		var err error
		records, err = f.walk(ctx, collectionID, since)
		if err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", f.policy.MaxAttempts).
				Msg("Fetch attempt failed")
		}
		return err
	})
	if err != nil {
		if splitwise.IsUnauthorized(err) {
			return nil, domain.E(domain.ErrCredentialMissing, "Fetch", err)
		}
		return nil, domain.E(domain.ErrSourceUnavailable, "Fetch", err)
	}

	log.Info().
		Int("records", len(records)).
		Bool("incremental", since != nil).
		Msg("Fetched records from source")
	return records, nil
}

func (f *Fetcher) walk(ctx context.Context, collectionID string, since *time.Time) ([]domain.RawExpense, error) {
	var all []domain.RawExpense
	offset := 0
	for {
		page, err := f.source.ListExpenses(ctx, splitwise.ExpenseQuery{
			GroupID:      collectionID,
			UpdatedAfter: since,
			Limit:        f.pageSize,
			Offset:       offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < f.pageSize {
			return all, nil
		}
		offset += len(page)
	}
}
