// Package scd applies a batch of entries as new SCD2 versions.
//
// Every key present in the batch is closed out and re-inserted, whether or
// not any field changed. Re-running the same batch after a failure between
// close-out and insert converges: the close-out finds nothing or only the
// partially inserted rows, and the insert writes the full set again.
package scd

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
)

// Manager sequences close-out before insert.
type Manager struct {
	store storage.Writer
	now   func() time.Time
}

// New creates a Manager writing through store.
func New(store storage.Writer) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Result reports what Apply did.
type Result struct {
	CommitTime time.Time
	Superseded storage.Superseded
	Inserted   storage.Inserted
	Duplicates int
}

// Apply supersedes the current versions of every key in entries and inserts
// entries as the new current versions. An empty batch performs no writes.
// On error the returned Result holds whatever was applied before the failure.
func (m *Manager) Apply(ctx context.Context, entries []domain.Entry) (Result, error) {
	log := logger.FromContext(ctx)

	batch, dups := Dedupe(entries)
	res := Result{Duplicates: dups}
	if dups > 0 {
		log.Warn().Int("duplicates", dups).Msg("Discarded earlier occurrences of repeated ids in batch")
	}
	if len(batch) == 0 {
		return res, nil
	}

	keys := make([]domain.Key, len(batch))
	for i := range batch {
		keys[i] = batch[i].Transaction.Key()
		stamp(&batch[i])
	}

	res.CommitTime = m.now().UTC()
	superseded, err := m.store.CloseOut(ctx, keys, res.CommitTime)
	if err != nil {
		return res, fmt.Errorf("close-out: %w", err)
	}
	res.Superseded = superseded
	log.Info().
		Int("transactions", superseded.Transactions).
		Int("payments", superseded.Payments).
		Msg("Closed out current versions")

	inserted, err := m.store.InsertVersions(ctx, batch)
	res.Inserted = inserted
	if err != nil {
		return res, fmt.Errorf("insert versions: %w", err)
	}
	log.Info().
		Int("transactions", inserted.Transactions).
		Int("payments", inserted.Payments).
		Msg("Inserted new versions")
	return res, nil
}

// Dedupe keeps the last occurrence of each key, at the position of that last
// occurrence, and reports how many earlier occurrences were dropped.
func Dedupe(entries []domain.Entry) ([]domain.Entry, int) {
	last := make(map[domain.Key]int, len(entries))
	for i, e := range entries {
		last[e.Transaction.Key()] = i
	}
	out := make([]domain.Entry, 0, len(last))
	for i, e := range entries {
		if last[e.Transaction.Key()] == i {
			out = append(out, e)
		}
	}
	return out, len(entries) - len(out)
}

// stamp makes e a fresh current version starting at its last modification.
func stamp(e *domain.Entry) {
	v := domain.Version{VersionStart: e.Transaction.LastModifiedAt, IsCurrent: true}
	e.Transaction.Version = v
	payments := make([]domain.UserPayment, len(e.Payments))
	for i, p := range e.Payments {
		p.Version = v
		payments[i] = p
	}
	e.Payments = payments
}
