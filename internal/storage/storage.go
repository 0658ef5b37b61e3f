// Package storage defines the contract every store backend implements.
package storage

import (
	"context"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// DefaultBatchSize is the number of entries inserted per chunk.
const DefaultBatchSize = 500

// Superseded counts rows closed out by one CloseOut call.
type Superseded struct {
	Transactions int
	Payments     int
}

// Inserted counts rows written as new current versions.
type Inserted struct {
	Transactions int
	Payments     int
}

// Add accumulates another chunk's counts.
func (i *Inserted) Add(o Inserted) {
	i.Transactions += o.Transactions
	i.Payments += o.Payments
}

// Writer is the write half of a store.
type Writer interface {
	// CloseOut marks every current transaction in keys, and every current
	// payment of those transactions, as superseded at the given time. It is
	// applied atomically.
	CloseOut(ctx context.Context, keys []domain.Key, at time.Time) (Superseded, error)
	// InsertVersions inserts entries as current rows in chunks. A failed
	// chunk aborts the rest; chunks already written stay written.
	InsertVersions(ctx context.Context, entries []domain.Entry) (Inserted, error)
}

// Reader is the read half of a store.
type Reader interface {
	// LastCurrentUpdate returns the newest version_start among the current
	// transactions of the collection, or nil when it cannot be answered.
	LastCurrentUpdate(ctx context.Context, collectionID string) *time.Time
	CurrentTransactions(ctx context.Context, collectionID string) ([]domain.Transaction, error)
	CurrentBalances(ctx context.Context, collectionID string) ([]domain.Balance, error)
	History(ctx context.Context, key domain.Key) ([]domain.Transaction, error)
}

// Gateway is a complete store backend.
type Gateway interface {
	Reader
	Writer
	// EnsureSchema creates the target tables when missing. Safe to repeat.
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Chunks splits entries into consecutive slices of at most size entries.
func Chunks(entries []domain.Entry, size int) [][]domain.Entry {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]domain.Entry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[start:end])
	}
	return chunks
}
