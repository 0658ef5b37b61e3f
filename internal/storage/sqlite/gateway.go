// Package sqlite is the SQLite store backend. SQLite admits a single writer,
// so every write goes through one serialized, retrying session.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/retry"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
)

// tsLayout is fixed width so that text comparison orders timestamps.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// Options configures a Gateway.
type Options struct {
	BatchSize int
	// Policy bounds retries while the writer lock is held elsewhere.
	Policy retry.Policy
}

// Gateway implements storage.Gateway over a SQLite file.
type Gateway struct {
	path      string
	db        *sql.DB // writer, one connection, BEGIN IMMEDIATE
	ro        *sql.DB // read-only, fails fast
	batchSize int
	policy    retry.Policy

	mu    sync.Mutex
	begin func(ctx context.Context) (*sql.Tx, error)

	schemaMu    sync.Mutex
	schemaReady bool
}

var _ storage.Gateway = (*Gateway)(nil)

// Open prepares a gateway for the database at path. Nothing touches the
// file until the first read or write.
func Open(path string, opts Options) (*Gateway, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Busy handling is ours: the driver must report SQLITE_BUSY immediately.
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=0&_txlock=immediate&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	ro, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=0", path))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = storage.DefaultBatchSize
	}
	g := &Gateway{
		path:      path,
		db:        db,
		ro:        ro,
		batchSize: opts.BatchSize,
		policy:    opts.Policy,
	}
	g.begin = func(ctx context.Context) (*sql.Tx, error) {
		return g.db.BeginTx(ctx, nil)
	}
	return g, nil
}

// Close releases both connection pools.
func (g *Gateway) Close() error {
	return errors.Join(g.db.Close(), g.ro.Close())
}

// isBusyErr reports whether err is SQLite lock contention, raw or already classified.
func isBusyErr(err error) bool {
	if errors.Is(err, domain.ErrStorageBusy) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// writeTx runs fn in one immediate transaction. Lock contention is retried
// under the gateway policy and surfaces as ErrStorageUnavailable once the
// attempts run out; every other failure is returned at once as
// ErrStorageUnavailable.
func (g *Gateway) writeTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := g.EnsureSchema(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	log := logger.FromContext(ctx)
	err := g.policy.Do(ctx, isBusyErr, func(ctx context.Context, attempt int) error {
		err := g.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Store is busy")
			return domain.E(domain.ErrStorageBusy, op, err)
		}
		return err
	})
	if err != nil {
		return domain.E(domain.ErrStorageUnavailable, op, err)
	}
	return nil
}

func (g *Gateway) attempt(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CloseOut supersedes the current versions of keys in one transaction.
func (g *Gateway) CloseOut(ctx context.Context, keys []domain.Key, at time.Time) (storage.Superseded, error) {
	var res storage.Superseded
	if len(keys) == 0 {
		return res, nil
	}
	end := formatTime(at)

	err := g.writeTx(ctx, "CloseOut", func(tx *sql.Tx) error {
		res = storage.Superseded{}
		txStmt, err := tx.PrepareContext(ctx, `
			UPDATE transactions SET is_current = 0, version_end = ?
			WHERE collection_id = ? AND id = ? AND is_current = 1`)
		if err != nil {
			return fmt.Errorf("prepare transactions close-out: %w", err)
		}
		defer txStmt.Close()

		payStmt, err := tx.PrepareContext(ctx, `
			UPDATE user_payments SET is_current = 0, version_end = ?
			WHERE collection_id = ? AND transaction_id = ? AND is_current = 1`)
		if err != nil {
			return fmt.Errorf("prepare payments close-out: %w", err)
		}
		defer payStmt.Close()

		for _, k := range keys {
			n, err := execCount(ctx, txStmt, end, k.CollectionID, k.ID)
			if err != nil {
				return fmt.Errorf("close out transaction %s: %w", k.ID, err)
			}
			res.Transactions += n
			n, err = execCount(ctx, payStmt, end, k.CollectionID, k.ID)
			if err != nil {
				return fmt.Errorf("close out payments of %s: %w", k.ID, err)
			}
			res.Payments += n
		}
		return nil
	})
	if err != nil {
		return storage.Superseded{}, err
	}
	return res, nil
}

// InsertVersions writes entries chunk by chunk, one transaction per chunk.
func (g *Gateway) InsertVersions(ctx context.Context, entries []domain.Entry) (storage.Inserted, error) {
	log := logger.FromContext(ctx)
	var total storage.Inserted

	chunks := storage.Chunks(entries, g.batchSize)
	for i, chunk := range chunks {
		var counts storage.Inserted
		err := g.writeTx(ctx, "InsertVersions", func(tx *sql.Tx) error {
			counts = storage.Inserted{}
			return insertChunk(ctx, tx, chunk, &counts)
		})
		if err != nil {
			log.Error().Err(err).Int("chunk", i+1).Int("chunks", len(chunks)).Msg("Chunk insert failed, aborting remaining chunks")
			return total, err
		}
		total.Add(counts)
		log.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("transactions", counts.Transactions).
			Int("payments", counts.Payments).
			Msg("Inserted chunk")
	}
	return total, nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, chunk []domain.Entry, counts *storage.Inserted) error {
	txStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			id, collection_id, occurred_at, amount, currency_code, description,
			last_modified_at, created_at, is_transfer, category_id, category_name,
			participants_snapshot, version_start, version_end, is_current
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transaction insert: %w", err)
	}
	defer txStmt.Close()

	payStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO user_payments (
			transaction_id, collection_id, participant_id, participant_name,
			owed_share, paid_share, net_balance, version_start, version_end, is_current
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare payment insert: %w", err)
	}
	defer payStmt.Close()

	for _, e := range chunk {
		t := e.Transaction
		var snapshot interface{}
		if len(t.ParticipantsSnapshot) > 0 {
			snapshot = string(t.ParticipantsSnapshot)
		}
		if _, err := txStmt.ExecContext(ctx,
			t.ID, t.CollectionID, formatTime(t.OccurredAt), t.Amount.Decimal.String(),
			t.CurrencyCode, t.Description, formatTime(t.LastModifiedAt), formatTime(t.CreatedAt),
			t.IsTransfer, nullString(t.CategoryID), nullString(t.CategoryName), snapshot,
			formatTime(t.VersionStart), nullTime(t.VersionEnd), t.IsCurrent,
		); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
		counts.Transactions++

		for _, p := range e.Payments {
			if _, err := payStmt.ExecContext(ctx,
				p.TransactionID, p.CollectionID, p.ParticipantID, nullString(p.ParticipantName),
				p.OwedShare.Decimal.String(), p.PaidShare.Decimal.String(), p.NetBalance.Decimal.String(),
				formatTime(p.VersionStart), nullTime(p.VersionEnd), p.IsCurrent,
			); err != nil {
				return fmt.Errorf("insert payment %s/%s: %w", p.TransactionID, p.ParticipantID, err)
			}
			counts.Payments++
		}
	}
	return nil
}

func execCount(ctx context.Context, stmt *sql.Stmt, args ...interface{}) (int, error) {
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
