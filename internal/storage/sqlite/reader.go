package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

const transactionColumns = `
	id, collection_id, occurred_at, amount, currency_code, description,
	last_modified_at, created_at, is_transfer, category_id, category_name,
	participants_snapshot, version_start, version_end, is_current`

// LastCurrentUpdate returns the newest version_start among current
// transactions of the collection. It uses the read-only connection and
// answers nil on any failure, including a missing database or table.
func (g *Gateway) LastCurrentUpdate(ctx context.Context, collectionID string) *time.Time {
	log := logger.FromContext(ctx)

	var latest sql.NullString
	err := g.ro.QueryRowContext(ctx, `
		SELECT MAX(version_start) FROM transactions
		WHERE collection_id = ? AND is_current = 1`, collectionID).Scan(&latest)
	if err != nil {
		log.Debug().Err(err).Msg("Cursor query failed, falling back to full refresh")
		return nil
	}
	if !latest.Valid {
		return nil
	}
	t, err := parseTime(latest.String)
	if err != nil {
		log.Warn().Err(err).Str("value", latest.String).Msg("Unreadable cursor value")
		return nil
	}
	return &t
}

// CurrentTransactions returns the current version of every transaction in
// the collection, newest business date first.
func (g *Gateway) CurrentTransactions(ctx context.Context, collectionID string) ([]domain.Transaction, error) {
	rows, err := g.ro.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions
		WHERE collection_id = ? AND is_current = 1
		ORDER BY occurred_at DESC, id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("CurrentTransactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// History returns every version of one transaction, newest first.
func (g *Gateway) History(ctx context.Context, key domain.Key) ([]domain.Transaction, error) {
	rows, err := g.ro.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions
		WHERE collection_id = ? AND id = ?
		ORDER BY version_start DESC, row_id DESC`, key.CollectionID, key.ID)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// CurrentPayments returns the current payment lines of one transaction.
func (g *Gateway) CurrentPayments(ctx context.Context, key domain.Key) ([]domain.UserPayment, error) {
	rows, err := g.ro.QueryContext(ctx, `
		SELECT transaction_id, collection_id, participant_id, participant_name,
			owed_share, paid_share, net_balance, version_start, version_end, is_current
		FROM user_payments
		WHERE collection_id = ? AND transaction_id = ? AND is_current = 1
		ORDER BY participant_id`, key.CollectionID, key.ID)
	if err != nil {
		return nil, fmt.Errorf("CurrentPayments: %w", err)
	}
	defer rows.Close()

	var out []domain.UserPayment
	for rows.Next() {
		var (
			p               domain.UserPayment
			name, end       sql.NullString
			owed, paid, net string
			start           string
		)
		if err := rows.Scan(&p.TransactionID, &p.CollectionID, &p.ParticipantID, &name,
			&owed, &paid, &net, &start, &end, &p.IsCurrent); err != nil {
			return nil, fmt.Errorf("CurrentPayments: scan: %w", err)
		}
		p.ParticipantName = stringPtr(name)
		if p.OwedShare, err = parseDecimal(owed); err != nil {
			return nil, err
		}
		if p.PaidShare, err = parseDecimal(paid); err != nil {
			return nil, err
		}
		if p.NetBalance, err = parseDecimal(net); err != nil {
			return nil, err
		}
		if p.VersionStart, err = parseTime(start); err != nil {
			return nil, err
		}
		if p.VersionEnd, err = timePtr(end); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CurrentBalances sums the current payment lines of the collection per
// participant. Sums are computed in decimal, not by SQLite.
func (g *Gateway) CurrentBalances(ctx context.Context, collectionID string) ([]domain.Balance, error) {
	rows, err := g.ro.QueryContext(ctx, `
		SELECT participant_id, participant_name, paid_share, owed_share, net_balance
		FROM user_payments
		WHERE collection_id = ? AND is_current = 1
		ORDER BY row_id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("CurrentBalances: %w", err)
	}
	defer rows.Close()

	byParticipant := make(map[string]*domain.Balance)
	for rows.Next() {
		var (
			pid             string
			name            sql.NullString
			paid, owed, net string
		)
		if err := rows.Scan(&pid, &name, &paid, &owed, &net); err != nil {
			return nil, fmt.Errorf("CurrentBalances: scan: %w", err)
		}
		b, ok := byParticipant[pid]
		if !ok {
			b = &domain.Balance{CollectionID: collectionID, ParticipantID: pid}
			byParticipant[pid] = b
		}
		if name.Valid {
			n := name.String
			b.ParticipantName = &n
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{{&b.Paid, paid}, {&b.Owed, owed}, {&b.Net, net}} {
			d, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("CurrentBalances: participant %s: %w", pid, err)
			}
			*f.dst = f.dst.Add(d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("CurrentBalances: %w", err)
	}

	out := make([]domain.Balance, 0, len(byParticipant))
	for _, b := range byParticipant {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		var (
			t                           domain.Transaction
			occurred, modified, created string
			amount, start               string
			categoryID, categoryName    sql.NullString
			snapshot, end               sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.CollectionID, &occurred, &amount, &t.CurrencyCode, &t.Description,
			&modified, &created, &t.IsTransfer, &categoryID, &categoryName,
			&snapshot, &start, &end, &t.IsCurrent); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		var err error
		if t.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *time.Time
			raw string
		}{{&t.OccurredAt, occurred}, {&t.LastModifiedAt, modified}, {&t.CreatedAt, created}, {&t.VersionStart, start}} {
			if *f.dst, err = parseTime(f.raw); err != nil {
				return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
			}
		}
		if t.VersionEnd, err = timePtr(end); err != nil {
			return nil, err
		}
		t.CategoryID = stringPtr(categoryID)
		t.CategoryName = stringPtr(categoryName)
		if snapshot.Valid {
			t.ParticipantsSnapshot = json.RawMessage(snapshot.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func parseDecimal(s string) (decimal.NullDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("stored decimal %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
