// Package normalize maps raw source records into a Transaction and its
// UserPayment lines.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

var errMissing = errors.New("missing value")

// Normalize converts one raw record. collectionID is used when the record
// does not carry its own group id.
//
// The Transaction is all-or-nothing: any top-level field that cannot be
// derived fails the record with domain.ErrNormalization. Participants are
// best effort; each one that cannot be derived, and each earlier share
// superseded by a later one for the same participant, is logged and
// skipped, and the number skipped is returned.
func Normalize(ctx context.Context, raw domain.RawExpense, collectionID string) (domain.Entry, int, error) {
	tx, err := normalizeTransaction(raw, collectionID)
	if err != nil {
		return domain.Entry{}, 0, domain.E(domain.ErrNormalization, "Normalize", err)
	}

	log := logger.FromContext(ctx).With().Str("transaction_id", tx.ID).Logger()

	payments := make([]domain.UserPayment, 0, len(raw.Users))
	seen := make(map[string]int, len(raw.Users))
	skipped := 0
	for i, share := range raw.Users {
		p, err := normalizeParticipant(share, tx)
		if err != nil {
			skipped++
			log.Warn().Err(err).Int("participant_index", i).Msg("Skipping participant")
			continue
		}
		if p.sourceNet != nil && !p.sourceNet.Equal(p.payment.NetBalance.Decimal) {
			log.Debug().
				Str("participant_id", p.payment.ParticipantID).
				Str("source_net_balance", p.sourceNet.String()).
				Str("net_balance", p.payment.NetBalance.Decimal.String()).
				Msg("Source net balance differs from paid minus owed; using paid minus owed")
		}
		// One line per participant; a later share for the same id wins.
		if at, dup := seen[p.payment.ParticipantID]; dup {
			skipped++
			log.Warn().
				Str("participant_id", p.payment.ParticipantID).
				Int("participant_index", i).
				Msg("Duplicate participant; keeping the later share")
			payments[at] = p.payment
			continue
		}
		seen[p.payment.ParticipantID] = len(payments)
		payments = append(payments, p.payment)
	}

	return domain.Entry{Transaction: tx, Payments: payments}, skipped, nil
}

func normalizeTransaction(raw domain.RawExpense, collectionID string) (domain.Transaction, error) {
	id := strings.TrimSpace(raw.ID.String())
	if raw.DecodeErr != nil {
		if id == "" {
			id = "unknown"
		}
		return domain.Transaction{}, fmt.Errorf("record %s: decode: %w", id, raw.DecodeErr)
	}
	if id == "" || id == "0" {
		return domain.Transaction{}, errors.New("missing id")
	}

	collection := strings.TrimSpace(raw.GroupID.String())
	if collection == "" || collection == "0" {
		collection = collectionID
	}
	if collection == "" {
		return domain.Transaction{}, fmt.Errorf("record %s: missing collection id", id)
	}

	amount, err := parseDecimal(raw.Cost)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("record %s: cost: %w", id, err)
	}

	occurredAt, err := parseTime(raw.Date)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("record %s: date: %w", id, err)
	}

	createdAt, createdErr := parseTime(raw.CreatedAt)
	lastModified, err := parseTime(raw.UpdatedAt)
	if err != nil {
		if createdErr != nil {
			return domain.Transaction{}, fmt.Errorf("record %s: no usable updated_at or created_at", id)
		}
		lastModified = createdAt
	}
	if createdErr != nil {
		createdAt = lastModified
	}

	var snapshot json.RawMessage
	if raw.Users != nil {
		snapshot, err = json.Marshal(raw.Users)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("record %s: participants snapshot: %w", id, err)
		}
	}

	tx := domain.Transaction{
		ID:                   id,
		CollectionID:         collection,
		OccurredAt:           occurredAt,
		Amount:               decimal.NewNullDecimal(amount),
		CurrencyCode:         strings.TrimSpace(raw.CurrencyCode),
		Description:          strings.TrimSpace(raw.Description),
		LastModifiedAt:       lastModified,
		CreatedAt:            createdAt,
		IsTransfer:           bool(raw.Payment),
		ParticipantsSnapshot: snapshot,
		Version: domain.Version{
			VersionStart: lastModified,
			IsCurrent:    true,
		},
	}
	if raw.Category != nil {
		if cid := strings.TrimSpace(raw.Category.ID.String()); cid != "" {
			tx.CategoryID = &cid
		}
		if name := strings.TrimSpace(raw.Category.Name); name != "" {
			tx.CategoryName = &name
		}
	}
	return tx, nil
}

type participant struct {
	payment   domain.UserPayment
	sourceNet *decimal.Decimal
}

// normalizeParticipant derives one payment line. Net balance is always
// paid minus owed, including on transfers.
func normalizeParticipant(data json.RawMessage, tx domain.Transaction) (participant, error) {
	var share domain.RawShare
	if err := json.Unmarshal(data, &share); err != nil {
		return participant{}, fmt.Errorf("decode share: %w", err)
	}
	var pid string
	if share.User != nil {
		pid = strings.TrimSpace(share.User.ID.String())
	}
	if pid == "" {
		pid = strings.TrimSpace(share.UserID.String())
	}
	if pid == "" {
		return participant{}, errors.New("missing user id")
	}

	paid, err := parseDecimal(share.PaidShare)
	if err != nil {
		return participant{}, fmt.Errorf("participant %s: paid_share: %w", pid, err)
	}
	owed, err := parseDecimal(share.OwedShare)
	if err != nil {
		return participant{}, fmt.Errorf("participant %s: owed_share: %w", pid, err)
	}

	p := participant{
		payment: domain.UserPayment{
			TransactionID:   tx.ID,
			CollectionID:    tx.CollectionID,
			ParticipantID:   pid,
			ParticipantName: displayName(share.User),
			PaidShare:       decimal.NewNullDecimal(paid),
			OwedShare:       decimal.NewNullDecimal(owed),
			NetBalance:      decimal.NewNullDecimal(paid.Sub(owed)),
			Version:         tx.Version,
		},
	}
	if net, err := parseDecimal(share.NetBalance); err == nil {
		p.sourceNet = &net
	}
	return p, nil
}

func displayName(u *domain.RawUser) *string {
	if u == nil {
		return nil
	}
	var parts []string
	for _, s := range []*string{u.FirstName, u.LastName} {
		if s != nil && strings.TrimSpace(*s) != "" {
			parts = append(parts, strings.TrimSpace(*s))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	name := strings.Join(parts, " ")
	return &name
}

// parseDecimal accepts a JSON string or number.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, errMissing
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return decimal.Decimal{}, errMissing
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a decimal: %q", s)
	}
	return d, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissing
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
