package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

const numericScale = 9

// TransactionRow is a row of <dataset>.transactions as read back.
type TransactionRow struct {
	ID                   string                 `bigquery:"id"`                    // REQUIRED
	CollectionID         string                 `bigquery:"collection_id"`         // REQUIRED
	OccurredAt           civil.Date             `bigquery:"occurred_at"`           // REQUIRED DATE
	Amount               *big.Rat               `bigquery:"amount"`                // REQUIRED NUMERIC
	CurrencyCode         string                 `bigquery:"currency_code"`         // REQUIRED
	Description          string                 `bigquery:"description"`           // REQUIRED
	LastModifiedAt       time.Time              `bigquery:"last_modified_at"`      // REQUIRED
	CreatedAt            time.Time              `bigquery:"created_at"`            // REQUIRED
	IsTransfer           bool                   `bigquery:"is_transfer"`           // REQUIRED
	CategoryID           bigquery.NullString    `bigquery:"category_id"`           // NULLABLE
	CategoryName         bigquery.NullString    `bigquery:"category_name"`         // NULLABLE
	ParticipantsSnapshot bigquery.NullJSON      `bigquery:"participants_snapshot"` // NULLABLE JSON
	VersionStart         time.Time              `bigquery:"version_start"`         // REQUIRED
	VersionEnd           bigquery.NullTimestamp `bigquery:"version_end"`           // NULLABLE
	IsCurrent            bool                   `bigquery:"is_current"`            // REQUIRED
}

// transactionLoad is the NDJSON shape of a TransactionRow for load jobs.
type transactionLoad struct {
	ID                   string          `json:"id"`
	CollectionID         string          `json:"collection_id"`
	OccurredAt           string          `json:"occurred_at"`
	Amount               string          `json:"amount"`
	CurrencyCode         string          `json:"currency_code"`
	Description          string          `json:"description"`
	LastModifiedAt       string          `json:"last_modified_at"`
	CreatedAt            string          `json:"created_at"`
	IsTransfer           bool            `json:"is_transfer"`
	CategoryID           *string         `json:"category_id"`
	CategoryName         *string         `json:"category_name"`
	ParticipantsSnapshot json.RawMessage `json:"participants_snapshot,omitempty"`
	VersionStart         string          `json:"version_start"`
	VersionEnd           *string         `json:"version_end"`
	IsCurrent            bool            `json:"is_current"`
}

// PaymentRow is a row of <dataset>.user_payments as read back.
type PaymentRow struct {
	TransactionID   string                 `bigquery:"transaction_id"`
	CollectionID    string                 `bigquery:"collection_id"`
	ParticipantID   string                 `bigquery:"participant_id"`
	ParticipantName bigquery.NullString    `bigquery:"participant_name"`
	OwedShare       *big.Rat               `bigquery:"owed_share"`
	PaidShare       *big.Rat               `bigquery:"paid_share"`
	NetBalance      *big.Rat               `bigquery:"net_balance"`
	VersionStart    time.Time              `bigquery:"version_start"`
	VersionEnd      bigquery.NullTimestamp `bigquery:"version_end"`
	IsCurrent       bool                   `bigquery:"is_current"`
}

type paymentLoad struct {
	TransactionID   string  `json:"transaction_id"`
	CollectionID    string  `json:"collection_id"`
	ParticipantID   string  `json:"participant_id"`
	ParticipantName *string `json:"participant_name"`
	OwedShare       string  `json:"owed_share"`
	PaidShare       string  `json:"paid_share"`
	NetBalance      string  `json:"net_balance"`
	VersionStart    string  `json:"version_start"`
	VersionEnd      *string `json:"version_end"`
	IsCurrent       bool    `json:"is_current"`
}

// balanceRow is one aggregate of CurrentBalances.
type balanceRow struct {
	ParticipantID   string              `bigquery:"participant_id"`
	ParticipantName bigquery.NullString `bigquery:"participant_name"`
	Paid            *big.Rat            `bigquery:"paid"`
	Owed            *big.Rat            `bigquery:"owed"`
	Net             *big.Rat            `bigquery:"net"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTimestamp(*t)
	return &s
}

func toTransactionLoad(t domain.Transaction) transactionLoad {
	return transactionLoad{
		ID:                   t.ID,
		CollectionID:         t.CollectionID,
		OccurredAt:           civil.DateOf(t.OccurredAt.UTC()).String(),
		Amount:               t.Amount.Decimal.StringFixed(numericScale),
		CurrencyCode:         t.CurrencyCode,
		Description:          t.Description,
		LastModifiedAt:       formatTimestamp(t.LastModifiedAt),
		CreatedAt:            formatTimestamp(t.CreatedAt),
		IsTransfer:           t.IsTransfer,
		CategoryID:           t.CategoryID,
		CategoryName:         t.CategoryName,
		ParticipantsSnapshot: t.ParticipantsSnapshot,
		VersionStart:         formatTimestamp(t.VersionStart),
		VersionEnd:           formatNullTimestamp(t.VersionEnd),
		IsCurrent:            t.IsCurrent,
	}
}

func toPaymentLoad(p domain.UserPayment) paymentLoad {
	return paymentLoad{
		TransactionID:   p.TransactionID,
		CollectionID:    p.CollectionID,
		ParticipantID:   p.ParticipantID,
		ParticipantName: p.ParticipantName,
		OwedShare:       p.OwedShare.Decimal.StringFixed(numericScale),
		PaidShare:       p.PaidShare.Decimal.StringFixed(numericScale),
		NetBalance:      p.NetBalance.Decimal.StringFixed(numericScale),
		VersionStart:    formatTimestamp(p.VersionStart),
		VersionEnd:      formatNullTimestamp(p.VersionEnd),
		IsCurrent:       p.IsCurrent,
	}
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Decimal{}, fmt.Errorf("NULL numeric")
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func nullStringPtr(s bigquery.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.StringVal
	return &v
}

func (r TransactionRow) toDomain() (domain.Transaction, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: amount: %w", r.ID, err)
	}
	t := domain.Transaction{
		ID:             r.ID,
		CollectionID:   r.CollectionID,
		OccurredAt:     r.OccurredAt.In(time.UTC),
		Amount:         decimal.NewNullDecimal(amount),
		CurrencyCode:   r.CurrencyCode,
		Description:    r.Description,
		LastModifiedAt: r.LastModifiedAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		IsTransfer:     r.IsTransfer,
		CategoryID:     nullStringPtr(r.CategoryID),
		CategoryName:   nullStringPtr(r.CategoryName),
		Version: domain.Version{
			VersionStart: r.VersionStart.UTC(),
			IsCurrent:    r.IsCurrent,
		},
	}
	if r.ParticipantsSnapshot.Valid {
		t.ParticipantsSnapshot = json.RawMessage(r.ParticipantsSnapshot.JSONVal)
	}
	if r.VersionEnd.Valid {
		end := r.VersionEnd.Timestamp.UTC()
		t.VersionEnd = &end
	}
	return t, nil
}

func (r balanceRow) toDomain(collectionID string) (domain.Balance, error) {
	b := domain.Balance{
		CollectionID:    collectionID,
		ParticipantID:   r.ParticipantID,
		ParticipantName: nullStringPtr(r.ParticipantName),
	}
	var err error
	if b.Paid, err = ratToDecimal(r.Paid); err != nil {
		return b, err
	}
	if b.Owed, err = ratToDecimal(r.Owed); err != nil {
		return b, err
	}
	if b.Net, err = ratToDecimal(r.Net); err != nil {
		return b, err
	}
	return b, nil
}
