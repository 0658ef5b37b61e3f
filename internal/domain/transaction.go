package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Version holds the SCD2 validity interval shared by both record streams.
// A row is current while IsCurrent is true and VersionEnd is nil.
type Version struct {
	VersionStart time.Time
	VersionEnd   *time.Time
	IsCurrent    bool
}

// Transaction is one normalized ledger record. Amount is nullable so that the
// validator can distinguish a missing amount from zero.
type Transaction struct {
	ID           string
	CollectionID string
	OccurredAt   time.Time // business date as reported by the source
	Amount       decimal.NullDecimal
	CurrencyCode string
	Description  string

	LastModifiedAt time.Time
	CreatedAt      time.Time

	IsTransfer   bool
	CategoryID   *string
	CategoryName *string

	// ParticipantsSnapshot is the raw participant list as received, kept for audit.
	ParticipantsSnapshot json.RawMessage

	Version
}

// UserPayment is one participant's share of a Transaction.
type UserPayment struct {
	TransactionID   string
	CollectionID    string
	ParticipantID   string
	ParticipantName *string

	OwedShare  decimal.NullDecimal
	PaidShare  decimal.NullDecimal
	NetBalance decimal.NullDecimal

	Version
}

// Entry pairs a Transaction with its payment lines. Entries are the unit the
// version manager supersedes: a transaction and its payments move together.
type Entry struct {
	Transaction Transaction
	Payments    []UserPayment
}

// Balance is a participant's running position across the current rows of a collection.
type Balance struct {
	CollectionID    string
	ParticipantID   string
	ParticipantName *string
	Paid            decimal.Decimal
	Owed            decimal.Decimal
	Net             decimal.Decimal
}

// Identity is the principal the source credentials belong to.
type Identity struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// Key identifies a transaction across versions.
type Key struct {
	CollectionID string
	ID           string
}

// Key returns the versioning key of t.
func (t Transaction) Key() Key {
	return Key{CollectionID: t.CollectionID, ID: t.ID}
}
