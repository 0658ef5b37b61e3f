// Package validate is the admission gate between normalization and commit.
// Validation never fails a run: it answers yes or no and logs the reason.
package validate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

// DefaultAmountCeiling is the absolute amount above which a transaction is flagged.
var DefaultAmountCeiling = decimal.NewFromInt(1000000)

// Validator checks normalized entities against field-level rules.
type Validator struct {
	amountCeiling decimal.Decimal
}

// New creates a Validator. A non-positive ceiling selects the default.
func New(amountCeiling decimal.Decimal) *Validator {
	if !amountCeiling.IsPositive() {
		amountCeiling = DefaultAmountCeiling
	}
	return &Validator{amountCeiling: amountCeiling}
}

// CheckTransaction returns the rejection reason, or "" when tx is admissible,
// and any non-fatal warnings.
func (v *Validator) CheckTransaction(tx domain.Transaction) (reason string, warnings []string) {
	switch {
	case strings.TrimSpace(tx.ID) == "":
		return "id is empty", nil
	case strings.TrimSpace(tx.CollectionID) == "":
		return "collection_id is empty", nil
	case tx.OccurredAt.IsZero():
		return "occurred_at is missing", nil
	case !tx.Amount.Valid:
		return "amount is missing", nil
	}
	if len(tx.ParticipantsSnapshot) > 0 && !json.Valid(tx.ParticipantsSnapshot) {
		return "participants snapshot is not valid JSON", nil
	}

	amount := tx.Amount.Decimal
	if amount.IsNegative() && !tx.IsTransfer {
		warnings = append(warnings, "negative amount on a non-transfer record")
	}
	if amount.Abs().GreaterThan(v.amountCeiling) {
		warnings = append(warnings, "amount exceeds ceiling "+v.amountCeiling.String())
	}
	return "", warnings
}

// CheckPayment returns the rejection reason for p, or "" when it is admissible.
func CheckPayment(p domain.UserPayment) string {
	switch {
	case strings.TrimSpace(p.TransactionID) == "":
		return "transaction_id is empty"
	case strings.TrimSpace(p.ParticipantID) == "":
		return "participant_id is empty"
	case !p.OwedShare.Valid:
		return "owed_share is missing"
	case !p.PaidShare.Valid:
		return "paid_share is missing"
	case !p.NetBalance.Valid:
		return "net_balance is missing"
	}
	return ""
}

// ValidateTransaction reports whether tx may be committed, logging the reason when not.
func (v *Validator) ValidateTransaction(ctx context.Context, tx domain.Transaction) bool {
	log := logger.FromContext(ctx)
	reason, warnings := v.CheckTransaction(tx)
	for _, w := range warnings {
		log.Warn().
			Str("transaction_id", tx.ID).
			Str("amount", tx.Amount.Decimal.String()).
			Str("currency", tx.CurrencyCode).
			Msg(w)
	}
	if reason != "" {
		log.Warn().Str("transaction_id", tx.ID).Str("reason", reason).Msg("Transaction rejected")
		return false
	}
	return true
}

// ValidatePayment reports whether p may be committed, logging the reason when not.
func (v *Validator) ValidatePayment(ctx context.Context, p domain.UserPayment) bool {
	if reason := CheckPayment(p); reason != "" {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("transaction_id", p.TransactionID).
			Str("participant_id", p.ParticipantID).
			Str("reason", reason).
			Msg("Payment rejected")
		return false
	}
	return true
}
