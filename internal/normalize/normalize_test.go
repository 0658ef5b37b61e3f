package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

func share(s string) json.RawMessage { return json.RawMessage(s) }

func dinner() domain.RawExpense {
	return domain.RawExpense{
		ID:           "12345",
		GroupID:      "67890",
		Description:  " Dinner ",
		Payment:      false,
		Cost:         json.RawMessage(`"25.50"`),
		CurrencyCode: "USD",
		Date:         "2024-01-14T19:00:00Z",
		CreatedAt:    "2024-01-14T19:05:00Z",
		UpdatedAt:    "2024-01-15T11:00:00Z",
		Category:     &domain.RawCategory{ID: "13", Name: "Dining out"},
		Users: []json.RawMessage{
			share(`{"user":{"id":1,"first_name":"Ann","last_name":"Lee"},"user_id":1,"paid_share":"25.50","owed_share":"12.75","net_balance":"12.75"}`),
			share(`{"user":{"id":2,"first_name":"Bo","last_name":null},"user_id":2,"paid_share":"0.00","owed_share":"12.75","net_balance":"-12.75"}`),
		},
	}
}

func TestNormalizeScenario(t *testing.T) {
	entry, skipped, err := Normalize(context.Background(), dinner(), "67890")
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)

	tx := entry.Transaction
	assert.Equal(t, "12345", tx.ID)
	assert.Equal(t, "67890", tx.CollectionID)
	assert.True(t, tx.Amount.Valid)
	assert.True(t, tx.Amount.Decimal.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, "USD", tx.CurrencyCode)
	assert.Equal(t, "Dinner", tx.Description)
	assert.False(t, tx.IsTransfer)
	require.NotNil(t, tx.CategoryID)
	assert.Equal(t, "13", *tx.CategoryID)
	assert.Equal(t, "Dining out", *tx.CategoryName)

	wantModified := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, wantModified, tx.LastModifiedAt)
	assert.Equal(t, wantModified, tx.VersionStart)
	assert.True(t, tx.IsCurrent)
	assert.Nil(t, tx.VersionEnd)
	assert.True(t, json.Valid(tx.ParticipantsSnapshot))

	require.Len(t, entry.Payments, 2)
	owed := decimal.Zero
	for _, p := range entry.Payments {
		assert.Equal(t, "12345", p.TransactionID)
		assert.Equal(t, "67890", p.CollectionID)
		assert.True(t, p.NetBalance.Decimal.Equal(p.PaidShare.Decimal.Sub(p.OwedShare.Decimal)))
		assert.Equal(t, wantModified, p.VersionStart)
		owed = owed.Add(p.OwedShare.Decimal)
	}
	assert.True(t, owed.Equal(decimal.RequireFromString("25.50")))

	assert.Equal(t, "1", entry.Payments[0].ParticipantID)
	assert.Equal(t, "Ann Lee", *entry.Payments[0].ParticipantName)
	assert.Equal(t, "Bo", *entry.Payments[1].ParticipantName)
}

func TestNormalizePartialParticipantTolerance(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	raw := dinner()
	raw.Users[1] = share(`{"user":{"id":2},"paid_share":"n/a","owed_share":"12.75"}`)

	entry, skipped, err := Normalize(ctx, raw, "67890")
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	require.Len(t, entry.Payments, 1)
	assert.Equal(t, "1", entry.Payments[0].ParticipantID)
	assert.Equal(t, "12345", entry.Transaction.ID)
	assert.Equal(t, 1, strings.Count(buf.String(), "Skipping participant"))
}

func TestNormalizeParticipantFailures(t *testing.T) {
	tests := []struct {
		name  string
		share string
	}{
		{"missing user and user id", `{"paid_share":"1","owed_share":"1"}`},
		{"missing user id", `{"user":{"first_name":"X"},"paid_share":"1","owed_share":"1"}`},
		{"missing owed share", `{"user":{"id":3},"paid_share":"1"}`},
		{"not an object", `"oops"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := dinner()
			raw.Users = append(raw.Users, share(tt.share))

			entry, skipped, err := Normalize(context.Background(), raw, "67890")
			require.NoError(t, err)
			assert.Equal(t, 1, skipped)
			assert.Len(t, entry.Payments, 2)
		})
	}
}

func TestNormalizeTransactionFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.RawExpense)
	}{
		{"missing id", func(r *domain.RawExpense) { r.ID = "" }},
		{"zero id", func(r *domain.RawExpense) { r.ID = "0" }},
		{"missing cost", func(r *domain.RawExpense) { r.Cost = nil }},
		{"null cost", func(r *domain.RawExpense) { r.Cost = json.RawMessage(`null`) }},
		{"non-numeric cost", func(r *domain.RawExpense) { r.Cost = json.RawMessage(`"twenty"`) }},
		{"bad date", func(r *domain.RawExpense) { r.Date = "yesterday" }},
		{"no timestamps", func(r *domain.RawExpense) { r.UpdatedAt, r.CreatedAt = "", "" }},
		{"undecodable record", func(r *domain.RawExpense) {
			*r = domain.UndecodableExpense([]byte(`{"id":12345,"description":42}`), errors.New("wrong type"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := dinner()
			tt.mutate(&raw)

			_, _, err := Normalize(context.Background(), raw, "67890")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrNormalization)
		})
	}
}

func TestNormalizeDecodedWrongTypes(t *testing.T) {
	tests := []struct {
		name       string
		record     string
		wantErr    bool
		wantTransf bool
	}{
		{name: "description is a number", record: `{"id":1,"description":42,"cost":"1","date":"2024-01-14","updated_at":"2024-01-15T11:00:00Z"}`, wantErr: true},
		{name: "payment as string", record: `{"id":1,"payment":"true","cost":"1","date":"2024-01-14","updated_at":"2024-01-15T11:00:00Z"}`, wantTransf: true},
		{name: "payment as number", record: `{"id":1,"payment":0,"cost":"1","date":"2024-01-14","updated_at":"2024-01-15T11:00:00Z"}`},
		{name: "users is an object", record: `{"id":1,"cost":"1","date":"2024-01-14","updated_at":"2024-01-15T11:00:00Z","users":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw domain.RawExpense
			require.NoError(t, json.Unmarshal([]byte(tt.record), &raw))

			entry, _, err := Normalize(context.Background(), raw, "67890")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrNormalization)
				assert.Contains(t, err.Error(), "record 1")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTransf, entry.Transaction.IsTransfer)
		})
	}
}

func TestNormalizeDuplicateParticipants(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	raw := dinner()
	raw.Users = []json.RawMessage{
		share(`{"user":{"id":1,"first_name":"Ann"},"paid_share":"25.50","owed_share":"0"}`),
		share(`{"user":{"id":2,"first_name":"Bo"},"paid_share":"0","owed_share":"12.75"}`),
		share(`{"user":{"id":1,"first_name":"Ann"},"paid_share":"25.50","owed_share":"12.75"}`),
	}

	entry, skipped, err := Normalize(ctx, raw, "67890")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	require.Len(t, entry.Payments, 2)
	assert.Equal(t, "1", entry.Payments[0].ParticipantID)
	assert.True(t, entry.Payments[0].OwedShare.Decimal.Equal(decimal.RequireFromString("12.75")))
	assert.Equal(t, "2", entry.Payments[1].ParticipantID)
	assert.Contains(t, buf.String(), "Duplicate participant")
}

func TestNormalizeParticipantUserIDFallback(t *testing.T) {
	raw := dinner()
	raw.Users = []json.RawMessage{
		share(`{"user_id":3,"paid_share":"25.50","owed_share":"25.50"}`),
		share(`{"user":null,"user_id":"4","paid_share":"0","owed_share":"0"}`),
	}

	entry, skipped, err := Normalize(context.Background(), raw, "67890")
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)

	require.Len(t, entry.Payments, 2)
	assert.Equal(t, "3", entry.Payments[0].ParticipantID)
	assert.Nil(t, entry.Payments[0].ParticipantName)
	assert.Equal(t, "4", entry.Payments[1].ParticipantID)
}

func TestNormalizeOptionalAndFallbacks(t *testing.T) {
	raw := dinner()
	raw.GroupID = ""
	raw.Category = nil
	raw.Cost = json.RawMessage(`-10`)
	raw.Payment = true
	raw.UpdatedAt = ""
	raw.Users = []json.RawMessage{
		share(`{"user":{"id":1},"paid_share":10,"owed_share":0}`),
		share(`{"user":{"id":2},"paid_share":0,"owed_share":10}`),
	}

	entry, skipped, err := Normalize(context.Background(), raw, "555")
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)

	tx := entry.Transaction
	assert.Equal(t, "555", tx.CollectionID)
	assert.Nil(t, tx.CategoryID)
	assert.Nil(t, tx.CategoryName)
	assert.True(t, tx.IsTransfer)
	assert.True(t, tx.Amount.Decimal.Equal(decimal.NewFromInt(-10)))
	assert.Equal(t, time.Date(2024, 1, 14, 19, 5, 0, 0, time.UTC), tx.LastModifiedAt)

	require.Len(t, entry.Payments, 2)
	assert.True(t, entry.Payments[0].NetBalance.Decimal.Equal(decimal.NewFromInt(10)))
	assert.True(t, entry.Payments[1].NetBalance.Decimal.Equal(decimal.NewFromInt(-10)))
	assert.Nil(t, entry.Payments[0].ParticipantName)
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"12.75"`, "12.75", false},
		{`12.75`, "12.75", false},
		{`" 3 "`, "3", false},
		{`1e2`, "100", false},
		{`""`, "", true},
		{`null`, "", true},
		{`"1,000"`, "", true},
		{`true`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDecimal(json.RawMessage(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
