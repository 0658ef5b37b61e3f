package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawExpense is a change record exactly as the source API delivers it.
// Monetary fields may arrive as strings or numbers, so they are kept raw
// until normalization. Participants stay raw individually so one malformed
// share cannot fail decoding of the whole page.
//
// Decoding never fails on a wrongly typed field: DecodeErr is set instead.
// Such a record marshals back to its original bytes, so an archive
// replays it unchanged.
type RawExpense struct {
	ID           json.Number       `json:"id"`
	GroupID      json.Number       `json:"group_id,omitempty"`
	Description  string            `json:"description"`
	Payment      Flag              `json:"payment"`
	Cost         json.RawMessage   `json:"cost"`
	CurrencyCode string            `json:"currency_code"`
	Date         string            `json:"date"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	DeletedAt    *string           `json:"deleted_at,omitempty"`
	Category     *RawCategory      `json:"category,omitempty"`
	Users        []json.RawMessage `json:"users"`

	DecodeErr error `json:"-"`
	raw       json.RawMessage
}

type rawExpense RawExpense

// UnmarshalJSON decodes a record, capturing rather than returning any
// decode error.
func (e *RawExpense) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*e = UndecodableExpense(trimmed, fmt.Errorf("expected object, got %.20q", trimmed))
		return nil
	}

	var r rawExpense
	if err := json.Unmarshal(trimmed, &r); err != nil {
		*e = UndecodableExpense(trimmed, err)
		return nil
	}
	*e = RawExpense(r)
	return nil
}

// UndecodableExpense wraps bytes that could not be decoded as a record.
func UndecodableExpense(data []byte, err error) RawExpense {
	return RawExpense{
		ID:        recoverID(data),
		DecodeErr: err,
		raw:       append(json.RawMessage(nil), data...),
	}
}

// MarshalJSON writes undecodable records back verbatim.
func (e RawExpense) MarshalJSON() ([]byte, error) {
	if e.DecodeErr != nil && e.raw != nil {
		return e.raw, nil
	}
	r := rawExpense(e)
	r.DecodeErr, r.raw = nil, nil
	return json.Marshal(r)
}

func recoverID(data []byte) json.Number {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(data, &head) != nil {
		return ""
	}
	s := strings.Trim(strings.TrimSpace(string(head.ID)), `"`)
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return ""
	}
	return json.Number(s)
}

// Flag is a boolean the source sends as a bool, a string or a number.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = false
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = false
			return nil
		}
	}
	if b, err := strconv.ParseBool(s); err == nil {
		*f = Flag(b)
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*f = n != 0
		return nil
	}
	return fmt.Errorf("payment: cannot interpret %q as a boolean", s)
}

// RawCategory is the optional category attached to an expense.
type RawCategory struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// RawShare is one entry of RawExpense.Users.
type RawShare struct {
	User       *RawUser        `json:"user"`
	UserID     json.Number     `json:"user_id,omitempty"`
	PaidShare  json.RawMessage `json:"paid_share"`
	OwedShare  json.RawMessage `json:"owed_share"`
	NetBalance json.RawMessage `json:"net_balance"`
}

// RawUser is the participant identity embedded in a share.
type RawUser struct {
	ID        json.Number `json:"id"`
	FirstName *string     `json:"first_name"`
	LastName  *string     `json:"last_name"`
}
