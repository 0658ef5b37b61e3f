// Package splitwise is a minimal client for the Splitwise v3 REST API,
// covering the calls the sync engine needs.
package splitwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://secure.splitwise.com/api/v3.0"

// Client talks to the Splitwise API with a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client authenticated with a static API key.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = timeout
	return NewClientWithHTTP(baseURL, hc)
}

// NewClientWithHTTP creates a client over an existing HTTP client.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// ExpenseQuery selects one page of expenses.
type ExpenseQuery struct {
	GroupID      string
	UpdatedAfter *time.Time
	Limit        int
	Offset       int
}

func (q ExpenseQuery) values() url.Values {
	v := url.Values{}
	if q.GroupID != "" {
		v.Set("group_id", q.GroupID)
	}
	if q.UpdatedAfter != nil {
		v.Set("updated_after", q.UpdatedAfter.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// ListExpenses returns one page of expenses. Elements are decoded one at a
// time; an element that does not decode is returned with DecodeErr set so
// the rest of the page survives.
func (c *Client) ListExpenses(ctx context.Context, q ExpenseQuery) ([]domain.RawExpense, error) {
	var resp struct {
		Expenses []json.RawMessage `json:"expenses"`
	}
	if err := c.get(ctx, "/get_expenses", q.values(), &resp); err != nil {
		return nil, fmt.Errorf("ListExpenses: %w", err)
	}

	out := make([]domain.RawExpense, 0, len(resp.Expenses))
	for _, elem := range resp.Expenses {
		var e domain.RawExpense
		if err := json.Unmarshal(elem, &e); err != nil {
			e = domain.UndecodableExpense(elem, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// GetCurrentUser returns the identity the API key belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (domain.Identity, error) {
	var resp struct {
		User struct {
			ID        json.Number `json:"id"`
			FirstName string      `json:"first_name"`
			LastName  string      `json:"last_name"`
			Email     string      `json:"email"`
		} `json:"user"`
	}
	if err := c.get(ctx, "/get_current_user", nil, &resp); err != nil {
		return domain.Identity{}, fmt.Errorf("GetCurrentUser: %w", err)
	}
	return domain.Identity{
		ID:        resp.User.ID.String(),
		FirstName: resp.User.FirstName,
		LastName:  resp.User.LastName,
		Email:     resp.User.Email,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{StatusCode: resp.StatusCode, Err: errors.New(errorMessage(body, resp.Status))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// errorMessage extracts Splitwise's {"error": "..."} or {"errors": {...}} body.
func errorMessage(body []byte, status string) string {
	var payload struct {
		Error  string          `json:"error"`
		Errors json.RawMessage `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if len(payload.Errors) > 0 && string(payload.Errors) != "null" {
			return string(payload.Errors)
		}
	}
	return status
}
