package notionsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport sends every request to the test server.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func testDatabase(t *testing.T, h http.HandlerFunc) *BalanceDatabase {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return NewBalanceDatabase("secret", "db-1", &http.Client{Transport: rewriteTransport{target: target}})
}

func TestListBalancePagesFiltersByCollection(t *testing.T) {
	var body map[string]interface{}
	var path, auth string
	db := testDatabase(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		_, _ = w.Write([]byte(`{"object":"list","results":[],"has_more":true,"next_cursor":"c2"}`))
	})

	resp, err := db.ListBalancePages(context.Background(), "67890", "c1")
	require.NoError(t, err)
	assert.True(t, resp.HasMore)
	assert.Equal(t, "c2", string(resp.NextCursor))

	assert.Equal(t, "/v1/databases/db-1/query", path)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "c1", body["start_cursor"])
	assert.EqualValues(t, 100, body["page_size"])
	filter := body["filter"].(map[string]interface{})
	assert.Equal(t, propCollection, filter["property"])
	assert.Equal(t, "67890", filter["rich_text"].(map[string]interface{})["equals"])
}

func TestBalanceDatabaseErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
		contains    string
	}{
		{name: "validation error", status: http.StatusBadRequest, body: `{"object":"error","status":400,"code":"validation_error","message":"Collection is not a property"}`, contains: "400 validation_error"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, rateLimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDatabase(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := db.ArchiveBalancePage(context.Background(), "page-1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "archive balance page page-1")
			assert.Equal(t, tt.rateLimited, errors.Is(err, ErrRateLimited))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}
