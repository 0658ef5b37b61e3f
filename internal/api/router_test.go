package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/jobs"
	"github.com/dvloznov/splitwise-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

// MockPublisher captures published jobs.
type MockPublisher struct {
	Jobs []*jobs.SyncJob
	Err  error
}

func (m *MockPublisher) PublishSync(ctx context.Context, job *jobs.SyncJob) error {
	if m.Err != nil {
		return m.Err
	}
	job.JobID = "job-1"
	job.Status = jobs.JobStatusPending
	m.Jobs = append(m.Jobs, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// MockReader is a mock implementation of storage.Reader.
type MockReader struct {
	Transactions []domain.Transaction
	Balances     []domain.Balance
	Versions     []domain.Transaction
	Err          error
	LastKey      domain.Key
}

func (m *MockReader) LastCurrentUpdate(ctx context.Context, collectionID string) *time.Time {
	return nil
}

func (m *MockReader) CurrentTransactions(ctx context.Context, collectionID string) ([]domain.Transaction, error) {
	return m.Transactions, m.Err
}

func (m *MockReader) CurrentBalances(ctx context.Context, collectionID string) ([]domain.Balance, error) {
	return m.Balances, m.Err
}

func (m *MockReader) History(ctx context.Context, key domain.Key) ([]domain.Transaction, error) {
	m.LastKey = key
	return m.Versions, m.Err
}

func newTestRouter(pub *MockPublisher, reader *MockReader, store jobs.JobStore) http.Handler {
	if store == nil {
		store = inmemory.NewStore()
	}
	return NewRouter(Deps{
		Publisher: pub,
		JobStore:  store,
		Reader:    reader,
		Log:       logger.NewWithWriter(io.Discard),
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueSync(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		publishErr error
		wantStatus int
	}{
		{name: "accepted", body: `{"user":"denis","collection_id":"67890","full_refresh":true}`, wantStatus: http.StatusAccepted},
		{name: "missing collection", body: `{"user":"denis"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "queue closed", body: `{"user":"denis","collection_id":"67890"}`, publishErr: errors.New("queue is closed"), wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &MockPublisher{Err: tt.publishErr}
			rec := do(t, newTestRouter(pub, &MockReader{}, nil), http.MethodPost, "/api/sync", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			require.Len(t, pub.Jobs, 1)
			assert.True(t, pub.Jobs[0].FullRefresh)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "job-1", resp["job_id"])
		})
	}
}

func TestLedgerRoutes(t *testing.T) {
	reader := &MockReader{
		Transactions: []domain.Transaction{{ID: "12345", CollectionID: "67890"}},
		Balances: []domain.Balance{{
			CollectionID: "67890", ParticipantID: "1",
			Paid: decimal.RequireFromString("25.50"), Owed: decimal.RequireFromString("12.75"), Net: decimal.RequireFromString("12.75"),
		}},
		Versions: []domain.Transaction{{ID: "12345"}, {ID: "12345"}},
	}
	h := newTestRouter(&MockPublisher{}, reader, nil)

	rec := do(t, h, http.MethodGet, "/api/transactions?collection_id=67890", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	assert.Len(t, txs, 1)

	rec = do(t, h, http.MethodGet, "/api/balances?collection_id=67890", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, h, http.MethodGet, "/api/transactions/12345/history?collection_id=67890", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Key{CollectionID: "67890", ID: "12345"}, reader.LastKey)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = do(t, h, http.MethodGet, "/api/transactions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryNotFound(t *testing.T) {
	h := newTestRouter(&MockPublisher{}, &MockReader{}, nil)
	rec := do(t, h, http.MethodGet, "/api/transactions/1/history?collection_id=67890", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerReadFailure(t *testing.T) {
	h := newTestRouter(&MockPublisher{}, &MockReader{Err: errors.New("disk I/O error")}, nil)
	rec := do(t, h, http.MethodGet, "/api/balances?collection_id=67890", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Failed to query balances", body["error"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])
}

func TestJobRoutes(t *testing.T) {
	store := inmemory.NewStore()
	require.NoError(t, store.SaveJob(context.Background(), &jobs.SyncJob{
		JobID: "job-7", CollectionID: "67890", Status: jobs.JobStatusCompleted,
		Summary: &domain.RunSummary{State: domain.StateDone, Fetched: 4},
	}))
	h := newTestRouter(&MockPublisher{}, &MockReader{}, store)

	rec := do(t, h, http.MethodGet, "/api/jobs/job-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.SyncJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotNil(t, job.Summary)
	assert.Equal(t, 4, job.Summary.Fetched)

	rec = do(t, h, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/jobs?collection_id=67890", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestMiddleware(t *testing.T) {
	h := newTestRouter(&MockPublisher{}, &MockReader{}, nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodOptions, "/api/sync", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
