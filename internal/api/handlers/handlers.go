package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/splitwise-ledger/internal/api/middleware"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/jobs"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
)

// SyncHandler enqueues sync runs.
type SyncHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(publisher jobs.Publisher, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{publisher: publisher, log: log}
}

// EnqueueSync handles POST /api/sync
func (h *SyncHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User         string `json:"user"`
		CollectionID string `json:"collection_id"`
		FullRefresh  bool   `json:"full_refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.User = strings.TrimSpace(req.User)
	req.CollectionID = strings.TrimSpace(req.CollectionID)
	if req.User == "" || req.CollectionID == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "user and collection_id are required")
		return
	}

	job := &jobs.SyncJob{
		User:         req.User,
		CollectionID: req.CollectionID,
		FullRefresh:  req.FullRefresh,
	}
	if err := h.publisher.PublishSync(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "Failed to enqueue sync job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("collection_id", job.CollectionID).
		Bool("full_refresh", job.FullRefresh).
		Msg("Sync job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":        job.JobID,
		"collection_id": job.CollectionID,
		"status":        string(job.Status),
	})
}

// LedgerHandler serves the current state and history of the store.
type LedgerHandler struct {
	reader storage.Reader
	log    zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(reader storage.Reader, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{reader: reader, log: log}
}

func collectionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("collection_id"))
	if id == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "collection_id is required")
		return "", false
	}
	return id, true
}

// ListTransactions handles GET /api/transactions?collection_id=
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	collectionID, ok := collectionParam(w, r)
	if !ok {
		return
	}

	transactions, err := h.reader.CurrentTransactions(r.Context(), collectionID)
	if err != nil {
		h.log.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to query transactions")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// ListBalances handles GET /api/balances?collection_id=
func (h *LedgerHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	collectionID, ok := collectionParam(w, r)
	if !ok {
		return
	}

	balances, err := h.reader.CurrentBalances(r.Context(), collectionID)
	if err != nil {
		h.log.Error().Err(err).Str("collection_id", collectionID).Msg("Failed to query balances")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to query balances")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": collectionID,
		"balances":      balances,
		"count":         len(balances),
	})
}

// History handles GET /api/transactions/{id}/history?collection_id=
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request, transactionID string) {
	collectionID, ok := collectionParam(w, r)
	if !ok {
		return
	}

	versions, err := h.reader.History(r.Context(), domain.Key{CollectionID: collectionID, ID: transactionID})
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", transactionID).Msg("Failed to query history")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to query history")
		return
	}
	if len(versions) == 0 {
		middleware.WriteError(w, r, http.StatusNotFound, "Transaction not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": transactionID,
		"versions":       versions,
		"count":          len(versions),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", jobID).Msg("Job lookup failed")
		middleware.WriteError(w, r, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		CollectionID: query.Get("collection_id"),
		Status:       jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
