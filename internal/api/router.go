// Package api is the HTTP surface: enqueue syncs, follow jobs and read the
// current ledger.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/splitwise-ledger/internal/api/handlers"
	"github.com/dvloznov/splitwise-ledger/internal/api/middleware"
	"github.com/dvloznov/splitwise-ledger/internal/jobs"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
)

// Deps are the services the routes are served from.
type Deps struct {
	Publisher jobs.Publisher
	JobStore  jobs.JobStore
	Reader    storage.Reader
	Log       zerolog.Logger
}

// NewRouter builds the handler tree with middleware applied.
func NewRouter(d Deps) http.Handler {
	syncHandler := handlers.NewSyncHandler(d.Publisher, d.Log)
	ledgerHandler := handlers.NewLedgerHandler(d.Reader, d.Log)
	jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Log)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sync", syncHandler.EnqueueSync)

	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.GetJob(w, r, r.PathValue("id"))
	})

	mux.HandleFunc("GET /api/transactions", ledgerHandler.ListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		ledgerHandler.History(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/balances", ledgerHandler.ListBalances)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(mux),
			),
		),
	)
}
