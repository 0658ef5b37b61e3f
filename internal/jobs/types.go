// Package jobs queues sync runs for asynchronous execution.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the sync run reached DONE.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and will not be retried.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is waiting to be retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// SyncJob is a queued sync of one collection.
type SyncJob struct {
	JobID        string `json:"job_id"`
	User         string `json:"user"`
	CollectionID string `json:"collection_id"`
	FullRefresh  bool   `json:"full_refresh"`

	Status JobStatus `json:"status"`

	// Summary is the run summary of the latest attempt.
	Summary *domain.RunSummary `json:"summary,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Publisher enqueues sync jobs.
type Publisher interface {
	PublishSync(ctx context.Context, job *SyncJob) error
	Close() error
}

// Consumer runs queued jobs.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler runs one job. It may record the run summary on the job.
type JobHandler func(ctx context.Context, job *SyncJob) error

// JobStore keeps job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *SyncJob) error
	GetJob(ctx context.Context, jobID string) (*SyncJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*SyncJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	CollectionID string
	Status       JobStatus
	Limit        int
	Offset       int
}

// ShouldRetry reports whether a failed run is worth another attempt.
// Credential failures never are.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, domain.ErrCredentialMissing) {
		return false
	}
	return errors.Is(err, domain.ErrSourceUnavailable) || errors.Is(err, domain.ErrStorageUnavailable)
}
