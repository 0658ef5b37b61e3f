package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/jobs"
)

func startQueue(t *testing.T, workers int, handler jobs.JobHandler) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	q := NewQueue(16, workers, store).WithRetryDelay(10 * time.Millisecond)
	require.NoError(t, q.Start(context.Background(), handler))
	t.Cleanup(func() { _ = q.Close() })
	return q, store
}

func waitForStatus(t *testing.T, store *Store, jobID string, status jobs.JobStatus) *jobs.SyncJob {
	t.Helper()
	var got *jobs.SyncJob
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueueCompletesJob(t *testing.T) {
	q, store := startQueue(t, 2, func(ctx context.Context, job *jobs.SyncJob) error {
		job.Summary = &domain.RunSummary{CollectionID: job.CollectionID, State: domain.StateDone, Fetched: 3}
		return nil
	})

	job := &jobs.SyncJob{User: "denis", CollectionID: "67890"}
	require.NoError(t, q.PublishSync(context.Background(), job))
	require.NotEmpty(t, job.JobID)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 3, done.Summary.Fetched)
	assert.Equal(t, jobs.DefaultMaxRetries, done.MaxRetries)
	assert.NotNil(t, done.CompletedAt)
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, 1, func(ctx context.Context, job *jobs.SyncJob) error {
		if calls.Add(1) == 1 {
			return domain.E(domain.ErrSourceUnavailable, "Fetch", errors.New("503"))
		}
		return nil
	})

	job := &jobs.SyncJob{CollectionID: "67890"}
	require.NoError(t, q.PublishSync(context.Background(), job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueueDoesNotRetryCredentialFailures(t *testing.T) {
	var calls atomic.Int32
	q, store := startQueue(t, 1, func(ctx context.Context, job *jobs.SyncJob) error {
		calls.Add(1)
		return domain.E(domain.ErrCredentialMissing, "Resolve", errors.New("no key"))
	})

	job := &jobs.SyncJob{CollectionID: "67890"}
	require.NoError(t, q.PublishSync(context.Background(), job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Contains(t, failed.Error, "no key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueueSerializesCollection(t *testing.T) {
	var mu sync.Mutex
	running := map[string]int{}
	maxSeen := map[string]int{}

	q, store := startQueue(t, 4, func(ctx context.Context, job *jobs.SyncJob) error {
		mu.Lock()
		running[job.CollectionID]++
		if running[job.CollectionID] > maxSeen[job.CollectionID] {
			maxSeen[job.CollectionID] = running[job.CollectionID]
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running[job.CollectionID]--
		mu.Unlock()
		return nil
	})

	var ids []string
	for i := 0; i < 6; i++ {
		collection := "a"
		if i%2 == 1 {
			collection = "b"
		}
		job := &jobs.SyncJob{CollectionID: collection}
		require.NoError(t, q.PublishSync(context.Background(), job))
		ids = append(ids, job.JobID)
	}
	for _, id := range ids {
		waitForStatus(t, store, id, jobs.JobStatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen["a"])
	assert.Equal(t, 1, maxSeen["b"])
}

func TestQueuePublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	err := q.PublishSync(context.Background(), &jobs.SyncJob{CollectionID: "1"})
	assert.Error(t, err)
}
