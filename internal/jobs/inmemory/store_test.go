package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/splitwise-ledger/internal/jobs"
)

func TestStoreListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, j := range []jobs.SyncJob{
		{JobID: "j1", CollectionID: "a", Status: jobs.JobStatusCompleted},
		{JobID: "j2", CollectionID: "b", Status: jobs.JobStatusFailed},
		{JobID: "j3", CollectionID: "a", Status: jobs.JobStatusPending},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, &j))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all newest first", want: []string{"j3", "j2", "j1"}},
		{name: "by collection", filter: jobs.JobFilter{CollectionID: "a"}, want: []string{"j3", "j1"}},
		{name: "by status", filter: jobs.JobFilter{Status: jobs.JobStatusFailed}, want: []string{"j2"}},
		{name: "paged", filter: jobs.JobFilter{Limit: 1, Offset: 1}, want: []string{"j2"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 5}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStoreUpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.SyncJob{JobID: "j1"}))

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "queue is closed"))
	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Equal(t, "queue is closed", job.Error)

	assert.Error(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""))
	assert.Error(t, s.SaveJob(ctx, &jobs.SyncJob{}))
}
