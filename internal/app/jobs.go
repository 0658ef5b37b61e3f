package app

import (
	"context"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/jobs"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/pipeline"
)

// Syncer runs one sync.
type Syncer interface {
	Sync(ctx context.Context, req pipeline.SyncRequest) (domain.RunSummary, error)
}

// SyncJobHandler runs a queued job through the orchestrator and attaches
// the run summary to it, failed runs included.
func SyncJobHandler(s Syncer) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.SyncJob) error {
		log := logger.FromContext(ctx)
		log.Info().
			Str("user", job.User).
			Bool("full_refresh", job.FullRefresh).
			Int("attempt", job.RetryCount+1).
			Msg("Processing sync job")

		summary, err := s.Sync(ctx, pipeline.SyncRequest{
			User:         job.User,
			CollectionID: job.CollectionID,
			FullRefresh:  job.FullRefresh,
		})
		job.Summary = &summary
		return err
	}
}

// Schedule publishes a sync job for every target now and then once per
// interval until ctx is cancelled.
func Schedule(ctx context.Context, publisher jobs.Publisher, targets []config.WorkerTarget, interval time.Duration) {
	log := logger.FromContext(ctx)

	publishAll := func() {
		for _, t := range targets {
			job := &jobs.SyncJob{User: t.User, CollectionID: t.CollectionID}
			if err := publisher.PublishSync(ctx, job); err != nil {
				log.Warn().Err(err).Str("collection_id", t.CollectionID).Msg("Failed to enqueue scheduled sync")
				continue
			}
			log.Debug().Str("job_id", job.JobID).Str("collection_id", t.CollectionID).Msg("Scheduled sync enqueued")
		}
	}

	publishAll()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publishAll()
		}
	}
}
