// Package app wires configuration into the services the commands run.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/splitwise-ledger/internal/archive"
	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/credentials"
	"github.com/dvloznov/splitwise-ledger/internal/pipeline"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
	"github.com/dvloznov/splitwise-ledger/internal/storage/bigquery"
	"github.com/dvloznov/splitwise-ledger/internal/storage/sqlite"
)

// OpenStore opens the gateway for the configured backend.
func OpenStore(ctx context.Context, cfg config.Config) (storage.Gateway, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		g, err := sqlite.Open(cfg.Storage.SQLitePath, sqlite.Options{
			BatchSize: cfg.Sync.BatchSize,
			Policy:    cfg.StoragePolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return g, nil
	case config.BackendBigQuery:
		g, err := bigquery.New(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, bigquery.Options{
			BatchSize: cfg.Sync.BatchSize,
			Policy:    cfg.StoragePolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Services is everything a sync run needs. Close releases what was opened.
type Services struct {
	Config       config.Config
	Store        storage.Gateway
	Credentials  credentials.Resolver
	Orchestrator *pipeline.Orchestrator

	objects *archive.GCSStore
}

// Build opens the store, the secret store and, when archive.bucket is set,
// the raw archive, and assembles a live-source orchestrator over them.
func Build(ctx context.Context, cfg config.Config) (*Services, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Services{Config: cfg, Store: store}

	s.Credentials, err = credentials.New(ctx, cfg.Credentials)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("Build: credentials: %w", err)
	}

	connector := pipeline.SplitwiseConnector{
		Credentials: s.Credentials,
		BaseURL:     cfg.Splitwise.BaseURL,
		Timeout:     cfg.Sync.APITimeout,
		Policy:      cfg.FetchPolicy(),
	}
	if s.Orchestrator, err = s.orchestrator(ctx, connector); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ReplayOrchestrator returns an orchestrator that re-runs an archived batch
// against the same store. Replays are never archived again.
func (s *Services) ReplayOrchestrator(ctx context.Context, uri string) (*pipeline.Orchestrator, error) {
	if s.objects == nil {
		objects, err := archive.NewGCSStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("ReplayOrchestrator: %w", err)
		}
		s.objects = objects
	}
	connector := pipeline.ReplayConnector{Replay: archive.Replay{Store: s.objects, URI: uri}}
	return pipeline.New(connector, s.Store, pipeline.OptionsFromConfig(s.Config)), nil
}

func (s *Services) orchestrator(ctx context.Context, connector pipeline.Connector) (*pipeline.Orchestrator, error) {
	o := pipeline.New(connector, s.Store, pipeline.OptionsFromConfig(s.Config))
	if s.Config.Archive.Bucket == "" {
		return o, nil
	}
	objects, err := archive.NewGCSStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("Build: archive: %w", err)
	}
	s.objects = objects
	return o.WithArchiver(archive.New(objects, s.Config.Archive.Bucket)), nil
}

// Close releases the store and the archive client.
func (s *Services) Close() error {
	var firstErr error
	if s.objects != nil {
		if err := s.objects.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
