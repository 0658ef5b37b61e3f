// Package pipeline runs one sync of a collection as a linear sequence of
// steps: connect, resolve cursor, fetch, archive, normalize, validate and
// commit. Any step error ends the run in the FAILED state.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/scd"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
	"github.com/dvloznov/splitwise-ledger/internal/validate"
)

// Store is the part of a storage gateway a run needs.
type Store interface {
	storage.Writer
	LastCurrentUpdate(ctx context.Context, collectionID string) *time.Time
}

// Archiver keeps a raw copy of fetched records.
type Archiver interface {
	Archive(ctx context.Context, collectionID, runID string, records []domain.RawExpense) (string, error)
}

// Options are the per-run behaviour switches.
type Options struct {
	IncrementalMode bool
	ValidateData    bool
	AmountCeiling   decimal.Decimal
}

// OptionsFromConfig maps the sync section of the configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		IncrementalMode: cfg.Sync.IncrementalMode,
		ValidateData:    cfg.Sync.ValidateData,
		AmountCeiling:   decimal.NewFromFloat(cfg.Sync.AmountCeiling),
	}
}

// SyncRequest names the collection to sync and on whose behalf.
type SyncRequest struct {
	User         string
	CollectionID string
	FullRefresh  bool
}

// PipelineStep represents a single step in the sync pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Request    SyncRequest
	RunID      string
	Session    Session
	Cursor     *time.Time
	Raw        []domain.RawExpense
	ArchiveURI string
	Entries    []domain.Entry
	Summary    domain.RunSummary
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		log.Debug().Str("stage", step.Name()).Msg("Entering stage")
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// Orchestrator runs sync requests against one store.
type Orchestrator struct {
	connector Connector
	store     Store
	archiver  Archiver
	validator *validate.Validator
	opts      Options
	newRunID  func() string
	now       func() time.Time
}

// New creates an Orchestrator. The store is owned by the caller.
func New(connector Connector, store Store, opts Options) *Orchestrator {
	return &Orchestrator{
		connector: connector,
		store:     store,
		validator: validate.New(opts.AmountCeiling),
		opts:      opts,
		newRunID:  uuid.NewString,
		now:       time.Now,
	}
}

// WithArchiver enables archiving of raw batches.
func (o *Orchestrator) WithArchiver(a Archiver) *Orchestrator {
	o.archiver = a
	return o
}

// Steps returns the step sequence for one run.
func (o *Orchestrator) Steps(req SyncRequest) []PipelineStep {
	steps := []PipelineStep{
		&ConnectStep{connector: o.connector},
		&ResolveCursorStep{store: o.store, fullRefresh: req.FullRefresh || !o.opts.IncrementalMode},
		&FetchStep{},
	}
	if o.archiver != nil {
		steps = append(steps, &ArchiveStep{archiver: o.archiver})
	}
	steps = append(steps, &NormalizeStep{})
	if o.opts.ValidateData {
		steps = append(steps, &ValidateStep{validator: o.validator})
	}
	return append(steps, &CommitStep{manager: scd.New(o.store)})
}

// Sync runs one collection through the pipeline. The summary is returned in
// both outcomes; on failure State is FAILED, ErrorKind names the originating
// error kind and the error is returned as well.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (domain.RunSummary, error) {
	runID := o.newRunID()
	ctx = logger.WithRun(ctx, runID, req.CollectionID)
	log := logger.FromContext(ctx)

	state := &PipelineState{
		Request: req,
		RunID:   runID,
		Summary: domain.RunSummary{
			RunID:        runID,
			CollectionID: req.CollectionID,
			Mode:         domain.ModeFull,
			StartedAt:    o.now().UTC(),
		},
	}

	log.Info().
		Str("user", req.User).
		Bool("full_refresh", req.FullRefresh).
		Bool("validate_data", o.opts.ValidateData).
		Msg("Starting sync run")

	err := NewPipeline(o.Steps(req)...).Execute(ctx, state)

	s := state.Summary
	s.FinishedAt = o.now().UTC()
	if err != nil {
		s.State = domain.StateFailed
		s.ErrorKind = domain.KindOf(err)
		s.Error = err.Error()
		log.Error().
			Err(err).
			Str("error_kind", s.ErrorKind).
			Int("inserted", s.Inserted()).
			Int("superseded", s.Superseded).
			Msg("Sync run failed")
		return s, err
	}

	s.State = domain.StateDone
	log.Info().
		Str("mode", s.Mode).
		Int("fetched", s.Fetched).
		Int("normalized", s.Normalized).
		Int("normalization_failed", s.NormalizationFailed).
		Int("validation_rejected", s.ValidationRejected).
		Int("payments_rejected", s.PaymentsRejected).
		Int("transactions_inserted", s.TransactionsInserted).
		Int("payments_inserted", s.PaymentsInserted).
		Int("superseded", s.Superseded).
		Dur("duration", s.FinishedAt.Sub(s.StartedAt)).
		Msg("Sync run completed")
	return s, nil
}
