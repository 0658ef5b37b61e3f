package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/normalize"
	"github.com/dvloznov/splitwise-ledger/internal/scd"
	"github.com/dvloznov/splitwise-ledger/internal/validate"
)

// ConnectStep resolves the user's credentials and opens a source session.
// A credential failure ends the run before anything is fetched.
type ConnectStep struct {
	connector Connector
}

func (s *ConnectStep) Name() string { return "CONNECT" }

func (s *ConnectStep) Execute(ctx context.Context, state *PipelineState) error {
	session, err := s.connector.Connect(ctx, state.Request.User)
	if err != nil {
		return err
	}
	state.Session = session

	if session.Identity == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	who, err := session.Identity.GetCurrentUser(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not look up current user")
		return nil
	}
	log.Info().
		Str("principal_id", who.ID).
		Str("principal_name", who.FirstName).
		Msg("Authenticated to source")
	return nil
}

// ResolveCursorStep picks the incremental watermark. A forced full refresh,
// or a store that cannot answer, means no cursor.
type ResolveCursorStep struct {
	store       Store
	fullRefresh bool
}

func (s *ResolveCursorStep) Name() string { return "RESOLVE_CURSOR" }

func (s *ResolveCursorStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	if s.fullRefresh {
		log.Info().Msg("Full refresh requested")
		return nil
	}

	cursor := s.store.LastCurrentUpdate(ctx, state.Request.CollectionID)
	if cursor == nil {
		log.Info().Msg("No cursor found, running full refresh")
		return nil
	}
	state.Cursor = cursor
	state.Summary.Cursor = cursor
	state.Summary.Mode = domain.ModeIncremental
	log.Info().Time("cursor", *cursor).Msg("Running incremental sync")
	return nil
}

// FetchStep pulls every record changed after the cursor.
type FetchStep struct{}

func (s *FetchStep) Name() string { return "FETCHING" }

func (s *FetchStep) Execute(ctx context.Context, state *PipelineState) error {
	raw, err := state.Session.Records.Fetch(ctx, state.Request.CollectionID, state.Cursor)
	if err != nil {
		return err
	}
	state.Raw = raw
	state.Summary.Fetched = len(raw)
	return nil
}

// ArchiveStep stores the raw batch. Failures are logged, never fatal.
type ArchiveStep struct {
	archiver Archiver
}

func (s *ArchiveStep) Name() string { return "ARCHIVING" }

func (s *ArchiveStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Raw) == 0 {
		return nil
	}
	uri, err := s.archiver.Archive(ctx, state.Request.CollectionID, state.RunID, state.Raw)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Archiving raw batch failed, continuing")
		return nil
	}
	state.ArchiveURI = uri
	return nil
}

// NormalizeStep converts raw records, dropping the ones that cannot be read.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "NORMALIZING" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	entries := make([]domain.Entry, 0, len(state.Raw))
	for _, raw := range state.Raw {
		entry, skipped, err := normalize.Normalize(ctx, raw, state.Request.CollectionID)
		if err != nil {
			state.Summary.NormalizationFailed++
			log.Warn().Err(err).Str("record_id", raw.ID.String()).Msg("Dropping record")
			continue
		}
		state.Summary.PaymentsSkipped += skipped
		entries = append(entries, entry)
	}
	state.Entries = entries
	state.Summary.Normalized = len(entries)
	return nil
}

// ValidateStep drops rejected transactions and rejected payment lines.
// A transaction survives the loss of any of its payment lines.
type ValidateStep struct {
	validator *validate.Validator
}

func (s *ValidateStep) Name() string { return "VALIDATING" }

func (s *ValidateStep) Execute(ctx context.Context, state *PipelineState) error {
	kept := state.Entries[:0]
	for _, e := range state.Entries {
		if !s.validator.ValidateTransaction(ctx, e.Transaction) {
			state.Summary.ValidationRejected++
			continue
		}
		payments := make([]domain.UserPayment, 0, len(e.Payments))
		for _, p := range e.Payments {
			if !s.validator.ValidatePayment(ctx, p) {
				state.Summary.PaymentsRejected++
				continue
			}
			payments = append(payments, p)
		}
		e.Payments = payments
		kept = append(kept, e)
	}
	state.Entries = kept
	return nil
}

// CommitStep writes the batch as new versions.
type CommitStep struct {
	manager *scd.Manager
}

func (s *CommitStep) Name() string { return "COMMIT" }

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	if len(state.Entries) == 0 {
		log.Info().Msg("Nothing to commit")
		return nil
	}
	started := time.Now()
	res, err := s.manager.Apply(ctx, state.Entries)
	state.Summary.Superseded = res.Superseded.Transactions
	state.Summary.PaymentsSuperseded = res.Superseded.Payments
	state.Summary.TransactionsInserted = res.Inserted.Transactions
	state.Summary.PaymentsInserted = res.Inserted.Payments
	if err != nil {
		return err
	}
	log.Debug().Dur("duration", time.Since(started)).Msg("Commit finished")
	return nil
}
