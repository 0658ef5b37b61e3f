package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/splitwise-ledger/internal/app"
	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/pipeline"
)

type options struct {
	User          string
	GroupID       string
	FullRefresh   bool
	BatchSize     int
	NoValidation  bool
	NoIncremental bool
	Replay        string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.User, "user", "", "User whose Splitwise credentials are used (required)")
	fs.StringVar(&o.GroupID, "group-id", "", "Splitwise group to sync (required)")
	fs.BoolVar(&o.FullRefresh, "full-refresh", false, "Ignore the stored cursor and fetch everything")
	fs.IntVar(&o.BatchSize, "batch-size", 0, "Rows per storage write (default from config)")
	fs.BoolVar(&o.NoValidation, "no-validation", false, "Skip business-rule validation")
	fs.BoolVar(&o.NoIncremental, "no-incremental", false, "Disable incremental mode")
	fs.StringVar(&o.Replay, "replay", "", "Re-run an archived batch (gs://bucket/object) instead of calling the API")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.GroupID == "" {
		return o, errors.New("--group-id is required")
	}
	if o.User == "" && o.Replay == "" {
		return o, errors.New("--user is required")
	}
	if o.BatchSize < 0 {
		return o, fmt.Errorf("--batch-size must be positive, got %d", o.BatchSize)
	}
	return o, nil
}

// apply lets flags override the loaded configuration.
func (o options) apply(cfg *config.Config) {
	if o.BatchSize > 0 {
		cfg.Sync.BatchSize = o.BatchSize
	}
	if o.NoValidation {
		cfg.Sync.ValidateData = false
	}
	if o.NoIncremental {
		cfg.Sync.IncrementalMode = false
	}
}

func (o options) request() pipeline.SyncRequest {
	return pipeline.SyncRequest{
		User:         o.User,
		CollectionID: o.GroupID,
		FullRefresh:  o.FullRefresh,
	}
}

func writeSummary(w io.Writer, summary domain.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fmt.Fprintln(os.Stderr, "Usage: sync --user NAME --group-id ID [--full-refresh] [--batch-size N] [--no-validation] [--no-incremental] [--replay gs://...]")
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts.apply(&cfg)

	log := logger.NewWithLevel(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	services, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer services.Close()

	orchestrator := services.Orchestrator
	if opts.Replay != "" {
		orchestrator, err = services.ReplayOrchestrator(ctx, opts.Replay)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize replay")
		}
		log.Info().Str("uri", opts.Replay).Msg("Replaying archived batch")
	}

	summary, runErr := orchestrator.Sync(ctx, opts.request())
	if err := writeSummary(os.Stdout, summary); err != nil {
		log.Error().Err(err).Msg("Failed to write summary")
	}
	if runErr != nil {
		services.Close()
		os.Exit(1)
	}
}
