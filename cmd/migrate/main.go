package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/storage/bigquery"
	"github.com/dvloznov/splitwise-ledger/internal/storage/sqlite"
)

func main() {
	backend := flag.String("backend", "", "Storage backend to migrate: sqlite or bigquery (default from config)")
	sqlitePath := flag.String("sqlite-path", "", "SQLite database file (default from config)")
	project := flag.String("project", "", "GCP project ID (default from config)")
	dataset := flag.String("dataset", "", "BigQuery dataset (default from config)")
	appliedBy := flag.String("applied-by", "", "Who is applying the migrations (default: current user)")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithLevel(cfg.Log.Level)

	override(&cfg.Storage.Backend, *backend)
	override(&cfg.Storage.SQLitePath, *sqlitePath)
	override(&cfg.BigQuery.Project, *project)
	override(&cfg.BigQuery.Dataset, *dataset)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if *appliedBy == "" {
		*appliedBy = currentUser()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	report, err := run(ctx, cfg, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Migration failed")
	}
	log.Info().Str("backend", cfg.Storage.Backend).Msg(report)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// run brings the configured store to the latest schema and describes the
// outcome.
func run(ctx context.Context, cfg config.Config, appliedBy string) (string, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		g, err := sqlite.Open(cfg.Storage.SQLitePath, sqlite.Options{BatchSize: cfg.Sync.BatchSize})
		if err != nil {
			return "", err
		}
		defer g.Close()

		if err := g.EnsureSchema(ctx); err != nil {
			return "", err
		}
		version, dirty, err := g.SchemaVersion(ctx)
		if err != nil {
			return "", err
		}
		if dirty {
			return "", fmt.Errorf("schema version %d is dirty, fix it by hand", version)
		}
		return fmt.Sprintf("SQLite schema at version %d (%s)", version, cfg.Storage.SQLitePath), nil

	case config.BackendBigQuery:
		g, err := bigquery.New(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, bigquery.Options{})
		if err != nil {
			return "", err
		}
		defer g.Close()

		applied, err := g.Migrate(ctx, appliedBy)
		if err != nil {
			return "", err
		}
		if applied == 0 {
			return fmt.Sprintf("BigQuery dataset %s.%s is up to date", cfg.BigQuery.Project, cfg.BigQuery.Dataset), nil
		}
		return fmt.Sprintf("Applied %d migration(s) to %s.%s", applied, cfg.BigQuery.Project, cfg.BigQuery.Dataset), nil

	default:
		return "", fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
