package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/app"
	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/credentials"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/notionsync"
)

func main() {
	groupID := flag.String("group-id", "", "Splitwise group whose balances are published (required)")
	notionToken := flag.String("notion-token", "", "Notion API token (default: resolved from notion.token_secret)")
	notionDBID := flag.String("notion-db-id", "", "Notion database ID (default from config)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)

	if *groupID == "" {
		log.Fatal().Msg("Error: --group-id is required")
	}
	if *notionDBID == "" {
		*notionDBID = cfg.Notion.DatabaseID
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id or notion.database_id is required")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	if *notionToken == "" {
		resolver, err := credentials.New(ctx, cfg.Credentials)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize secret store")
		}
		*notionToken, err = resolver.Secret(ctx, cfg.Notion.TokenSecret)
		if err != nil {
			log.Fatal().Err(err).Str("secret", cfg.Notion.TokenSecret).Msg("Notion token not found")
		}
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	log.Info().
		Str("collection_id", *groupID).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion balance sync")

	book := notionsync.NewBalanceDatabase(*notionToken, *notionDBID, nil)

	res, err := notionsync.PublishBalances(ctx, store, book, *groupID, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}
