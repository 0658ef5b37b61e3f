package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/app"
	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)

	targets, err := cfg.Worker.Targets()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid worker.collections")
	}
	if len(targets) == 0 {
		log.Fatal().Msg("No collections configured, set worker.collections to user:collection pairs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	services, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer services.Close()

	// Fail on an unreachable store now rather than on the first job.
	if err := services.Store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Store is not ready")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, cfg.Worker.Concurrency, jobStore)

	log.Info().
		Int("collections", len(targets)).
		Dur("interval", cfg.Worker.Interval).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting worker service")

	if err := jobQueue.Start(ctx, app.SyncJobHandler(services.Orchestrator)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	go app.Schedule(ctx, jobQueue, targets, cfg.Worker.Interval)

	log.Info().Msg("Worker service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Stop the queue first so in-flight runs can finish their commit.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
