package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnidex-search/omnidex/internal/ingest"
	"github.com/omnidex-search/omnidex/internal/logging"
	"github.com/omnidex-search/omnidex/internal/queue"
	"github.com/omnidex-search/omnidex/internal/store"
)

func newRunCmd() *cobra.Command {
	var reconcileOnStart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion daemon",
		Long: `Start the ingestion pipeline: the dispatcher drains the durable job
queue onto the worker pool, executing fetch, embed, transcribe, and
commit stages until interrupted. Jobs interrupted by a previous crash
are requeued on startup.

Only one daemon may run against a data directory at a time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, reconcileOnStart)
		},
	}

	cmd.Flags().BoolVar(&reconcileOnStart, "reconcile", true, "Check and repair index drift before dispatching")

	return cmd
}

func runDaemon(cmd *cobra.Command, reconcileOnStart bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.Paths.DataDir)
	logCfg.Level = cfg.Logging.Level
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	lock := store.NewDirLock(cfg.Paths.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another omnidex daemon is running against %s", cfg.Paths.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.gateway.Health(ctx); err != nil {
		logger.Warn("encoder service not yet healthy, jobs will retry",
			slog.String("error", err.Error()))
	}

	fetcher := ingest.NewFetcher(cfg.Pipeline.FetchRatePerSec, 30*time.Second)
	handlers := ingest.NewHandlers(a.items, a.vectors, a.keywords, a.gateway, fetcher, a.queue, logger)

	if reconcileOnStart {
		rec := ingest.NewReconciler(a.items, a.vectors, a.keywords, a.queue, logger)
		result, err := rec.Check(ctx)
		if err != nil {
			return err
		}
		if len(result.Drifts) > 0 {
			logger.Warn("index drift detected, repairing", slog.Int("drifts", len(result.Drifts)))
			if err := rec.Repair(ctx, result); err != nil {
				return err
			}
		}
	}

	dispatcher, err := queue.NewDispatcher(a.items, a.queue, handlers.Map(), queue.DispatcherConfig{
		Workers:         cfg.Pipeline.Workers,
		PollInterval:    cfg.Pipeline.PollInterval,
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		BackoffBase:     cfg.Pipeline.BackoffBase,
		BackoffCeiling:  cfg.Pipeline.BackoffCeiling,
		RetentionWindow: cfg.Pipeline.RetentionWindow,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("omnidex daemon started",
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.Int("workers", cfg.Pipeline.Workers))

	runErr := dispatcher.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Persist the in-memory vector partitions before exit; the
	// SQLite stores are already durable.
	if err := a.saveVectors(); err != nil {
		logger.Error("vector index save failed", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("omnidex daemon stopped")
	return runErr
}
