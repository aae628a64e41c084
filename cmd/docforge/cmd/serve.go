package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docforge/docforge/internal/app"
	"github.com/docforge/docforge/internal/logging"
	"github.com/docforge/docforge/internal/preflight"
)

// saveInterval is how often the vector index is flushed to disk while
// serving. The SQLite stores persist on every write.
const saveInterval = 5 * time.Minute

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the inbox and process documents until interrupted",
		Long: `Serve takes the data directory lock, starts the worker pools, the
cleanup reconciler and the inbox watcher, and runs until SIGINT or
SIGTERM. Files dropped into the inbox are indexed automatically.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger, app.Options{ExclusiveLock: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown_close_failed", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := preflight.New(cfg, a.Embedder).RunAll(ctx)
	for _, check := range checks {
		logger.Info("preflight_check",
			slog.String("name", check.Name),
			slog.String("status", check.Status.String()),
			slog.String("message", check.Message))
	}
	if preflight.HasCriticalFailures(checks) {
		return errors.New("preflight checks failed, see log for details")
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	logger.Info("serve_started",
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("inbox_dir", cfg.Paths.InboxDir),
		slog.String("environment", cfg.Worker.Environment))

	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("serve_stopping")
			if err := a.Save(); err != nil {
				logger.Warn("vector_save_failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if err := a.Save(); err != nil {
				logger.Warn("vector_save_failed", slog.String("error", err.Error()))
			}
		}
	}
}
