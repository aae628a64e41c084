// Package cleanup reconciles deferred file deletions. Documents delete
// their rows and index entries immediately; the backing file goes onto
// a durable queue this reconciler drains with retries.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/storage"
	"github.com/docforge/docforge/internal/store"
)

// Config configures the reconciler.
type Config struct {
	// MaxAttempts before a row is marked exhausted and retained.
	MaxAttempts int

	// SweepInterval is how often the background loop sweeps.
	SweepInterval time.Duration

	// SweepLimit caps rows attempted per sweep.
	SweepLimit int

	// RetryInitialDelay and RetryMaxDelay shape the per-row backoff.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// DefaultConfig returns reconciler defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		SweepInterval:     time.Minute,
		SweepLimit:        50,
		RetryInitialDelay: 30 * time.Second,
		RetryMaxDelay:     30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = d.SweepLimit
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = d.RetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	return c
}

// Reconciler drains the pending cleanup queue.
type Reconciler struct {
	store   *store.Store
	storage storage.Service
	cfg     Config
	backoff errors.RetryConfig
	logger  *slog.Logger
}

// New creates a reconciler.
func New(s *store.Store, svc storage.Service, cfg Config, logger *slog.Logger) *Reconciler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   s,
		storage: svc,
		cfg:     cfg,
		backoff: errors.RetryConfig{
			MaxRetries:   cfg.MaxAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2.0,
		},
		logger: logger,
	}
}

// Enqueue records a file for deferred deletion, tagged with the document
// it belonged to. Re-enqueueing the same path is idempotent.
func (r *Reconciler) Enqueue(ctx context.Context, projectID, documentID, filePath string, storageType store.StorageType) error {
	return r.store.EnqueueCleanup(ctx, projectID, documentID, filePath, storageType)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Attempted int
	Resolved  int
	Failed    int
}

// Sweep attempts every due row, up to the configured limit. Successful
// deletions remove the row; failures back off exponentially and flip to
// exhausted at MaxAttempts.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	due, err := r.store.DueCleanups(ctx, r.cfg.SweepLimit)
	if err != nil {
		return result, err
	}

	for _, row := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++

		delErr := r.storage.Delete(ctx, row.FilePath, row.StorageType)
		if delErr == nil {
			if err := r.store.ResolveCleanup(ctx, row.ID); err != nil {
				return result, err
			}
			result.Resolved++
			r.logger.Info("cleanup_resolved",
				slog.String("file_path", row.FilePath),
				slog.Int("attempts", row.Attempts))
			continue
		}

		result.Failed++
		next := time.Now().UTC().Add(r.backoff.Backoff(row.Attempts))
		if err := r.store.FailCleanup(ctx, row.ID, delErr.Error(), next, r.cfg.MaxAttempts); err != nil {
			return result, err
		}
		r.logger.Warn("cleanup_attempt_failed",
			slog.String("file_path", row.FilePath),
			slog.Int("attempt", row.Attempts+1),
			slog.Int("max_attempts", r.cfg.MaxAttempts),
			slog.String("error", delErr.Error()))
	}

	return result, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("cleanup_sweep_failed", slog.String("error", err.Error()))
			}
		}
	}
}
