// Package app wires the configured components into a running service:
// stores, embedder, pipeline, worker pools, reconciler and watcher.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/docforge/docforge/internal/chunk"
	"github.com/docforge/docforge/internal/cleanup"
	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/embed"
	"github.com/docforge/docforge/internal/parse"
	"github.com/docforge/docforge/internal/pipeline"
	"github.com/docforge/docforge/internal/search"
	"github.com/docforge/docforge/internal/storage"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
	"github.com/docforge/docforge/internal/telemetry"
	"github.com/docforge/docforge/internal/watcher"
	"github.com/docforge/docforge/internal/worker"
)

// App owns the wired component graph.
type App struct {
	Config     *config.Config
	Meta       *store.Store
	Lexical    store.LexicalIndex
	Vectors    *store.HNSWVectorStore
	Embedder   embed.Embedder
	Pipeline   *pipeline.Pipeline
	Dispatcher *task.Dispatcher
	Workers    *worker.Manager
	Reconciler *cleanup.Reconciler
	Fuser      *search.Fuser
	Metrics    *telemetry.Recorder
	Inbox      *watcher.Inbox

	logger   *slog.Logger
	dataLock *worker.DataLock
}

// Options tweaks wiring for specific commands.
type Options struct {
	// InMemory skips disk persistence entirely (used by tests and
	// one-shot commands against scratch data).
	InMemory bool

	// ExclusiveLock takes the data directory lock. Long-running serve
	// processes set this; read-only commands do not.
	ExclusiveLock bool
}

// New wires an App from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, logger: logger}

	if opts.ExclusiveLock && !opts.InMemory {
		a.dataLock = worker.NewDataLock(cfg.Paths.DataDir)
		acquired, err := a.dataLock.TryAcquire()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, fmt.Errorf("data directory %s is locked by another docforge process", cfg.Paths.DataDir)
		}
	}

	metaPath, lexicalPath, vectorPath := "", "", ""
	if !opts.InMemory {
		metaPath = filepath.Join(cfg.Paths.DataDir, "docforge.db")
		lexicalPath = store.LexicalIndexPath(cfg.Search.LexicalBackend, cfg.Paths.DataDir)
		vectorPath = filepath.Join(cfg.Paths.DataDir, "vectors.hnsw")
	}

	var err error
	a.Meta, err = store.Open(metaPath)
	if err != nil {
		return nil, a.closeOnError(err)
	}

	a.Lexical, err = store.NewLexicalIndex(cfg.Search.LexicalBackend, lexicalPath)
	if err != nil {
		return nil, a.closeOnError(err)
	}

	a.Embedder, err = embed.NewFromConfig(cfg.Embeddings)
	if err != nil {
		return nil, a.closeOnError(err)
	}

	a.Vectors, err = store.NewHNSWVectorStore(store.DefaultVectorConfig(a.Embedder.Dimensions()))
	if err != nil {
		return nil, a.closeOnError(err)
	}
	if vectorPath != "" {
		if loadErr := a.Vectors.Load(vectorPath); loadErr != nil {
			logger.Debug("vector_index_fresh", slog.String("reason", loadErr.Error()))
		}
	}

	a.Reconciler = cleanup.New(a.Meta, storage.NewLocal(), cleanup.Config{
		MaxAttempts:   cfg.Cleanup.MaxAttempts,
		SweepInterval: cfg.Cleanup.SweepInterval,
		SweepLimit:    cfg.Cleanup.SweepLimit,
	}, logger)

	a.Pipeline = pipeline.New(
		a.Meta,
		parse.NewTextParser(),
		chunk.Config{Size: cfg.Search.ChunkSize, Overlap: cfg.Search.ChunkOverlap},
		a.Embedder,
		a.Lexical,
		a.Vectors,
		a.Reconciler,
		pipeline.NewProgressBroadcaster(),
		logger,
	)

	a.Dispatcher = task.NewDispatcher(logger)
	a.Pipeline.RegisterHandlers(a.Dispatcher)

	a.Workers = worker.NewManager(worker.Config{
		MaxConcurrency:    cfg.Worker.MaxConcurrency,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		JobTimeout:        cfg.Worker.JobTimeout,
		RetryInitialDelay: cfg.Worker.RetryInitialDelay,
		RetryMaxDelay:     cfg.Worker.RetryMaxDelay,
	}, a.Dispatcher, logger)

	a.Fuser = search.NewFuser(
		search.NewStoreVectorAdapter(a.Embedder, a.Vectors, a.Meta),
		search.NewStoreLexicalAdapter(a.Lexical),
		a.Meta,
		logger,
	)

	metricsStore, err := telemetry.NewSQLiteMetricsStore(a.Meta.DB())
	if err != nil {
		return nil, a.closeOnError(err)
	}
	a.Metrics = telemetry.NewRecorder(metricsStore, logger)
	a.Fuser.SetMetrics(a.Metrics)

	if cfg.Paths.InboxDir != "" {
		a.Inbox = watcher.NewInbox(watcher.Options{
			InboxDir:    cfg.Paths.InboxDir,
			ProjectID:   "default",
			Environment: cfg.Worker.Environment,
		}, a.Meta, a.Workers, logger)
	}

	return a, nil
}

// Start launches the worker pools, reconciler loop and inbox watcher.
func (a *App) Start(ctx context.Context) error {
	a.Workers.Start(ctx)
	// Pools are lazy; warm the configured environment so its queue loop
	// is running before the first enqueue.
	a.Workers.Pool(a.Config.Worker.Environment)

	go a.Reconciler.Run(ctx)

	if a.Inbox != nil {
		if err := a.Inbox.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Save persists the vector index. SQLite-backed stores persist on
// write.
func (a *App) Save() error {
	if a.Config.Paths.DataDir == "" || a.Meta.Path() == "" {
		return nil
	}
	return a.Vectors.Save(filepath.Join(a.Config.Paths.DataDir, "vectors.hnsw"))
}

// Close stops background work and releases every store.
func (a *App) Close() error {
	if a.Inbox != nil {
		a.Inbox.Stop()
	}
	if a.Workers != nil {
		a.Workers.Stop()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Embedder != nil {
		keep(a.Embedder.Close())
	}
	if a.Vectors != nil {
		keep(a.Vectors.Close())
	}
	if a.Lexical != nil {
		keep(a.Lexical.Close())
	}
	if a.Meta != nil {
		keep(a.Meta.Close())
	}
	if a.dataLock != nil {
		keep(a.dataLock.Release())
	}
	return firstErr
}

func (a *App) closeOnError(err error) error {
	_ = a.Close()
	return err
}
