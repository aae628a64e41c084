// Package worker runs queued tasks on a bounded pool with retry,
// backoff and dead-letter retention. Queues are in-memory and
// partitioned by environment.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/task"
)

// Config configures one environment's worker pool.
type Config struct {
	// Environment names the queue partition (production, staging, ...).
	Environment string

	// MaxConcurrency caps simultaneously running handlers.
	MaxConcurrency int

	// MaxAttempts is the total tries per task before it goes to the
	// dead-letter list.
	MaxAttempts int

	// JobTimeout bounds a single handler run.
	JobTimeout time.Duration

	// RetryInitialDelay and RetryMaxDelay shape the exponential backoff
	// between attempts.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// DefaultConfig returns worker defaults for an environment.
func DefaultConfig(environment string) Config {
	return Config{
		Environment:       environment,
		MaxConcurrency:    4,
		MaxAttempts:       3,
		JobTimeout:        10 * time.Minute,
		RetryInitialDelay: time.Second,
		RetryMaxDelay:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Environment)
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = d.RetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	return c
}

// Pool is a single environment's task queue and worker loop.
type Pool struct {
	cfg        Config
	dispatcher *task.Dispatcher
	logger     *slog.Logger
	backoff    errors.RetryConfig

	mu         sync.Mutex
	queue      []*task.Task
	activeDocs map[string]bool
	dead       []*task.Task
	succeeded  int

	sem  *semaphore.Weighted
	wake chan struct{}

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a stopped pool; call Start to begin draining.
func NewPool(cfg Config, dispatcher *task.Dispatcher, logger *slog.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("environment", cfg.Environment)),
		backoff: errors.RetryConfig{
			MaxRetries:   cfg.MaxAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		activeDocs: make(map[string]bool),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue creates and queues a task, returning its ID.
func (p *Pool) Enqueue(taskType task.Type, payload map[string]any) string {
	t := task.New(newTaskID(), taskType, p.cfg.Environment, payload)
	t.MaxAttempts = p.cfg.MaxAttempts
	t.NextRunAt = time.Now().UTC()

	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.logger.Debug("task_enqueued",
		slog.String("task_id", t.ID),
		slog.String("task_type", string(taskType)))
	p.poke()
	return t.ID
}

// Start begins the scheduling loop. It returns immediately; Stop drains
// running handlers.
func (p *Pool) Start(ctx context.Context) {
	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop()
}

// Stop cancels scheduling and waits for running handlers to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// DeadLetters returns tasks that exhausted their attempts or failed
// permanently. They are retained until the process exits.
func (p *Pool) DeadLetters() []*task.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*task.Task, len(p.dead))
	copy(out, p.dead)
	return out
}

// Stats reports queue depth, running document count, completions and
// dead letters.
func (p *Pool) Stats() (queued, active, succeeded, dead int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), len(p.activeDocs), p.succeeded, len(p.dead)
}

func (p *Pool) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.runCtx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}

		for {
			t := p.takeReady()
			if t == nil {
				break
			}
			if err := p.sem.Acquire(p.runCtx, 1); err != nil {
				p.requeueFront(t)
				return
			}
			p.wg.Add(1)
			go p.run(t)
		}
	}
}

// takeReady pops the first task that is due and whose document has no
// active handler. Tasks for busy documents stay queued: at most one
// handler touches a document at a time.
func (p *Pool) takeReady() *task.Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	for i, t := range p.queue {
		if t.NextRunAt.After(now) {
			continue
		}
		if doc := t.DocumentID(); doc != "" {
			if p.activeDocs[doc] {
				continue
			}
			p.activeDocs[doc] = true
		}
		p.queue = append(p.queue[:i], p.queue[i+1:]...)
		return t
	}
	return nil
}

func (p *Pool) requeueFront(t *task.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseDocLocked(t)
	p.queue = append([]*task.Task{t}, p.queue...)
}

func (p *Pool) releaseDocLocked(t *task.Task) {
	if doc := t.DocumentID(); doc != "" {
		delete(p.activeDocs, doc)
	}
}

func (p *Pool) run(t *task.Task) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	t.Status = task.StatusRunning
	t.Attempts++

	ctx, cancel := context.WithTimeout(p.runCtx, p.cfg.JobTimeout)
	err := p.dispatcher.Dispatch(ctx, t)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseDocLocked(t)

	switch {
	case err == nil:
		t.Status = task.StatusSucceeded
		t.CompletedAt = time.Now().UTC()
		t.LastError = ""
		p.succeeded++
	case p.shouldRetry(t, err):
		delay := p.backoff.Backoff(t.Attempts - 1)
		t.Status = task.StatusQueued
		t.LastError = err.Error()
		t.NextRunAt = time.Now().UTC().Add(delay)
		p.queue = append(p.queue, t)
		p.logger.Info("task_retry_scheduled",
			slog.String("task_id", t.ID),
			slog.Int("attempt", t.Attempts),
			slog.Duration("delay", delay))
	default:
		t.Status = task.StatusDead
		t.LastError = err.Error()
		t.CompletedAt = time.Now().UTC()
		p.dead = append(p.dead, t)
		p.logger.Error("task_dead_lettered",
			slog.String("task_id", t.ID),
			slog.String("task_type", string(t.Type)),
			slog.Int("attempts", t.Attempts),
			slog.String("error_code", errors.GetCode(err)),
			slog.String("error", t.LastError))
	}
	p.pokeLockedSafe()
}

func (p *Pool) pokeLockedSafe() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// shouldRetry allows another attempt when attempts remain, unless the
// error is classified and marked non-retryable. Unclassified errors
// (timeouts, handler panics surfaced as errors) count as transient.
func (p *Pool) shouldRetry(t *task.Task, err error) bool {
	if code := errors.GetCode(err); code != "" && !errors.IsRetryable(err) {
		return false
	}
	return t.Attempts < t.MaxAttempts
}

func newTaskID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b[:])
}
