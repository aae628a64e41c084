package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docforge/docforge/internal/errors"
)

// Handler executes one task. A nil return marks the task succeeded; a
// retryable error requeues it with backoff, any other error kills it.
type Handler func(ctx context.Context, t *Task) error

// Dispatcher routes tasks to handlers registered per task type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Type]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a task type. Re-registering a type
// replaces the handler.
func (d *Dispatcher) Register(taskType Type, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[taskType] = handler
}

// Registered returns whether a task type has a handler.
func (d *Dispatcher) Registered(taskType Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[taskType]
	return ok
}

// Dispatch runs the handler for the task's type. A task type without a
// handler is a configuration error: it fails immediately and never
// retries.
func (d *Dispatcher) Dispatch(ctx context.Context, t *Task) error {
	d.mu.RLock()
	handler, ok := d.handlers[t.Type]
	d.mu.RUnlock()

	if !ok {
		return errors.New(errors.ErrCodeUnregisteredTask,
			fmt.Sprintf("no handler registered for task type %q", t.Type), nil).
			WithDetail("task_id", t.ID)
	}

	started := time.Now()
	d.logger.Info("task_dispatch",
		slog.String("task_id", t.ID),
		slog.String("task_type", string(t.Type)),
		slog.String("environment", t.Environment),
		slog.Int("attempt", t.Attempts))

	err := handler(ctx, t)

	if err != nil {
		d.logger.Warn("task_failed",
			slog.String("task_id", t.ID),
			slog.String("task_type", string(t.Type)),
			slog.String("error_code", errors.GetCode(err)),
			slog.Bool("retryable", errors.IsRetryable(err)),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("error", err.Error()))
		return err
	}

	d.logger.Info("task_complete",
		slog.String("task_id", t.ID),
		slog.String("task_type", string(t.Type)),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}
