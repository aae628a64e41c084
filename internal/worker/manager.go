package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/docforge/docforge/internal/task"
)

// Manager owns one pool per environment, created lazily on first use.
// Environments isolate queues completely: a backed-up staging queue
// never delays production tasks.
type Manager struct {
	mu         sync.Mutex
	pools      map[string]*Pool
	base       Config
	dispatcher *task.Dispatcher
	logger     *slog.Logger

	runCtx  context.Context
	started bool
}

// NewManager creates a manager using base as the per-pool template.
func NewManager(base Config, dispatcher *task.Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pools:      make(map[string]*Pool),
		base:       base,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start begins scheduling on all current and future pools.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCtx = ctx
	m.started = true
	for _, p := range m.pools {
		p.Start(ctx)
	}
}

// Stop stops every pool and waits for running handlers.
func (m *Manager) Stop() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.started = false
	m.mu.Unlock()

	for _, p := range pools {
		p.Stop()
	}
}

// Pool returns the environment's pool, creating it on first use.
func (m *Manager) Pool(environment string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[environment]; ok {
		return p
	}

	cfg := m.base
	cfg.Environment = environment
	p := NewPool(cfg, m.dispatcher, m.logger)
	m.pools[environment] = p
	if m.started {
		p.Start(m.runCtx)
	}
	m.logger.Info("worker_pool_created", slog.String("environment", environment))
	return p
}

// Enqueue queues a task on the environment's pool.
func (m *Manager) Enqueue(environment string, taskType task.Type, payload map[string]any) string {
	return m.Pool(environment).Enqueue(taskType, payload)
}

// Environments returns the known environment names, sorted.
func (m *Manager) Environments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
