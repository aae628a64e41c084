// Package telemetry records local search metrics: latency histograms,
// daily search counts and zero-result queries. Nothing leaves the
// machine; aggregates live in the metadata database and a small
// in-memory window serves live percentiles.
package telemetry

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// LatencyBucket is a histogram bucket for search latency.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt10ms"
	BucketUnder50ms  LatencyBucket = "lt50ms"
	BucketUnder100ms LatencyBucket = "lt100ms"
	BucketUnder500ms LatencyBucket = "lt500ms"
	BucketSlow       LatencyBucket = "ge500ms"
)

// BucketFor converts a duration to its histogram bucket.
func BucketFor(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// recentWindow is how many latencies the live percentile window keeps.
const recentWindow = 256

// Recorder aggregates search metrics. Persistent aggregates go to the
// metrics store on every record; the recent-latency window stays in
// memory.
type Recorder struct {
	store  *SQLiteMetricsStore
	recent *Ring[time.Duration]
	logger *slog.Logger
}

// NewRecorder creates a search metrics recorder. A nil store keeps
// metrics in memory only.
func NewRecorder(store *SQLiteMetricsStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		recent: NewRing[time.Duration](recentWindow),
		logger: logger,
	}
}

// RecordSearch records one completed search. Persistence failures are
// logged and swallowed; telemetry never fails a search.
func (r *Recorder) RecordSearch(query string, resultCount int, elapsed time.Duration) {
	r.recent.Add(elapsed)

	if r.store == nil {
		return
	}
	date := time.Now().UTC().Format("2006-01-02")
	if err := r.store.RecordSearch(date, BucketFor(elapsed), resultCount == 0); err != nil {
		r.logger.Debug("telemetry_write_failed", slog.String("error", err.Error()))
		return
	}
	if resultCount == 0 && query != "" {
		if err := r.store.AddZeroResultQuery(query, time.Now().UTC()); err != nil {
			r.logger.Debug("telemetry_write_failed", slog.String("error", err.Error()))
		}
	}
}

// Percentiles returns the p50 and p95 over the recent latency window.
// Returns zeros when nothing has been recorded.
func (r *Recorder) Percentiles() (p50, p95 time.Duration) {
	items := r.recent.Items()
	if len(items) == 0 {
		return 0, 0
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items[len(items)*50/100], items[len(items)*95/100]
}

// Ring is a fixed-capacity FIFO buffer. Full buffers evict the oldest
// item.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
	cap   int
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = recentWindow
	}
	return &Ring[T]{items: make([]T, capacity), cap: capacity}
}

// Add appends an item, evicting the oldest when full.
func (b *Ring[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.cap
	if b.size < b.cap {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *Ring[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.cap {
		copy(out, b.items[:b.size])
		return out
	}
	copy(out, b.items[b.head:])
	copy(out[b.cap-b.head:], b.items[:b.head])
	return out
}

// Len returns the current item count.
func (b *Ring[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
