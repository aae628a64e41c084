package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/storage"
	"github.com/docforge/docforge/internal/store"
)

// flakyStorage fails a configured number of times per path before
// succeeding.
type flakyStorage struct {
	mu        sync.Mutex
	failures  map[string]int
	attempts  map[string]int
	alwaysErr bool
}

func (f *flakyStorage) Delete(ctx context.Context, filePath string, storageType store.StorageType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[filePath]++
	if f.alwaysErr || f.attempts[filePath] <= f.failures[filePath] {
		return errors.New(errors.ErrCodeCleanupFailed,
			fmt.Sprintf("cannot delete %s", filePath), nil)
	}
	return nil
}

func fastReconcilerConfig() Config {
	return Config{
		MaxAttempts:       5,
		SweepInterval:     time.Hour, // tests call Sweep directly
		SweepLimit:        50,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     2 * time.Millisecond,
	}
}

func newTestReconciler(t *testing.T, svc storage.Service) (*Reconciler, *store.Store) {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, svc, fastReconcilerConfig(), nil), s
}

// sweepUntilQuiet runs sweeps until no row is due, waiting out the
// millisecond backoff between rounds.
func sweepUntilQuiet(t *testing.T, r *Reconciler) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		time.Sleep(5 * time.Millisecond)
		res, err := r.Sweep(ctx)
		require.NoError(t, err)
		if res.Attempted == 0 {
			return
		}
	}
}

func TestReconciler_DeletesLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))

	r, s := newTestReconciler(t, storage.NewLocal())
	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", path, store.StorageLocal))

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.NoFileExists(t, path)

	pending, exhausted, err := s.CleanupCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending+exhausted, "resolved rows are removed")
}

func TestReconciler_MissingFileCountsAsResolved(t *testing.T) {
	r, _ := newTestReconciler(t, storage.NewLocal())
	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", filepath.Join(t.TempDir(), "gone.txt"), store.StorageLocal))

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved, "already-deleted files resolve immediately")
}

func TestReconciler_FailsFourTimesSucceedsFifth(t *testing.T) {
	svc := &flakyStorage{failures: map[string]int{"/data/a.txt": 4}}
	r, s := newTestReconciler(t, svc)
	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", "/data/a.txt", store.StorageLocal))

	sweepUntilQuiet(t, r)

	assert.Equal(t, 5, svc.attempts["/data/a.txt"], "fifth attempt succeeds")
	pending, exhausted, err := s.CleanupCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, exhausted, "row resolved before exhaustion at max_attempts 5")
}

func TestReconciler_ExhaustedRowRetained(t *testing.T) {
	svc := &flakyStorage{alwaysErr: true}
	r, s := newTestReconciler(t, svc)
	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", "/data/stuck.txt", store.StorageLocal))

	sweepUntilQuiet(t, r)

	assert.Equal(t, 5, svc.attempts["/data/stuck.txt"], "exhausted after max_attempts")

	exhausted, err := s.ListExhaustedCleanups(ctx)
	require.NoError(t, err)
	require.Len(t, exhausted, 1, "exhausted rows stay visible")
	assert.Equal(t, 5, exhausted[0].Attempts)
	assert.Contains(t, exhausted[0].LastError, "cannot delete")
}

func TestReconciler_EnqueueIsIdempotent(t *testing.T) {
	r, _ := newTestReconciler(t, storage.NewLocal())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "dup.txt")
	require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", path, store.StorageLocal))
	require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", path, store.StorageLocal))

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted, "double enqueue attempts the file once")
}

func TestReconciler_SweepHonorsLimit(t *testing.T) {
	svc := &flakyStorage{alwaysErr: true}
	s, err := store.Open("")
	require.NoError(t, err)
	defer s.Close()

	cfg := fastReconcilerConfig()
	cfg.SweepLimit = 2
	r := New(s, svc, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Enqueue(ctx, "proj-1", "doc-1", fmt.Sprintf("/data/%d.txt", i), store.StorageLocal))
	}

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
}
