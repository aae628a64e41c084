package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/search"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.InboxDir = "" // no watcher in wiring tests
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 64
	cfg.Worker.JobTimeout = 5 * time.Second
	cfg.Worker.RetryInitialDelay = time.Millisecond
	cfg.Worker.RetryMaxDelay = time.Millisecond
	return cfg
}

func TestNew_WiresFullGraph(t *testing.T) {
	a, err := New(testConfig(t), nil, Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Meta)
	assert.NotNil(t, a.Lexical)
	assert.NotNil(t, a.Vectors)
	assert.NotNil(t, a.Embedder)
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Workers)
	assert.NotNil(t, a.Reconciler)
	assert.NotNil(t, a.Fuser)
	assert.NotNil(t, a.Metrics)

	// Every pipeline task type must be routable.
	for _, tt := range []task.Type{
		task.TypeProcessDocument,
		task.TypeExtractGraph,
		task.TypeSyncCanvas,
		task.TypeCleanupCanvas,
		task.TypeReconcileCleanup,
	} {
		assert.True(t, a.Dispatcher.Registered(tt), "task type %s", tt)
	}
}

func TestApp_ProcessAndSearchEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, nil, Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("kubernetes schedules pods onto nodes. The scheduler scores nodes."), 0o644))

	doc := &store.Document{
		ID:        "doc-app-1",
		ProjectID: "proj-app",
		FilePath:  path,
		FileName:  "note.txt",
	}
	require.NoError(t, a.Meta.CreateDocument(ctx, doc))

	events, unsubscribe := a.Pipeline.Progress().Subscribe()
	defer unsubscribe()

	a.Workers.Enqueue(cfg.Worker.Environment, task.TypeProcessDocument, map[string]any{
		"document_id": doc.ID,
		"project_id":  doc.ProjectID,
		"file_path":   path,
	})

	deadline := time.After(10 * time.Second)
	for ready := false; !ready; {
		select {
		case ev := <-events:
			require.NotEqual(t, store.StatusError, ev.Status, "pipeline failed: %s", ev.ErrorCode)
			ready = ev.Status == store.StatusReady
		case <-deadline:
			t.Fatal("document never became ready")
		}
	}

	results, err := a.Fuser.Search(ctx, search.Options{
		ProjectID: "proj-app",
		Query:     "kubernetes scheduler",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, doc.ID, results[0].DocumentID)

	// The fuser metrics hook saw the search.
	p50, _ := a.Metrics.Percentiles()
	assert.Greater(t, p50, time.Duration(0))
}

func TestNew_ExclusiveLockRejectsSecondApp(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(cfg, nil, Options{ExclusiveLock: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = New(cfg, nil, Options{ExclusiveLock: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}
