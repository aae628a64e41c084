package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/chunk"
	"github.com/docforge/docforge/internal/cleanup"
	"github.com/docforge/docforge/internal/embed"
	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/parse"
	"github.com/docforge/docforge/internal/storage"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
)

type harness struct {
	pipeline *Pipeline
	meta     *store.Store
	lexical  store.LexicalIndex
	vectors  store.VectorStore
	progress *ProgressBroadcaster
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	meta, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	lexical, err := store.NewSQLiteLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vectors, err := store.NewHNSWVectorStore(store.DefaultVectorConfig(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	reconciler := cleanup.New(meta, storage.NewLocal(), cleanup.Config{
		MaxAttempts:       5,
		SweepInterval:     time.Hour,
		SweepLimit:        50,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     2 * time.Millisecond,
	}, nil)

	progress := NewProgressBroadcaster()
	p := New(meta, parse.NewTextParser(), chunk.Config{Size: 500, Overlap: 50},
		embed.NewStaticEmbedder(64), lexical, vectors, reconciler, progress, nil)

	return &harness{
		pipeline: p,
		meta:     meta,
		lexical:  lexical,
		vectors:  vectors,
		progress: progress,
		dir:      t.TempDir(),
	}
}

func (h *harness) createDocument(t *testing.T, id, projectID, content string) *store.Document {
	t.Helper()
	path := filepath.Join(h.dir, id+".txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc := &store.Document{
		ID: id, ProjectID: projectID,
		FilePath: path, FileName: id + ".txt",
		StorageType: store.StorageLocal,
	}
	require.NoError(t, h.meta.CreateDocument(context.Background(), doc))
	return doc
}

func processTask(doc *store.Document) *task.Task {
	return task.New("t-"+doc.ID, task.TypeProcessDocument, "production", map[string]any{
		"document_id": doc.ID,
		"project_id":  doc.ProjectID,
		"file_path":   doc.FilePath,
	})
}

// Two pages of 1200 and 300 characters at window 500/50 produce four
// chunks with contiguous indices.
func TestProcessDocument_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := strings.Repeat("x", 1200) + "\f" + strings.Repeat("y", 300)
	doc := h.createDocument(t, "doc-1", "proj-1", content)

	events, unsubscribe := h.progress.Subscribe()
	defer unsubscribe()

	require.NoError(t, h.pipeline.HandleProcessDocument(ctx, processTask(doc)))

	got, err := h.meta.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, got.Status)
	assert.Empty(t, got.Stage)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Equal(t, 2, got.PageCount)
	assert.InDelta(t, 1.0, got.Progress, 1e-9)

	chunks, err := h.meta.GetChunksByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, 1, chunks[2].PageNumber)
	assert.Equal(t, 2, chunks[3].PageNumber)

	n, err := h.lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, h.vectors.Count())

	// Stages advance monotonically through the run, each with a
	// human-readable message.
	unsubscribe()
	var stages []store.Stage
	for ev := range events {
		if ev.Status == store.StatusProcessing {
			stages = append(stages, ev.Stage)
			assert.NotEmpty(t, ev.Message, "stage %s event carries a message", ev.Stage)
		}
	}
	require.NotEmpty(t, stages)
	for i := 1; i < len(stages); i++ {
		assert.True(t, store.StageAdvances(stages[i-1], stages[i]),
			"stage %s must not follow %s", stages[i], stages[i-1])
	}
}

func TestProcessDocument_MissingFileMarksError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.createDocument(t, "doc-1", "proj-1", "content")
	require.NoError(t, os.Remove(doc.FilePath))

	err := h.pipeline.HandleProcessDocument(ctx, processTask(doc))
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err), "missing input is permanent")

	got, err := h.meta.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Empty(t, got.Stage, "terminal states carry no stage")
	assert.Equal(t, errors.ErrCodeFileNotFound, got.ErrorCode)
	assert.NotEmpty(t, got.ErrorMsg)
	assert.Equal(t, got.ErrorMsg, got.ProgressMsg, "failure description is persisted as the progress message")
}

func TestProcessDocument_DeletedDocumentIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.createDocument(t, "doc-1", "proj-1", "content")
	require.NoError(t, h.meta.DeleteDocument(ctx, "doc-1"))

	assert.NoError(t, h.pipeline.HandleProcessDocument(ctx, processTask(doc)),
		"a deleted document ends the task successfully")
	assert.Zero(t, h.vectors.Count())
}

func TestProcessDocument_ReprocessReplacesIndexEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.createDocument(t, "doc-1", "proj-1", "first version about alpacas.")
	require.NoError(t, h.pipeline.HandleProcessDocument(ctx, processTask(doc)))

	require.NoError(t, os.WriteFile(doc.FilePath, []byte("second version about llamas."), 0o644))
	require.NoError(t, h.pipeline.HandleProcessDocument(ctx, processTask(doc)))

	assert.Equal(t, 1, h.vectors.Count(), "old vectors are removed on reprocess")
	n, err := h.lexical.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := h.lexical.Search(ctx, "proj-1", "", "alpacas", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "stale content must not match")
}

func TestDeleteDocument_EnqueuesFileCleanup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.createDocument(t, "doc-1", "proj-1", "some content to index.")
	require.NoError(t, h.pipeline.HandleProcessDocument(ctx, processTask(doc)))

	require.NoError(t, h.pipeline.DeleteDocument(ctx, "doc-1"))

	_, err := h.meta.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, h.vectors.Count())

	// The raw file survives until the reconciler sweeps.
	assert.FileExists(t, doc.FilePath)
	pending, _, err := h.meta.CleanupCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	sweep := task.New("t-sweep", task.TypeReconcileCleanup, "production", map[string]any{})
	require.NoError(t, h.pipeline.HandleReconcileCleanup(ctx, sweep))
	assert.NoFileExists(t, doc.FilePath)
}

func TestExtractGraph_MergesIntoCanvas(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := strings.Repeat("kubernetes clusters schedule workloads. kubernetes workloads need clusters. ", 4)
	doc := h.createDocument(t, "doc-1", "proj-1", content)
	require.NoError(t, h.pipeline.HandleProcessDocument(ctx, processTask(doc)))

	extract := task.New("t-g", task.TypeExtractGraph, "production", map[string]any{
		"document_id": "doc-1", "project_id": "proj-1",
	})
	require.NoError(t, h.pipeline.HandleExtractGraph(ctx, extract))

	canvas, err := h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, canvas.Version)

	graph, err := decodeCanvas(canvas.Data)
	require.NoError(t, err)
	require.NotEmpty(t, graph.Nodes)
	labels := make(map[string]bool)
	for _, n := range graph.Nodes {
		assert.Equal(t, "doc-1", n.DocumentID)
		labels[n.Label] = true
	}
	assert.True(t, labels["kubernetes"])
	assert.NotEmpty(t, graph.Edges, "co-occurring keywords are linked")

	// Re-extraction replaces rather than duplicates.
	nodeCount := len(graph.Nodes)
	require.NoError(t, h.pipeline.HandleExtractGraph(ctx, extract))
	canvas, err = h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	graph, err = decodeCanvas(canvas.Data)
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, nodeCount)
}

func TestCleanupCanvas_RemovesOnlyTargetDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seed := &CanvasDoc{
		Nodes: []CanvasNode{
			{ID: "doc-1:alpha", Label: "alpha", Kind: "keyword", DocumentID: "doc-1", Weight: 2},
			{ID: "doc-2:beta", Label: "beta", Kind: "keyword", DocumentID: "doc-2", Weight: 3},
		},
		Edges: []CanvasEdge{
			{Source: "doc-1:alpha", Target: "doc-2:beta", Weight: 1},
		},
	}
	data, err := seed.encode()
	require.NoError(t, err)
	_, err = h.meta.SaveCanvas(ctx, "proj-1", data, 0)
	require.NoError(t, err)

	clean := task.New("t-c", task.TypeCleanupCanvas, "production", map[string]any{
		"project_id": "proj-1", "document_id": "doc-1",
	})
	require.NoError(t, h.pipeline.HandleCleanupCanvas(ctx, clean))

	canvas, err := h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	graph, err := decodeCanvas(canvas.Data)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, "doc-2:beta", graph.Nodes[0].ID)
	assert.Empty(t, graph.Edges, "edges touching removed nodes go too")
}

func TestClearCanvas_ByKindLeavesOtherKinds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seed := &CanvasDoc{
		Nodes: []CanvasNode{
			{ID: "k:alpha", Label: "alpha", Kind: "keyword", Weight: 1},
			{ID: "n:note", Label: "note", Kind: "annotation", Weight: 1},
		},
		Edges: []CanvasEdge{
			{Source: "k:alpha", Target: "n:note", Weight: 1},
		},
	}
	data, err := seed.encode()
	require.NoError(t, err)
	_, err = h.meta.SaveCanvas(ctx, "proj-1", data, 0)
	require.NoError(t, err)

	require.NoError(t, h.pipeline.ClearCanvas(ctx, "proj-1", "keyword"))

	canvas, err := h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, canvas.Version, "clear is a versioned save")
	graph, err := decodeCanvas(canvas.Data)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, "n:note", graph.Nodes[0].ID)
	assert.Empty(t, graph.Edges, "edges touching cleared nodes go too")
}

func TestClearCanvas_NoKindClearsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seed := &CanvasDoc{
		Nodes: []CanvasNode{
			{ID: "k:alpha", Label: "alpha", Kind: "keyword", Weight: 1},
			{ID: "n:note", Label: "note", Kind: "annotation", Weight: 1},
		},
	}
	data, err := seed.encode()
	require.NoError(t, err)
	_, err = h.meta.SaveCanvas(ctx, "proj-1", data, 0)
	require.NoError(t, err)

	require.NoError(t, h.pipeline.ClearCanvas(ctx, "proj-1", ""))

	canvas, err := h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	graph, err := decodeCanvas(canvas.Data)
	require.NoError(t, err)
	assert.Empty(t, graph.Nodes)
	assert.Empty(t, graph.Edges)
}

func TestSyncCanvas_ReplacesStoredCanvas(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sync := task.New("t-s", task.TypeSyncCanvas, "production", map[string]any{
		"project_id": "proj-1",
		"data":       map[string]any{"nodes": []any{}, "edges": []any{}},
	})
	require.NoError(t, h.pipeline.HandleSyncCanvas(ctx, sync))

	canvas, err := h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, canvas.Version)

	require.NoError(t, h.pipeline.HandleSyncCanvas(ctx, sync))
	canvas, err = h.meta.GetCanvas(ctx, "proj-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, canvas.Version, "each sync bumps the version")
}

func TestSyncCanvas_BadPayloadIsPermanent(t *testing.T) {
	h := newHarness(t)

	sync := task.New("t-s", task.TypeSyncCanvas, "production", map[string]any{
		"project_id": "proj-1",
	})
	err := h.pipeline.HandleSyncCanvas(context.Background(), sync)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBadPayload, errors.GetCode(err))
}

func TestProgressBroadcaster_SnapshotAndFanout(t *testing.T) {
	b := NewProgressBroadcaster()

	ch1, stop1 := b.Subscribe()
	ch2, stop2 := b.Subscribe()
	defer stop2()

	b.Publish(ProgressEvent{DocumentID: "doc-1", Status: store.StatusProcessing, Stage: store.StageChunking, Progress: 0.35})

	ev := <-ch1
	assert.Equal(t, store.StageChunking, ev.Stage)
	ev = <-ch2
	assert.Equal(t, "doc-1", ev.DocumentID)

	snap, ok := b.Snapshot("doc-1")
	require.True(t, ok)
	assert.InDelta(t, 0.35, snap.Progress, 1e-9)
	assert.False(t, snap.At.IsZero())

	stop1()
	_, open := <-ch1
	assert.False(t, open, "unsubscribe closes the channel")
}
