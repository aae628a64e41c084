package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/docforge/docforge/internal/chunk"
	"github.com/docforge/docforge/internal/cleanup"
	"github.com/docforge/docforge/internal/embed"
	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/parse"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
)

// Stage progress checkpoints persisted while a document processes.
const (
	progressExtracting = 0.10
	progressChunking   = 0.35
	progressEmbedding  = 0.60
	progressIndexing   = 0.85
)

// Pipeline wires the processing stages to the shared stores and
// registers the task handlers.
type Pipeline struct {
	meta       *store.Store
	parser     parse.Parser
	chunkCfg   chunk.Config
	embedder   embed.Embedder
	lexical    store.LexicalIndex
	vectors    store.VectorStore
	reconciler *cleanup.Reconciler
	progress   *ProgressBroadcaster
	logger     *slog.Logger
}

// New creates a pipeline over the shared stores.
func New(
	meta *store.Store,
	parser parse.Parser,
	chunkCfg chunk.Config,
	embedder embed.Embedder,
	lexical store.LexicalIndex,
	vectors store.VectorStore,
	reconciler *cleanup.Reconciler,
	progress *ProgressBroadcaster,
	logger *slog.Logger,
) *Pipeline {
	if progress == nil {
		progress = NewProgressBroadcaster()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		meta:       meta,
		parser:     parser,
		chunkCfg:   chunkCfg,
		embedder:   embedder,
		lexical:    lexical,
		vectors:    vectors,
		reconciler: reconciler,
		progress:   progress,
		logger:     logger,
	}
}

// Progress exposes the broadcaster for subscribers.
func (p *Pipeline) Progress() *ProgressBroadcaster {
	return p.progress
}

// RegisterHandlers binds every pipeline task type on the dispatcher.
func (p *Pipeline) RegisterHandlers(d *task.Dispatcher) {
	d.Register(task.TypeProcessDocument, p.HandleProcessDocument)
	d.Register(task.TypeExtractGraph, p.HandleExtractGraph)
	d.Register(task.TypeSyncCanvas, p.HandleSyncCanvas)
	d.Register(task.TypeCleanupCanvas, p.HandleCleanupCanvas)
	d.Register(task.TypeReconcileCleanup, p.HandleReconcileCleanup)
}

// HandleProcessDocument runs the extract, chunk, embed, index stages for
// one document. Each stage persists its progress before running, so an
// observer always sees where a run is. A transient failure marks the
// document ERROR and the queue retries the whole run; a document deleted
// mid-run ends the task successfully without touching the indexes.
func (p *Pipeline) HandleProcessDocument(ctx context.Context, t *task.Task) error {
	payload, err := task.DecodePayload[task.ProcessDocumentPayload](t)
	if err != nil {
		return err
	}

	doc, err := p.meta.GetDocument(ctx, payload.DocumentID)
	if err == store.ErrNotFound {
		p.logger.Info("document_gone_before_processing",
			slog.String("document_id", payload.DocumentID))
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	// Stage 1: extract page text.
	if err := p.enterStage(ctx, doc, store.StageExtracting, progressExtracting); err != nil {
		return err
	}
	pages, err := p.parser.Parse(ctx, payload.FilePath)
	if err != nil {
		return p.fail(ctx, doc, err)
	}

	// Stage 2: split into windows.
	if err := p.enterStage(ctx, doc, store.StageChunking, progressChunking); err != nil {
		return err
	}
	pieces := chunk.SplitPages(pages, p.chunkCfg)
	chunks := make([]*store.DocumentChunk, len(pieces))
	contents := make([]string, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &store.DocumentChunk{
			ID:         chunkID(doc.ID, piece.Index, piece.Content),
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Index:      piece.Index,
			PageNumber: piece.PageNumber,
			Content:    piece.Content,
		}
		contents[i] = piece.Content
	}

	// Stage 3: embed.
	if err := p.enterStage(ctx, doc, store.StageEmbedding, progressEmbedding); err != nil {
		return err
	}
	vectors, err := p.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return p.fail(ctx, doc, err)
	}

	// Stage 4: index. Old windows leave every index before the new set
	// lands.
	if err := p.enterStage(ctx, doc, store.StageIndexing, progressIndexing); err != nil {
		return err
	}
	if err := p.reindex(ctx, doc, chunks, vectors); err != nil {
		return p.fail(ctx, doc, err)
	}

	if err := p.meta.MarkDocumentReady(ctx, doc.ID, len(chunks), len(pages)); err != nil {
		if err == store.ErrNotFound {
			return p.abandonDeleted(ctx, doc)
		}
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	p.publish(doc, store.StatusReady, "", 1.0, "processing complete", "")
	p.logger.Info("document_ready",
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(chunks)),
		slog.Int("pages", len(pages)))
	return nil
}

// enterStage persists the stage transition with its progress message.
// A missing document means it was deleted mid-run: the task ends
// successfully as a no-op.
func (p *Pipeline) enterStage(ctx context.Context, doc *store.Document, stage store.Stage, progress float64) error {
	message := stageMessage(stage)
	err := p.meta.UpdateDocumentProgress(ctx, doc.ID, stage, progress, message)
	if err == store.ErrNotFound {
		return p.abandonDeleted(ctx, doc)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	// Track the stage on the in-memory document so a later failure
	// event can report where the run died.
	doc.Stage = stage
	doc.Progress = progress
	p.publish(doc, store.StatusProcessing, stage, progress, message, "")
	return nil
}

// stageMessage is the human-readable description persisted and
// broadcast with each stage transition.
func stageMessage(stage store.Stage) string {
	switch stage {
	case store.StageExtracting:
		return "extracting text"
	case store.StageChunking:
		return "splitting into chunks"
	case store.StageEmbedding:
		return "computing embeddings"
	case store.StageIndexing:
		return "updating indexes"
	}
	return ""
}

// abandonDeleted cleans index residue for a document removed mid-run.
func (p *Pipeline) abandonDeleted(ctx context.Context, doc *store.Document) error {
	p.logger.Info("document_deleted_mid_run", slog.String("document_id", doc.ID))
	if ids, err := p.meta.ChunkIDsByDocument(ctx, doc.ID); err == nil && len(ids) > 0 {
		_ = p.vectors.Delete(ctx, ids)
	}
	_ = p.lexical.DeleteByDocument(ctx, doc.ID)
	return nil
}

// fail records the error on the document and propagates it so the queue
// can decide between retry and dead-letter.
func (p *Pipeline) fail(ctx context.Context, doc *store.Document, cause error) error {
	code := errors.GetCode(cause)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	if err := p.meta.MarkDocumentError(ctx, doc.ID, code, cause.Error()); err != nil && err != store.ErrNotFound {
		p.logger.Error("mark_error_failed",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()))
	}
	p.publish(doc, store.StatusError, doc.Stage, doc.Progress, cause.Error(), code)
	return cause
}

// reindex swaps the document's chunks in metadata, lexical and vector
// indexes.
func (p *Pipeline) reindex(ctx context.Context, doc *store.Document, chunks []*store.DocumentChunk, vectors [][]float32) error {
	oldIDs, err := p.meta.ChunkIDsByDocument(ctx, doc.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}

	if err := p.meta.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}

	if len(oldIDs) > 0 {
		if err := p.vectors.Delete(ctx, oldIDs); err != nil {
			return errors.Wrap(errors.ErrCodeIndexFailed, err)
		}
	}
	if err := p.lexical.DeleteByDocument(ctx, doc.ID); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}

	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := p.lexical.Index(ctx, chunks); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	if err := p.vectors.Add(ctx, ids, vectors); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	return nil
}

// DeleteDocument removes a document everywhere and defers the raw file
// deletion to the cleanup queue. Canvas references are removed by the
// cleanup_canvas task the caller enqueues.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := p.meta.GetDocument(ctx, documentID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	ids, err := p.meta.ChunkIDsByDocument(ctx, documentID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if len(ids) > 0 {
		if err := p.vectors.Delete(ctx, ids); err != nil {
			return errors.Wrap(errors.ErrCodeIndexFailed, err)
		}
	}
	if err := p.lexical.DeleteByDocument(ctx, documentID); err != nil {
		return errors.Wrap(errors.ErrCodeIndexFailed, err)
	}
	if err := p.meta.DeleteDocument(ctx, documentID); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	// The raw file goes to the durable queue; the reconciler owns its
	// deletion from here.
	if err := p.reconciler.Enqueue(ctx, doc.ProjectID, doc.ID, doc.FilePath, doc.StorageType); err != nil {
		return errors.Wrap(errors.ErrCodeCleanupFailed, err)
	}
	p.logger.Info("document_deleted",
		slog.String("document_id", documentID),
		slog.String("file_path", doc.FilePath))
	return nil
}

// HandleReconcileCleanup sweeps the pending cleanup queue once.
func (p *Pipeline) HandleReconcileCleanup(ctx context.Context, t *task.Task) error {
	if _, err := task.DecodePayload[task.ReconcileCleanupPayload](t); err != nil {
		return err
	}
	res, err := p.reconciler.Sweep(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("cleanup_sweep_complete",
		slog.Int("attempted", res.Attempted),
		slog.Int("resolved", res.Resolved),
		slog.Int("failed", res.Failed))
	return nil
}

func (p *Pipeline) publish(doc *store.Document, status store.DocumentStatus, stage store.Stage, progress float64, message, errorCode string) {
	p.progress.Publish(ProgressEvent{
		DocumentID: doc.ID,
		ProjectID:  doc.ProjectID,
		Status:     status,
		Stage:      stage,
		Progress:   progress,
		Message:    message,
		ErrorCode:  errorCode,
	})
}

// chunkID derives a stable chunk identifier from the document, index
// and content.
func chunkID(documentID string, index int, content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", documentID, index, content)))
	return hex.EncodeToString(sum[:16])
}
