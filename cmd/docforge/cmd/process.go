package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docforge/docforge/internal/app"
	"github.com/docforge/docforge/internal/output"
	"github.com/docforge/docforge/internal/pipeline"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
)

// newProcessCmd creates the process command.
func newProcessCmd() *cobra.Command {
	var projectID string
	var extractGraph bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Process files through the pipeline and wait for completion",
		Long: `Process runs each file through extract, chunk, embed and index, then
exits. Re-processing a file replaces its previous chunks and index
entries.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), cmd, args, projectID, extractGraph, timeout)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "default", "Project the documents belong to")
	cmd.Flags().BoolVar(&extractGraph, "graph", false, "Extract a keyword graph onto the project canvas after indexing")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")

	return cmd
}

func runProcess(parent context.Context, cmd *cobra.Command, files []string, projectID string, extractGraph bool, timeout time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := output.New(cmd.OutOrStdout())

	a, err := app.New(cfg, slog.Default(), app.Options{ExclusiveLock: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}

	events, unsubscribe := a.Pipeline.Progress().Subscribe()
	defer unsubscribe()

	// Register before enqueueing so no terminal event is missed.
	waiting := make(map[string]string, len(files))
	for _, file := range files {
		path, err := filepath.Abs(file)
		if err != nil {
			return err
		}

		doc := &store.Document{
			ID:          stableDocumentID(path),
			ProjectID:   projectID,
			FilePath:    path,
			FileName:    filepath.Base(path),
			StorageType: store.StorageLocal,
		}
		if err := a.Meta.CreateDocument(ctx, doc); err != nil {
			w.Statusf("🔁", "Re-processing %s", doc.FileName)
		}
		waiting[doc.ID] = doc.FileName

		a.Workers.Enqueue(cfg.Worker.Environment, task.TypeProcessDocument, map[string]any{
			"document_id": doc.ID,
			"project_id":  projectID,
			"file_path":   path,
		})
	}

	failed := 0
	for len(waiting) > 0 {
		select {
		case <-ctx.Done():
			w.Done()
			return fmt.Errorf("timed out with %d document(s) still processing", len(waiting))
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("progress stream closed")
			}
			name, tracked := waiting[ev.DocumentID]
			if !tracked {
				continue
			}
			renderProgress(w, ev, name)

			switch ev.Status {
			case store.StatusReady:
				delete(waiting, ev.DocumentID)
				w.Successf("%s indexed", name)
				if extractGraph {
					a.Workers.Enqueue(cfg.Worker.Environment, task.TypeExtractGraph, map[string]any{
						"document_id": ev.DocumentID,
						"project_id":  projectID,
					})
				}
			case store.StatusError:
				delete(waiting, ev.DocumentID)
				failed++
				w.Errorf("%s failed (%s)", name, ev.ErrorCode)
			}
		}
	}

	if extractGraph {
		if err := drainQueue(ctx, a, cfg.Worker.Environment); err != nil {
			return err
		}
		w.Success("Keyword graph updated")
	}

	if err := a.Save(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

func renderProgress(w *output.Writer, ev pipeline.ProgressEvent, name string) {
	if ev.Status != store.StatusProcessing {
		return
	}
	label := ev.Message
	if label == "" {
		label = string(ev.Stage)
	}
	w.Fraction(ev.Progress, fmt.Sprintf("%s: %s", name, label))
	if ev.Progress < 1 {
		w.Done()
	}
}

// drainQueue waits until the environment's pool has no queued or active
// tasks.
func drainQueue(ctx context.Context, a *app.App, environment string) error {
	pool := a.Workers.Pool(environment)
	for {
		queued, active, _, _ := pool.Stats()
		if queued == 0 && active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// stableDocumentID derives the document ID from the absolute file path,
// matching the inbox watcher, so both entry points address the same
// document.
func stableDocumentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:16])
}
