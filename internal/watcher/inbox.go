// Package watcher turns files dropped into the inbox directory into
// document processing tasks. Writes are debounced so a file still being
// copied enqueues once, after it settles.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
	"github.com/docforge/docforge/internal/worker"
)

// DefaultDebounce is how long a file must stay quiet before it
// enqueues.
const DefaultDebounce = 500 * time.Millisecond

// Options configures the inbox watcher.
type Options struct {
	// InboxDir is the watched directory. Files land here via drag and
	// drop or scp; subdirectories name the target project.
	InboxDir string

	// ProjectID is the default project for files in the inbox root.
	ProjectID string

	// Environment selects the worker queue.
	Environment string

	// Debounce is the quiet period before a file enqueues.
	Debounce time.Duration
}

// Inbox watches a directory and enqueues process_document tasks.
type Inbox struct {
	opts    Options
	meta    *store.Store
	workers *worker.Manager
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewInbox creates an inbox watcher.
func NewInbox(opts Options, meta *store.Store, workers *worker.Manager, logger *slog.Logger) *Inbox {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		opts:    opts,
		meta:    meta,
		workers: workers,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}
}

// Start begins watching. It returns after the watch is established; the
// event loop runs until ctx is cancelled.
func (in *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(in.opts.InboxDir, 0755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(in.opts.InboxDir); err != nil {
		_ = w.Close()
		return err
	}
	in.watcher = w

	in.wg.Add(1)
	go in.loop(ctx)

	// Files dropped while the watcher was down still need processing.
	in.scanExisting()

	in.logger.Info("inbox_watching", slog.String("dir", in.opts.InboxDir))
	return nil
}

// scanExisting schedules every file already sitting in the inbox.
func (in *Inbox) scanExisting() {
	entries, err := os.ReadDir(in.opts.InboxDir)
	if err != nil {
		in.logger.Warn("inbox_scan_failed", slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		in.schedule(filepath.Join(in.opts.InboxDir, entry.Name()))
	}
}

// Stop closes the watch and waits for the loop.
func (in *Inbox) Stop() {
	if in.watcher != nil {
		_ = in.watcher.Close()
	}
	in.wg.Wait()

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, timer := range in.pending {
		timer.Stop()
	}
	in.pending = map[string]*time.Timer{}
}

func (in *Inbox) loop(ctx context.Context) {
	defer in.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				in.schedule(ev.Name)
			}
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Warn("inbox_watch_error", slog.String("error", err.Error()))
		}
	}
}

// schedule (re)arms the debounce timer for a path. Every write resets
// the timer, so a file enqueues once its copy finishes.
func (in *Inbox) schedule(path string) {
	if !eligible(path) {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if timer, ok := in.pending[path]; ok {
		timer.Reset(in.opts.Debounce)
		return
	}
	in.pending[path] = time.AfterFunc(in.opts.Debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.enqueue(path)
	})
}

// eligible skips directories, hidden files and lock files.
func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".lock") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (in *Inbox) enqueue(path string) {
	ctx := context.Background()

	doc := &store.Document{
		ID:          documentID(path),
		ProjectID:   in.opts.ProjectID,
		FilePath:    path,
		FileName:    filepath.Base(path),
		StorageType: store.StorageLocal,
	}
	if err := in.meta.CreateDocument(ctx, doc); err != nil {
		// Re-dropping the same file is a reprocess, not an error.
		in.logger.Debug("inbox_document_exists", slog.String("path", path))
	}

	taskID := in.workers.Enqueue(in.opts.Environment, task.TypeProcessDocument, map[string]any{
		"document_id": doc.ID,
		"project_id":  doc.ProjectID,
		"file_path":   path,
	})
	in.logger.Info("inbox_enqueued",
		slog.String("path", path),
		slog.String("document_id", doc.ID),
		slog.String("task_id", taskID))
}

// documentID derives a stable ID from the file path, so re-dropping a
// file reprocesses the same document.
func documentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:16])
}
