// Package task defines the queued unit of work and the dispatcher that
// routes tasks to registered handlers.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/docforge/docforge/internal/errors"
)

// Type identifies what a task does. Each type has a registered handler
// and a typed payload.
type Type string

const (
	// TypeProcessDocument runs the extract/chunk/embed/index pipeline.
	TypeProcessDocument Type = "process_document"

	// TypeExtractGraph builds a keyword graph from a document's chunks
	// and merges it into the project canvas.
	TypeExtractGraph Type = "extract_graph"

	// TypeSyncCanvas saves a canvas payload under optimistic locking.
	TypeSyncCanvas Type = "sync_canvas"

	// TypeCleanupCanvas removes a deleted document's nodes from the
	// project canvas.
	TypeCleanupCanvas Type = "cleanup_canvas"

	// TypeReconcileCleanup sweeps the pending cleanup queue.
	TypeReconcileCleanup Type = "reconcile_cleanup"
)

// Status is a task's queue state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusDead      Status = "dead"
)

// Task is one queued unit of work. The payload stays opaque until the
// handler decodes it into its typed form.
type Task struct {
	ID          string
	Type        Type
	Environment string
	Payload     map[string]any

	Status      Status
	Attempts    int
	MaxAttempts int
	LastError   string

	EnqueuedAt  time.Time
	NextRunAt   time.Time
	CompletedAt time.Time
}

// New creates a queued task with a fresh ID.
func New(id string, taskType Type, environment string, payload map[string]any) *Task {
	return &Task{
		ID:          id,
		Type:        taskType,
		Environment: environment,
		Payload:     payload,
		Status:      StatusQueued,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// DocumentID returns the document this task operates on, or "" when the
// task is not document-scoped. The worker pool uses it to keep at most
// one active handler per document.
func (t *Task) DocumentID() string {
	if t.Payload == nil {
		return ""
	}
	if id, ok := t.Payload["document_id"].(string); ok {
		return id
	}
	return ""
}

// ProcessDocumentPayload starts the processing pipeline for a document.
type ProcessDocumentPayload struct {
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
	FilePath   string `json:"file_path"`
}

func (p ProcessDocumentPayload) validate() error {
	if p.DocumentID == "" || p.ProjectID == "" || p.FilePath == "" {
		return fmt.Errorf("document_id, project_id and file_path are required")
	}
	return nil
}

// ExtractGraphPayload builds a keyword graph for a processed document.
type ExtractGraphPayload struct {
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
}

func (p ExtractGraphPayload) validate() error {
	if p.DocumentID == "" || p.ProjectID == "" {
		return fmt.Errorf("document_id and project_id are required")
	}
	return nil
}

// SyncCanvasPayload saves canvas data for a project.
type SyncCanvasPayload struct {
	ProjectID string          `json:"project_id"`
	Data      json.RawMessage `json:"data"`
}

func (p SyncCanvasPayload) validate() error {
	if p.ProjectID == "" || len(p.Data) == 0 {
		return fmt.Errorf("project_id and data are required")
	}
	return nil
}

// CleanupCanvasPayload removes a document's nodes from a canvas.
type CleanupCanvasPayload struct {
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
}

func (p CleanupCanvasPayload) validate() error {
	if p.ProjectID == "" || p.DocumentID == "" {
		return fmt.Errorf("project_id and document_id are required")
	}
	return nil
}

// ReconcileCleanupPayload sweeps the cleanup queue.
type ReconcileCleanupPayload struct {
	Limit int `json:"limit"`
}

func (p ReconcileCleanupPayload) validate() error {
	return nil
}

type validatable interface {
	validate() error
}

// DecodePayload decodes a task's opaque payload into its typed form.
// Malformed or incomplete payloads fail permanently; retrying cannot
// repair a bad payload.
func DecodePayload[P validatable](t *Task) (P, error) {
	var payload P

	raw, err := json.Marshal(t.Payload)
	if err != nil {
		return payload, errors.Wrap(errors.ErrCodeBadPayload, err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, errors.New(errors.ErrCodeBadPayload,
			fmt.Sprintf("payload does not match task type %s", t.Type), err)
	}
	if err := payload.validate(); err != nil {
		return payload, errors.New(errors.ErrCodeBadPayload, err.Error(), nil).
			WithDetail("task_type", string(t.Type))
	}
	return payload, nil
}
