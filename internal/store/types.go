// Package store persists documents, chunks, canvases and cleanup state in
// SQLite, and provides the lexical (FTS5 or Bleve) and vector (HNSW)
// indexes used for retrieval.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusReady      DocumentStatus = "READY"
	StatusError      DocumentStatus = "ERROR"
)

// Stage is the processing sub-stage of a PROCESSING document.
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
)

// stageOrder defines the forward-only stage progression.
var stageOrder = map[Stage]int{
	StageExtracting: 0,
	StageChunking:   1,
	StageEmbedding:  2,
	StageIndexing:   3,
}

// StageAdvances reports whether moving from to next is a forward
// transition. A fresh run may restart from the first stage.
func StageAdvances(from, to Stage) bool {
	if from == "" || to == StageExtracting {
		return true
	}
	return stageOrder[to] > stageOrder[from]
}

// StorageType identifies where a document's raw file lives.
type StorageType string

const (
	StorageLocal StorageType = "local"
	StorageS3    StorageType = "s3"
)

// Document is an uploaded file tracked through the processing pipeline.
type Document struct {
	ID          string
	ProjectID   string
	FilePath    string
	FileName    string
	StorageType StorageType
	Status      DocumentStatus
	Stage       Stage
	Progress    float64 // 0.0 to 1.0
	ProgressMsg string
	ErrorCode   string
	ErrorMsg    string
	ChunkCount  int
	PageCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentChunk is one indexed window of a document's text.
type DocumentChunk struct {
	ID         string
	DocumentID string
	ProjectID  string
	Index      int // 0-based, contiguous across pages
	PageNumber int // 1-based source page
	Content    string
	CreatedAt  time.Time
}

// Canvas is a project's knowledge canvas, saved as an opaque JSON
// payload under optimistic locking.
type Canvas struct {
	ProjectID string
	Data      []byte // JSON document
	Version   int64
	UpdatedAt time.Time
}

// CleanupStatus is the state of a pending cleanup row.
type CleanupStatus string

const (
	CleanupPending   CleanupStatus = "pending"
	CleanupExhausted CleanupStatus = "exhausted"
)

// PendingCleanup is a file whose backing storage still needs deletion.
// Rows are unique per file path; exhausted rows are retained for
// operator inspection.
type PendingCleanup struct {
	ID            int64
	ProjectID     string
	DocumentID    string
	FilePath      string
	StorageType   StorageType
	Status        CleanupStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LexicalResult is a single keyword search hit.
type LexicalResult struct {
	ChunkID string
	Score   float64 // higher is better
}

// LexicalIndex provides keyword search over chunk content.
type LexicalIndex interface {
	// Index adds or replaces chunks in the index.
	Index(ctx context.Context, chunks []*DocumentChunk) error

	// Search returns chunks in projectID matching query, best first.
	// A non-empty documentID restricts matches to that document.
	Search(ctx context.Context, projectID, documentID, query string, limit int) ([]*LexicalResult, error)

	// DeleteByDocument removes all of a document's chunks.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count returns the number of indexed chunks.
	Count() (int, error)

	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ChunkID  string
	Distance float32 // cosine distance, lower is more similar
	Score    float32 // normalized similarity, 0 to 1
}

// VectorStore provides approximate nearest neighbor search.
type VectorStore interface {
	// Add inserts vectors with their chunk IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by chunk ID.
	Delete(ctx context.Context, ids []string) error

	// Contains checks if a chunk ID exists.
	Contains(id string) bool

	// Count returns the number of vectors.
	Count() int

	// Save and Load persist the index to disk.
	Save(path string) error
	Load(path string) error

	Close() error
}

// VectorConfig configures the HNSW vector store.
type VectorConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorConfig returns vector store defaults for a dimension.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates a vector of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
