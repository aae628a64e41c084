// Package search implements hybrid retrieval: vector and keyword
// candidates are fetched in parallel, their scores normalized, and the
// weighted fusion returned in deterministic order.
package search

import "context"

// Scored is one candidate from a single retrieval source.
type Scored struct {
	ChunkID string
	Score   float64 // higher is better, source-specific scale
}

// VectorAdapter retrieves semantically similar chunks. A non-empty
// documentID restricts candidates to that document.
type VectorAdapter interface {
	Retrieve(ctx context.Context, projectID, documentID, query string, k int) ([]Scored, error)
}

// LexicalAdapter retrieves keyword-matching chunks. A non-empty
// documentID restricts candidates to that document.
type LexicalAdapter interface {
	Retrieve(ctx context.Context, projectID, documentID, query string, k int) ([]Scored, error)
}

// Options controls one hybrid search.
type Options struct {
	ProjectID string
	Query     string

	// DocumentID, when set, restricts results to a single document.
	DocumentID string

	// MaxResults caps the returned result count.
	MaxResults int

	// VectorWeight and KeywordWeight scale the normalized source scores.
	// A zero KeywordWeight makes the ordering equivalent to vector-only
	// retrieval.
	VectorWeight  float64
	KeywordWeight float64

	// CandidateK is how many candidates each source contributes before
	// fusion.
	CandidateK int
}

// Result is one fused search hit.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ProjectID  string  `json:"project_id"`
	PageNumber int     `json:"page_number"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`

	// Per-source normalized scores, for debugging relevance.
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
}
