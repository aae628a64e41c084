package search

import (
	"context"

	"github.com/docforge/docforge/internal/embed"
	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/store"
)

// projectFilterOversample compensates for cross-project hits and
// lazy-deleted vectors in the shared HNSW graph.
const projectFilterOversample = 3

// StoreVectorAdapter retrieves vector candidates by embedding the query
// and filtering graph hits down to the requested project.
type StoreVectorAdapter struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	meta     *store.Store
}

// Verify interface implementation at compile time
var _ VectorAdapter = (*StoreVectorAdapter)(nil)

// NewStoreVectorAdapter creates a vector adapter over the shared stores.
func NewStoreVectorAdapter(embedder embed.Embedder, vectors store.VectorStore, meta *store.Store) *StoreVectorAdapter {
	return &StoreVectorAdapter{embedder: embedder, vectors: vectors, meta: meta}
}

// Retrieve embeds the query and returns the k best chunks in projectID,
// optionally restricted to one document.
func (a *StoreVectorAdapter) Retrieve(ctx context.Context, projectID, documentID, query string, k int) ([]Scored, error) {
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// The graph is not partitioned by project, so oversample and filter.
	searchK := k * projectFilterOversample
	if documentID != "" {
		// A single document's chunks can rank arbitrarily low among the
		// whole corpus, so a document-scoped search must walk the full
		// graph or risk returning nothing.
		if n := a.vectors.Count(); n > searchK {
			searchK = n
		}
	}
	raw, err := a.vectors.Search(ctx, vec, searchK)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ids := make([]string, len(raw))
	for i, r := range raw {
		ids[i] = r.ChunkID
	}
	chunks, err := a.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	wanted := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if c.ProjectID != projectID {
			continue
		}
		if documentID != "" && c.DocumentID != documentID {
			continue
		}
		wanted[c.ID] = true
	}

	results := make([]Scored, 0, k)
	for _, r := range raw {
		if !wanted[r.ChunkID] {
			continue
		}
		results = append(results, Scored{ChunkID: r.ChunkID, Score: float64(r.Score)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// StoreLexicalAdapter retrieves keyword candidates from the lexical
// index, which filters by project natively.
type StoreLexicalAdapter struct {
	index store.LexicalIndex
}

// Verify interface implementation at compile time
var _ LexicalAdapter = (*StoreLexicalAdapter)(nil)

// NewStoreLexicalAdapter creates a lexical adapter over the index.
func NewStoreLexicalAdapter(index store.LexicalIndex) *StoreLexicalAdapter {
	return &StoreLexicalAdapter{index: index}
}

// Retrieve returns the k best keyword matches in projectID, optionally
// restricted to one document. The index filters natively.
func (a *StoreLexicalAdapter) Retrieve(ctx context.Context, projectID, documentID, query string, k int) ([]Scored, error) {
	raw, err := a.index.Search(ctx, projectID, documentID, query, k)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	results := make([]Scored, 0, len(raw))
	for _, r := range raw {
		results = append(results, Scored{ChunkID: r.ChunkID, Score: r.Score})
	}
	return results, nil
}
