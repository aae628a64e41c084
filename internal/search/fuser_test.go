package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/embed"
	"github.com/docforge/docforge/internal/store"
)

type fakeAdapter struct {
	hits []Scored
	err  error

	gotDocumentID string
}

func (f *fakeAdapter) Retrieve(ctx context.Context, projectID, documentID, query string, k int) ([]Scored, error) {
	f.gotDocumentID = documentID
	return f.hits, f.err
}

// seedChunks inserts chunk metadata so hydration can resolve candidates.
func seedChunks(t *testing.T, s *store.Store, chunks []*store.DocumentChunk) {
	t.Helper()
	ctx := context.Background()
	byDoc := map[string][]*store.DocumentChunk{}
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for docID, docChunks := range byDoc {
		require.NoError(t, s.CreateDocument(ctx, &store.Document{
			ID: docID, ProjectID: docChunks[0].ProjectID,
			FilePath: "/data/" + docID, FileName: docID,
		}))
		require.NoError(t, s.ReplaceChunks(ctx, docID, docChunks))
	}
}

func newTestFuser(t *testing.T, vector VectorAdapter, lexical LexicalAdapter, chunks []*store.DocumentChunk) *Fuser {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	seedChunks(t, s, chunks)
	return NewFuser(vector, lexical, s, nil)
}

func chunkMeta(id string, index, page int) *store.DocumentChunk {
	return &store.DocumentChunk{
		ID: id, DocumentID: "d-1", ProjectID: "proj-1",
		Index: index, PageNumber: page, Content: "content of " + id,
	}
}

func TestFuser_WeightedFusion(t *testing.T) {
	// c-both appears in both sources; c-vec and c-lex in one each.
	vector := &fakeAdapter{hits: []Scored{
		{ChunkID: "c-vec", Score: 0.9},
		{ChunkID: "c-both", Score: 0.5},
		{ChunkID: "c-low", Score: 0.1},
	}}
	lexical := &fakeAdapter{hits: []Scored{
		{ChunkID: "c-both", Score: 8.0},
		{ChunkID: "c-lex", Score: 2.0},
	}}
	f := newTestFuser(t, vector, lexical, []*store.DocumentChunk{
		chunkMeta("c-vec", 0, 1), chunkMeta("c-both", 1, 1),
		chunkMeta("c-low", 2, 2), chunkMeta("c-lex", 3, 2),
	})

	results, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q",
		VectorWeight: 0.6, KeywordWeight: 0.4, MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Min-max over vector list: c-vec 1.0, c-both 0.5, c-low 0.0.
	// Over lexical list: c-both 1.0, c-lex 0.0.
	// Fused: c-both 0.6*0.5+0.4*1.0 = 0.7, c-vec 0.6, c-lex 0, c-low 0.
	assert.Equal(t, "c-both", results[0].ChunkID)
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)
	assert.Equal(t, "c-vec", results[1].ChunkID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-9)

	// The two zero-score chunks tie; the lower chunk index on the same
	// page wins.
	assert.Equal(t, "c-low", results[2].ChunkID)
	assert.Equal(t, "c-lex", results[3].ChunkID)
}

func TestFuser_TieBreaksByPageThenIndex(t *testing.T) {
	vector := &fakeAdapter{hits: []Scored{
		{ChunkID: "c-p3", Score: 0.5},
		{ChunkID: "c-p1b", Score: 0.5},
		{ChunkID: "c-p1a", Score: 0.5},
	}}
	f := newTestFuser(t, vector, &fakeAdapter{}, []*store.DocumentChunk{
		chunkMeta("c-p3", 5, 3), chunkMeta("c-p1b", 2, 1), chunkMeta("c-p1a", 1, 1),
	})

	results, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q",
		VectorWeight: 1.0, KeywordWeight: 0.0,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c-p1a", results[0].ChunkID, "lower page, lower index first")
	assert.Equal(t, "c-p1b", results[1].ChunkID)
	assert.Equal(t, "c-p3", results[2].ChunkID)
}

func TestFuser_ZeroKeywordWeightMatchesVectorOrdering(t *testing.T) {
	vector := &fakeAdapter{hits: []Scored{
		{ChunkID: "c-a", Score: 0.95},
		{ChunkID: "c-b", Score: 0.70},
		{ChunkID: "c-c", Score: 0.40},
		{ChunkID: "c-d", Score: 0.10},
	}}
	// A lexical source that would reorder everything if consulted.
	lexical := &fakeAdapter{hits: []Scored{
		{ChunkID: "c-d", Score: 100},
		{ChunkID: "c-c", Score: 90},
	}}
	var chunks []*store.DocumentChunk
	for i, id := range []string{"c-a", "c-b", "c-c", "c-d"} {
		chunks = append(chunks, chunkMeta(id, i, 1))
	}
	f := newTestFuser(t, vector, lexical, chunks)

	results, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q",
		VectorWeight: 1.0, KeywordWeight: 0.0,
	})
	require.NoError(t, err)

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.ChunkID
	}
	assert.Equal(t, []string{"c-a", "c-b", "c-c", "c-d"}, got,
		"zero keyword weight must reproduce the vector ordering")
}

func TestFuser_DegenerateListNormalizesToOne(t *testing.T) {
	vector := &fakeAdapter{hits: []Scored{{ChunkID: "c-only", Score: 0.42}}}
	f := newTestFuser(t, vector, &fakeAdapter{}, []*store.DocumentChunk{chunkMeta("c-only", 0, 1)})

	results, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q",
		VectorWeight: 0.65, KeywordWeight: 0.35,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.65, results[0].Score, 1e-9, "single candidate normalizes to 1.0")
	assert.InDelta(t, 1.0, results[0].VectorScore, 1e-9)
}

func TestFuser_ForwardsDocumentFilterToBothSources(t *testing.T) {
	vector := &fakeAdapter{hits: []Scored{{ChunkID: "c-want", Score: 0.9}}}
	lexical := &fakeAdapter{}
	f := newTestFuser(t, vector, lexical, []*store.DocumentChunk{
		chunkMeta("c-want", 0, 1),
	})

	results, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q", DocumentID: "d-1",
		VectorWeight: 0.6, KeywordWeight: 0.4,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d-1", results[0].DocumentID)

	// Scoping happens at retrieval, not after fusion.
	assert.Equal(t, "d-1", vector.gotDocumentID)
	assert.Equal(t, "d-1", lexical.gotDocumentID)
}

func TestFuser_TruncatesToMaxResults(t *testing.T) {
	var hits []Scored
	var chunks []*store.DocumentChunk
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("c-%02d", i)
		hits = append(hits, Scored{ChunkID: id, Score: float64(20 - i)})
		chunks = append(chunks, chunkMeta(id, i, 1))
	}
	f := newTestFuser(t, &fakeAdapter{hits: hits}, &fakeAdapter{}, chunks)

	results, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q",
		VectorWeight: 1.0, KeywordWeight: 0.0, MaxResults: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "c-00", results[0].ChunkID)
}

func TestFuser_SourceErrorFailsSearch(t *testing.T) {
	vector := &fakeAdapter{err: fmt.Errorf("vector store unavailable")}
	f := newTestFuser(t, vector, &fakeAdapter{}, nil)

	_, err := f.Search(context.Background(), Options{
		ProjectID: "proj-1", Query: "q",
		VectorWeight: 0.65, KeywordWeight: 0.35,
	})
	require.Error(t, err)
}

func TestStoreVectorAdapter_FiltersByProject(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open("")
	require.NoError(t, err)
	defer s.Close()

	embedder := embed.NewStaticEmbedder(64)
	vectors, err := store.NewHNSWVectorStore(store.DefaultVectorConfig(64))
	require.NoError(t, err)
	defer vectors.Close()

	seedChunks(t, s, []*store.DocumentChunk{
		{ID: "c-a", DocumentID: "d-a", ProjectID: "proj-a", Index: 0, PageNumber: 1, Content: "shared topic text"},
	})
	seedChunks(t, s, []*store.DocumentChunk{
		{ID: "c-b", DocumentID: "d-b", ProjectID: "proj-b", Index: 0, PageNumber: 1, Content: "shared topic text"},
	})
	for _, id := range []string{"c-a", "c-b"} {
		vec, err := embedder.Embed(ctx, "shared topic text")
		require.NoError(t, err)
		require.NoError(t, vectors.Add(ctx, []string{id}, [][]float32{vec}))
	}

	adapter := NewStoreVectorAdapter(embedder, vectors, s)
	hits, err := adapter.Retrieve(ctx, "proj-a", "", "shared topic", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c-a", hits[0].ChunkID)
}

// A document whose chunks rank below the project-wide top-k must still
// be reachable when the search is scoped to it.
func TestStoreVectorAdapter_DocumentFilterReachesLowRankedChunks(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open("")
	require.NoError(t, err)
	defer s.Close()

	embedder := embed.NewStaticEmbedder(64)
	vectors, err := store.NewHNSWVectorStore(store.DefaultVectorConfig(64))
	require.NoError(t, err)
	defer vectors.Close()

	// d-other dominates the neighborhood: its chunks repeat the query
	// text verbatim, so they all outrank d-want's single chunk.
	var dominant []*store.DocumentChunk
	for i := 0; i < 10; i++ {
		dominant = append(dominant, &store.DocumentChunk{
			ID: fmt.Sprintf("c-other-%d", i), DocumentID: "d-other", ProjectID: "proj-a",
			Index: i, PageNumber: 1, Content: "shared topic text",
		})
	}
	seedChunks(t, s, dominant)
	seedChunks(t, s, []*store.DocumentChunk{
		{ID: "c-want", DocumentID: "d-want", ProjectID: "proj-a", Index: 0, PageNumber: 1,
			Content: "an unrelated passage about llamas"},
	})
	for _, c := range append(dominant, &store.DocumentChunk{ID: "c-want", Content: "an unrelated passage about llamas"}) {
		vec, err := embedder.Embed(ctx, c.Content)
		require.NoError(t, err)
		require.NoError(t, vectors.Add(ctx, []string{c.ID}, [][]float32{vec}))
	}

	adapter := NewStoreVectorAdapter(embedder, vectors, s)

	// Unscoped, k=2 with oversampling never surfaces d-want.
	hits, err := adapter.Retrieve(ctx, "proj-a", "", "shared topic text", 2)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "c-want", h.ChunkID)
	}

	// Scoped to d-want, its chunk comes back despite its low rank.
	hits, err = adapter.Retrieve(ctx, "proj-a", "d-want", "shared topic text", 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c-want", hits[0].ChunkID)
}

func TestStoreLexicalAdapter_Retrieve(t *testing.T) {
	ctx := context.Background()
	idx, err := store.NewSQLiteLexicalIndex("")
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Index(ctx, []*store.DocumentChunk{
		{ID: "c-1", DocumentID: "d-1", ProjectID: "proj-a", Content: "keyword heavy content"},
	}))

	adapter := NewStoreLexicalAdapter(idx)
	hits, err := adapter.Retrieve(ctx, "proj-a", "", "keyword", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c-1", hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = adapter.Retrieve(ctx, "proj-a", "d-2", "keyword", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "document filter excludes other documents")
}
