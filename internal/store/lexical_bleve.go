package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveLexicalIndex implements LexicalIndex using Bleve v2 BM25 scoring.
// It is the alternative lexical backend for deployments that want
// segment-based indexing instead of SQLite FTS5.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// bleveChunk is the indexed document shape.
type bleveChunk struct {
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// NewBleveLexicalIndex opens (or creates) the Bleve index at path.
// An empty path creates an in-memory index for testing.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	indexMapping, err := createChunkMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, fmt.Errorf("create directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

// createChunkMapping indexes content as analyzed text and the project
// and document IDs as exact keywords for filtering.
func createChunkMapping() (*mapping.IndexMappingImpl, error) {
	contentField := bleve.NewTextFieldMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("content", contentField)
	chunkMapping.AddFieldMappingsAt("project_id", idField)
	chunkMapping.AddFieldMappingsAt("document_id", idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = chunkMapping
	return indexMapping, nil
}

// Index adds or replaces chunks.
func (b *BleveLexicalIndex) Index(ctx context.Context, chunks []*DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := bleveChunk{ProjectID: c.ProjectID, DocumentID: c.DocumentID, Content: c.Content}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search returns chunks in projectID matching query, best first.
func (b *BleveLexicalIndex) Search(ctx context.Context, projectID, documentID, query string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if strings.TrimSpace(query) == "" {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	projectQuery := bleve.NewTermQuery(projectID)
	projectQuery.SetField("project_id")

	conjunction := bleve.NewConjunctionQuery(matchQuery, projectQuery)
	if documentID != "" {
		docQuery := bleve.NewTermQuery(documentID)
		docQuery.SetField("document_id")
		conjunction.AddQuery(docQuery)
	}

	searchRequest := bleve.NewSearchRequest(conjunction)
	searchRequest.Size = limit

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{ChunkID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// DeleteByDocument removes all of a document's chunks.
func (b *BleveLexicalIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	docQuery := bleve.NewTermQuery(documentID)
	docQuery.SetField("document_id")

	req := bleve.NewSearchRequest(docQuery)
	count, _ := b.index.DocCount()
	req.Size = int(count)
	req.Fields = []string{}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("find document chunks: %w", err)
	}

	batch := b.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveLexicalIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return int(n), nil
}

// Close closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
