package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ReplaceChunks atomically swaps a document's chunks for a new set.
// Re-running the pipeline for a document never leaves stale windows
// behind.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []*DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		c.CreatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, project_id, chunk_index, page_number, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.ProjectID, c.Index, c.PageNumber, c.Content, c.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunks fetches chunks by ID. Missing IDs are skipped.
func (s *Store) GetChunks(ctx context.Context, ids []string) ([]*DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, project_id, chunk_index, page_number, content, created_at
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*DocumentChunk, len(ids))
	for rows.Next() {
		var c DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Index,
			&c.PageNumber, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve input order
	results := make([]*DocumentChunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			results = append(results, c)
		}
	}
	return results, nil
}

// GetChunksByDocument returns a document's chunks in index order.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]*DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, project_id, chunk_index, page_number, content, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*DocumentChunk
	for rows.Next() {
		var c DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Index,
			&c.PageNumber, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// ChunkIDsByDocument returns a document's chunk IDs, for index removal.
func (s *Store) ChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
