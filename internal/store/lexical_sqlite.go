package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5 with BM25
// scoring. WAL mode allows concurrent reader access.
type SQLiteLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex opens (or creates) the FTS5 index at path.
// An empty path creates an in-memory index for testing.
func NewSQLiteLexicalIndex(path string) (*SQLiteLexicalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	idx := &SQLiteLexicalIndex{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize lexical schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteLexicalIndex) initSchema() error {
	// chunk_id, project_id and document_id are UNINDEXED: stored for
	// filtering and deletion but not searchable as text.
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_id UNINDEXED,
		project_id UNINDEXED,
		document_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index adds or replaces chunks. Existing rows for the same chunk ID are
// deleted first.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, chunks []*DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fts_chunks WHERE chunk_id = ?`, c.ID); err != nil {
			return fmt.Errorf("delete existing chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fts_chunks (chunk_id, project_id, document_id, content)
			VALUES (?, ?, ?, ?)`,
			c.ID, c.ProjectID, c.DocumentID, c.Content); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// Search returns chunks in projectID matching query, best first.
// FTS5 bm25() returns negative scores (more negative is better), so the
// score is negated into higher-is-better.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, projectID, documentID, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	ftsQuery := buildMatchQuery(query)
	if ftsQuery == "" {
		return []*LexicalResult{}, nil
	}

	q := `
		SELECT chunk_id, -bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE fts_chunks MATCH ? AND project_id = ?`
	args := []any{ftsQuery, projectID}
	if documentID != "" {
		q += ` AND document_id = ?`
		args = append(args, documentID)
	}
	q += `
		ORDER BY score DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ChunkID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// buildMatchQuery turns free text into an FTS5 OR query of quoted
// terms. Quoting prevents user input from being parsed as FTS syntax.
func buildMatchQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// DeleteByDocument removes all of a document's chunks.
func (s *SQLiteLexicalIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fts_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (s *SQLiteLexicalIndex) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close closes the index.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
