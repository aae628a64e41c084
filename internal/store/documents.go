package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"
)

// CreateDocument inserts a new document in PENDING status.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.StorageType == "" {
		doc.StorageType = StorageLocal
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, project_id, file_path, file_name, storage_type, status, stage,
			 progress, progress_message, error_code, error_message, chunk_count, page_count,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.FilePath, doc.FileName, doc.StorageType,
		doc.Status, doc.Stage, doc.Progress, doc.ProgressMsg, doc.ErrorCode, doc.ErrorMsg,
		doc.ChunkCount, doc.PageCount, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_path, file_name, storage_type, status, stage,
		       progress, progress_message, error_code, error_message, chunk_count, page_count,
		       created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns a project's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, file_path, file_name, storage_type, status, stage,
		       progress, progress_message, error_code, error_message, chunk_count, page_count,
		       created_at, updated_at
		FROM documents WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentProgress records a stage transition with its progress
// value and human-readable message. Stages only move forward within one
// processing run.
func (s *Store) UpdateDocumentProgress(ctx context.Context, id string, stage Stage, progress float64, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, stage = ?, progress = ?, progress_message = ?,
		    error_code = '', error_message = '', updated_at = ?
		WHERE id = ?`,
		StatusProcessing, stage, progress, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireRow(res)
}

// MarkDocumentReady moves a document to READY with its final chunk and
// page counts. Terminal states carry no stage.
func (s *Store) MarkDocumentReady(ctx context.Context, id string, chunkCount, pageCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, stage = '', progress = 1.0, progress_message = 'processing complete',
		    chunk_count = ?, page_count = ?, error_code = '', error_message = '', updated_at = ?
		WHERE id = ?`,
		StatusReady, chunkCount, pageCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return requireRow(res)
}

// MarkDocumentError moves a document to ERROR. Terminal states carry no
// stage; the error code records which operation failed and the progress
// message becomes the failure description.
func (s *Store) MarkDocumentError(ctx context.Context, id string, code, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, stage = '', progress_message = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		StatusError, message, code, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return requireRow(res)
}

// DeleteDocument removes a document and, via cascade, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.FilePath, &doc.FileName,
		&doc.StorageType, &doc.Status, &doc.Stage, &doc.Progress, &doc.ProgressMsg,
		&doc.ErrorCode, &doc.ErrorMsg, &doc.ChunkCount, &doc.PageCount,
		&doc.CreatedAt, &doc.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
