package store

import (
	"context"
	"fmt"
	"time"
)

// EnqueueCleanup records that a file's backing storage needs deletion.
// Enqueueing the same file path again resets an existing row to pending
// instead of creating a duplicate, so re-deleting a document is
// idempotent.
func (s *Store) EnqueueCleanup(ctx context.Context, projectID, documentID, filePath string, storageType StorageType) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_cleanups
			(project_id, document_id, file_path, storage_type, status, attempts, last_error, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			document_id = excluded.document_id,
			status = 'pending',
			attempts = 0,
			last_error = '',
			next_attempt_at = excluded.next_attempt_at,
			updated_at = excluded.updated_at`,
		projectID, documentID, filePath, storageType, CleanupPending, now, now, now)
	if err != nil {
		return fmt.Errorf("enqueue cleanup: %w", err)
	}
	return nil
}

// DueCleanups returns pending rows whose next attempt time has passed,
// oldest first, up to limit.
func (s *Store) DueCleanups(ctx context.Context, limit int) ([]*PendingCleanup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, file_path, storage_type, status, attempts, last_error,
		       next_attempt_at, created_at, updated_at
		FROM pending_cleanups
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?`, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due cleanups: %w", err)
	}
	defer rows.Close()

	var items []*PendingCleanup
	for rows.Next() {
		var p PendingCleanup
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.DocumentID, &p.FilePath, &p.StorageType,
			&p.Status, &p.Attempts, &p.LastError,
			&p.NextAttemptAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cleanup: %w", err)
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// ResolveCleanup removes a row whose file was deleted successfully.
func (s *Store) ResolveCleanup(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_cleanups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve cleanup: %w", err)
	}
	return nil
}

// FailCleanup records a failed attempt. The row schedules a later retry,
// or flips to exhausted once attempts reach maxAttempts. Exhausted rows
// stay in the table for operator inspection.
func (s *Store) FailCleanup(ctx context.Context, id int64, attemptErr string, nextAttemptAt time.Time, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_cleanups
		SET attempts = attempts + 1,
		    last_error = ?,
		    next_attempt_at = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN 'exhausted' ELSE 'pending' END,
		    updated_at = ?
		WHERE id = ?`,
		attemptErr, nextAttemptAt, maxAttempts, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail cleanup: %w", err)
	}
	return nil
}

// CleanupCounts returns how many rows are pending and exhausted.
func (s *Store) CleanupCounts(ctx context.Context) (pending, exhausted int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'exhausted' THEN 1 ELSE 0 END), 0)
		FROM pending_cleanups`)
	if err := row.Scan(&pending, &exhausted); err != nil {
		return 0, 0, fmt.Errorf("count cleanups: %w", err)
	}
	return pending, exhausted, nil
}

// ListExhaustedCleanups returns rows that ran out of attempts.
func (s *Store) ListExhaustedCleanups(ctx context.Context) ([]*PendingCleanup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, file_path, storage_type, status, attempts, last_error,
		       next_attempt_at, created_at, updated_at
		FROM pending_cleanups WHERE status = 'exhausted' ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("query exhausted cleanups: %w", err)
	}
	defer rows.Close()

	var items []*PendingCleanup
	for rows.Next() {
		var p PendingCleanup
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.DocumentID, &p.FilePath, &p.StorageType,
			&p.Status, &p.Attempts, &p.LastError,
			&p.NextAttemptAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cleanup: %w", err)
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
