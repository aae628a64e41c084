package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/docforge/docforge/internal/errors"
)

// GetCanvas fetches a project's canvas. A project without a saved canvas
// gets a zero-value canvas at version 0, which the first SaveCanvas call
// creates.
func (s *Store) GetCanvas(ctx context.Context, projectID string) (*Canvas, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, data, version, updated_at FROM canvases WHERE project_id = ?`, projectID)

	var c Canvas
	var data string
	err := row.Scan(&c.ProjectID, &data, &c.Version, &c.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return &Canvas{ProjectID: projectID, Version: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan canvas: %w", err)
	}
	c.Data = []byte(data)
	return &c, nil
}

// SaveCanvas writes canvas data under optimistic locking.
//
// The write succeeds only when expectedVersion matches the stored
// version; the stored version then becomes expectedVersion+1, which is
// returned. A mismatch returns ErrCodeVersionConflict and the caller
// re-reads, re-applies its change and retries. expectedVersion 0 creates
// the canvas.
func (s *Store) SaveCanvas(ctx context.Context, projectID string, data []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC()
	newVersion := expectedVersion + 1

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO canvases (project_id, data, version, updated_at) VALUES (?, ?, ?, ?)`,
			projectID, string(data), newVersion, now)
		if isConstraintViolation(err) {
			// A concurrent writer created the row first.
			return 0, versionConflict(projectID, expectedVersion)
		}
		if err != nil {
			return 0, fmt.Errorf("insert canvas: %w", err)
		}
		return newVersion, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE canvases SET data = ?, version = ?, updated_at = ?
		WHERE project_id = ? AND version = ?`,
		string(data), newVersion, now, projectID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update canvas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, versionConflict(projectID, expectedVersion)
	}
	return newVersion, nil
}

// DeleteCanvas removes a project's canvas entirely.
func (s *Store) DeleteCanvas(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM canvases WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("delete canvas: %w", err)
	}
	return nil
}

// isConstraintViolation reports whether err is a sqlite uniqueness
// violation, as opposed to an I/O or schema failure.
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	return stderrors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func versionConflict(projectID string, expected int64) error {
	return errors.New(errors.ErrCodeVersionConflict,
		"canvas version changed since read", nil).
		WithDetail("project_id", projectID).
		WithDetail("expected_version", fmt.Sprintf("%d", expected))
}
