// Package storage abstracts deletion of a document's backing file.
// The cleanup reconciler retries these deletions, so failures are
// reported as transient.
package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/store"
)

// Service deletes raw document files from their backing storage.
type Service interface {
	// Delete removes the file. Deleting a file that is already gone
	// succeeds, so retries are idempotent.
	Delete(ctx context.Context, filePath string, storageType store.StorageType) error
}

// Local deletes files from the local filesystem.
type Local struct{}

// Verify interface implementation at compile time
var _ Service = (*Local)(nil)

// NewLocal creates a local filesystem storage service.
func NewLocal() *Local {
	return &Local{}
}

// Delete removes the file from disk.
func (l *Local) Delete(ctx context.Context, filePath string, storageType store.StorageType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if storageType != store.StorageLocal {
		return errors.New(errors.ErrCodeCleanupFailed,
			fmt.Sprintf("unsupported storage type %q", storageType), nil)
	}

	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeCleanupFailed, err).
			WithDetail("path", filePath)
	}
	return nil
}
