package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DataLock is a cross-process lock on the data directory. The serve
// process holds it so a second instance cannot corrupt the SQLite and
// vector files with concurrent writes.
type DataLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataLock creates a lock for the given data directory. The lock
// file lives at <dir>/.docforge.lock.
func NewDataLock(dir string) *DataLock {
	lockPath := filepath.Join(dir, ".docforge.lock")
	return &DataLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryAcquire attempts the lock without blocking. It returns false when
// another process already holds it.
func (l *DataLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire data lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Release unlocks. Releasing an unheld lock is a no-op.
func (l *DataLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release data lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.path
}
