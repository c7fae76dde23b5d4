package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// RunLock is a cross-process lock held by a coordinator for the duration of
// a run, so two runs never flush into the same database at once.
type RunLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRunLock returns the lock guarding the database at dbPath.
// The lock file is <dbPath>.lock.
func NewRunLock(dbPath string) *RunLock {
	lockPath := dbPath + ".lock"
	return &RunLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

// TryLock acquires the lock without blocking. A lock held elsewhere returns
// an ERR_203_STORE_LOCKED error.
func (l *RunLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return holerrors.New(holerrors.ErrCodeStoreLocked, "store is in use by another run", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the other run to finish, or remove the lock file if no run is active")
	}

	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked RunLock.
func (l *RunLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Locked reports whether this RunLock holds the lock.
func (l *RunLock) Locked() bool {
	return l.locked
}
