package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix = ".lock"
)

// RunLock is a file-based lock that keeps two drugsync processes from
// loading into the same database at once.
type RunLock struct {
	lock *flock.Flock
	path string
}

// NewRunLock creates a lock next to target. target is usually the SQLite
// file or, for server databases, a file in the output directory.
func NewRunLock(target string) (*RunLock, error) {
	absPath, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute lock path: %w", err)
	}
	lockPath := absPath
	if filepath.Ext(lockPath) != lockFileSuffix {
		lockPath += lockFileSuffix
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create lock directory: %w", err)
	}
	return &RunLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string { return l.path }

// Lock acquires the lock, waiting if necessary.
// It logs a message if it has to wait.
func (l *RunLock) Lock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}

	if !locked {
		Log.Warnf("Another drugsync run holds %s, waiting for it to finish...", l.path)
		if err := l.lock.Lock(); err != nil {
			return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.path, err)
		}
	}
	return nil
}

// TryLock acquires the lock without waiting and reports whether it succeeded.
func (l *RunLock) TryLock() (bool, error) {
	locked, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	return locked, nil
}

// Unlock releases the lock.
func (l *RunLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		// Suppress error if the lock file doesn't exist, as it means we don't hold the lock.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
