// Package lock provides the reindex lock: a non-blocking, advisory mutual
// exclusion that allows at most one full reindex at a time.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/issueindex/internal/config"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
)

// ReindexLock guards full reindex initiation. TryAcquire never blocks: it
// reports false when the lock is held elsewhere. Release after a failed or
// skipped TryAcquire is a no-op.
type ReindexLock interface {
	TryAcquire() (bool, error)
	Release() error
}

// LocalLock is an in-process ReindexLock.
type LocalLock struct {
	mu sync.Mutex

	stateMu sync.Mutex
	held    bool
}

// NewLocalLock returns an unlocked in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// TryAcquire implements ReindexLock.
func (l *LocalLock) TryAcquire() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	l.stateMu.Lock()
	l.held = true
	l.stateMu.Unlock()
	return true, nil
}

// Release implements ReindexLock.
func (l *LocalLock) Release() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	l.mu.Unlock()
	return nil
}

// FileLock is a cross-process ReindexLock backed by an advisory file lock.
// Several instances over the same path exclude each other, as do several
// goroutines sharing one instance.
type FileLock struct {
	path  string
	local *LocalLock

	mu    sync.Mutex
	flock *flock.Flock
}

// NewFileLock returns a lock on path. The file and its directory are
// created on first acquisition.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  path,
		local: NewLocalLock(),
		flock: flock.New(path),
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// TryAcquire implements ReindexLock.
func (l *FileLock) TryAcquire() (bool, error) {
	ok, _ := l.local.TryAcquire()
	if !ok {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		_ = l.local.Release()
		return false, ierrors.New(ierrors.ErrCodeLockFailed, "failed to create lock directory", err)
	}

	l.mu.Lock()
	acquired, err := l.flock.TryLock()
	l.mu.Unlock()
	if err != nil {
		_ = l.local.Release()
		return false, ierrors.New(ierrors.ErrCodeLockFailed, fmt.Sprintf("failed to lock %s", l.path), err)
	}
	if !acquired {
		_ = l.local.Release()
		return false, nil
	}
	return true, nil
}

// Release implements ReindexLock.
func (l *FileLock) Release() error {
	l.local.stateMu.Lock()
	held := l.local.held
	l.local.stateMu.Unlock()
	if !held {
		return nil
	}

	l.mu.Lock()
	err := l.flock.Unlock()
	l.mu.Unlock()
	_ = l.local.Release()
	if err != nil {
		return ierrors.New(ierrors.ErrCodeLockFailed, fmt.Sprintf("failed to unlock %s", l.path), err)
	}
	return nil
}

// FromConfig builds the lock selected by cfg: "local" or "file".
func FromConfig(cfg config.LockConfig) (ReindexLock, error) {
	switch cfg.Kind {
	case "local":
		return NewLocalLock(), nil
	case "file", "":
		if cfg.Path == "" {
			return nil, ierrors.ConfigError("lock.path is required for a file lock", nil)
		}
		return NewFileLock(cfg.Path), nil
	default:
		return nil, ierrors.ConfigError(fmt.Sprintf("unknown lock kind %q", cfg.Kind), nil)
	}
}
