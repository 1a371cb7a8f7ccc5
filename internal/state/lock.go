package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agdt/internal/errs"
)

const lockRetryInterval = 20 * time.Millisecond

// Locker serializes read-modify-write cycles on the state document.
type Locker interface {
	// Lock blocks until the lock is held or timeout elapses, in which case
	// it returns *errs.StateLockTimeoutError.
	Lock(ctx context.Context, timeout time.Duration) (unlock func() error, err error)
}

// FileLocker takes an exclusive flock on a sidecar lock file so that
// separate agdt processes serialize their writes.
type FileLocker struct {
	Path string

	mu sync.Mutex
}

// NewFileLocker returns a locker for statePath + ".lock".
func NewFileLocker(statePath string) *FileLocker {
	return &FileLocker{Path: statePath + ".lock"}
}

func (l *FileLocker) Lock(ctx context.Context, timeout time.Duration) (func() error, error) {
	deadline := time.Now().Add(timeout)
	if !l.lockMutex(ctx, deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &errs.StateLockTimeoutError{Path: l.Path, Timeout: timeout}
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	for {
		ok, err := tryLockExclusive(f)
		if err != nil {
			f.Close()
			l.mu.Unlock()
			return nil, fmt.Errorf("lock %s: %w", l.Path, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			f.Close()
			l.mu.Unlock()
			return nil, &errs.StateLockTimeoutError{Path: l.Path, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			f.Close()
			l.mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			err = unlockFile(f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			l.mu.Unlock()
		})
		return err
	}, nil
}

func (l *FileLocker) lockMutex(ctx context.Context, deadline time.Time) bool {
	for {
		if l.mu.TryLock() {
			return true
		}
		if !time.Now().Before(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(lockRetryInterval)
	}
}

// MutexLocker is an in-process Locker used with in-memory filesystems.
type MutexLocker struct {
	Name string

	mu sync.Mutex
}

func (l *MutexLocker) Lock(ctx context.Context, timeout time.Duration) (func() error, error) {
	deadline := time.Now().Add(timeout)
	for {
		if l.mu.TryLock() {
			var once sync.Once
			return func() error {
				once.Do(l.mu.Unlock)
				return nil
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, &errs.StateLockTimeoutError{Path: l.Name, Timeout: timeout}
		}
		time.Sleep(lockRetryInterval)
	}
}
