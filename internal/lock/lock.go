// Package lock provides the exclusive, root-scoped run lock that keeps two
// runs from writing the same lake at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultTimeout is how long Acquire waits for a held lock.
const DefaultTimeout = 10 * time.Minute

// FileName is the lock file created at the lake root.
const FileName = ".lake.lock"

// pollInterval is how often a held lock is retried.
var pollInterval = 250 * time.Millisecond

// TimeoutError is returned when the lock could not be taken in time.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock %s", e.Timeout, e.Path)
}

// Lock is a held lock.
type Lock struct {
	fl *flock.Flock
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Acquire takes the lock at path, waiting at most timeout. A non-positive
// timeout means DefaultTimeout.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(waitCtx, pollInterval)
	switch {
	case ok:
		return &Lock{fl: fl}, nil
	case err == nil, errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, &TimeoutError{Path: path, Timeout: timeout}
	default:
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
}

// Release drops the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// WithLock runs fn while holding the lock at path. The lock is released
// when fn returns or panics.
func WithLock(ctx context.Context, path string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	l, err := Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(ctx)
}
