// Package concurrency provides the per-repo write lock and bounded worker
// pool shared by the orchestrator and daemon, per spec component C11.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when AcquireWithin's deadline elapses before
// the lock is obtained.
var ErrLockTimeout = errors.New("concurrency: timed out waiting for repo lock")

// RepoLock is an OS-level file lock serializing writers to one repo's
// workspace. Only one process (and, within it, one logical writer) may
// hold it at a time; readers never need it.
type RepoLock struct {
	fl *flock.Flock
}

// NewRepoLock creates a lock bound to the given lock file path (normally
// workspace.Layout.RepoLockPath()). The file is created on first
// acquisition if it does not already exist.
func NewRepoLock(path string) *RepoLock {
	return &RepoLock{fl: flock.New(path)}
}

// Acquire blocks until the lock is held or ctx is canceled.
func (l *RepoLock) Acquire(ctx context.Context) error {
	locked, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("concurrency: acquiring repo lock: %w", err)
	}
	if !locked {
		return ctx.Err()
	}
	return nil
}

// AcquireWithin attempts to acquire the lock, giving up with
// ErrLockTimeout if it isn't free within timeout. The daemon uses this to
// skip a repo whose lock is held by another process rather than block its
// whole refresh cycle on it.
func (l *RepoLock) AcquireWithin(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("concurrency: acquiring repo lock: %w", err)
	}
	if !locked {
		return ErrLockTimeout
	}
	return nil
}

// Release unlocks the file. It is safe to call even if Acquire failed;
// release-on-every-exit-path is the caller's responsibility, typically via
// defer immediately after a successful Acquire/AcquireWithin.
func (l *RepoLock) Release() error {
	return l.fl.Unlock()
}

// Locked reports whether this process currently holds the lock.
func (l *RepoLock) Locked() bool {
	return l.fl.Locked()
}
