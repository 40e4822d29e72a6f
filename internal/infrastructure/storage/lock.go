package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/qmsforge/riskflow/internal/application/port"
)

// Lock files live beside the audit and backup directories, never inside them,
// so a restore that swaps the audit directory keeps them in place.
const (
	lockDir        = ".locks"
	trailLockName  = "trail.lock"
	lockRetryDelay = 5 * time.Millisecond
)

// Processes sharing a data directory coordinate through advisory file locks
// that mirror the in-process ones: the trail lock is shared by appends and
// readers and exclusive for backup and restore, and each partition has an
// exclusive append lock. Acquisition order is gate, trail, partition mutex,
// partition file.

// enterShared holds the trail for reading or appending
func (s *FileAuditStore) enterShared(ctx context.Context) (func(), error) {
	s.gate.RLock()
	release, err := acquireFileLock(ctx, s.lockPath(trailLockName), false)
	if err != nil {
		s.gate.RUnlock()
		return nil, err
	}
	return func() {
		release()
		s.gate.RUnlock()
	}, nil
}

// enterExclusive holds the whole trail for backup and restore
func (s *FileAuditStore) enterExclusive(ctx context.Context) (func(), error) {
	s.gate.Lock()
	release, err := acquireFileLock(ctx, s.lockPath(trailLockName), true)
	if err != nil {
		s.gate.Unlock()
		return nil, err
	}
	return func() {
		release()
		s.gate.Unlock()
	}, nil
}

// lockPartition serializes appends to riskID within and across processes.
// The caller must hold the trail through enterShared.
func (s *FileAuditStore) lockPartition(ctx context.Context, riskID string) (func(), error) {
	mu := s.lockFor(riskID)
	mu.Lock()
	release, err := acquireFileLock(ctx, s.lockPath(riskID+".lock"), true)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

func (s *FileAuditStore) lockPath(name string) string {
	return s.files.GetFullPath(filepath.Join(lockDir, name))
}

// acquireFileLock opens its own descriptor each time, so two holders in one
// process exclude each other exactly like two processes do.
func acquireFileLock(ctx context.Context, path string, exclusive bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create lock directory: %w", port.ErrStorage, err)
	}

	fl := flock.New(path)
	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !locked {
		_ = fl.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			err = fmt.Errorf("lock not acquired")
		}
		return nil, fmt.Errorf("%w: failed to lock %s: %w", port.ErrStorage, filepath.Base(path), err)
	}

	return func() { _ = fl.Unlock() }, nil
}
