package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/olympus-org/olympus/internal/core"
)

// RunLocks hands out one exclusive lock per plan so two executors never run
// the same plan concurrently. The lock is a file lock under dir, which also
// fences off a second process pointed at the same data directory.
type RunLocks struct {
	dir string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewRunLocks returns a lock manager rooted at dir. The directory is created
// on first Acquire.
func NewRunLocks(dir string) *RunLocks {
	return &RunLocks{
		dir:   dir,
		locks: make(map[string]*flock.Flock),
	}
}

// Acquire takes the plan's lock without blocking. It returns a release
// function on success and core.ErrPlanLocked when another run holds it.
func (l *RunLocks) Acquire(planID string) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.locks[planID]; held {
		return nil, fmt.Errorf("%w: %s", core.ErrPlanLocked, planID)
	}
	if err := os.MkdirAll(l.dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	fl := flock.New(filepath.Join(l.dir, planID+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock plan %s: %w", planID, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", core.ErrPlanLocked, planID)
	}
	l.locks[planID] = fl

	release := func() error {
		l.mu.Lock()
		delete(l.locks, planID)
		l.mu.Unlock()
		return fl.Unlock()
	}
	return release, nil
}

// Held reports whether this process currently holds the plan's lock.
func (l *RunLocks) Held(planID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.locks[planID]
	return held
}
