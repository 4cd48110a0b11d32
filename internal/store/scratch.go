package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Attempts before giving up on allocating a staged entry. Collisions only
// happen when a concurrent sweep removes the directory between creation and
// locking, so a handful of retries is plenty.
const scratchAttempts = 16

// A staged, not yet published store entry.
//
// The scratch directory is held under an exclusive lock from creation until
// it is either published (release) or discarded (remove). Concurrent sweeps
// recognize staged entries by the held lock and leave them alone.
type scratch struct {
	name string
	path string
	lock *os.File
}

// Allocates a staged entry under a unique random name.
//
// Runs in a retry loop: a concurrent prune may sweep a fresh directory
// before its lock is acquired, in which case allocation simply starts over
// with a new name.
func (s *Store) newScratch() (*scratch, error) {
	for range scratchAttempts {
		name := uuid.NewString()
		path := filepath.Join(s.root, dirObjects, name)

		if err := os.Mkdir(path, 0755); err != nil {
			if os.IsExist(err) {
				continue // name collision, next attempt
			}
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}

		lock, err := os.OpenFile(filepath.Join(path, lockFile), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				continue // directory swept before the lock existed
			}
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}

		if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			// Someone else locked it first and now owns the directory.
			lock.Close()
			continue
		}

		// The lock file may have been unlinked between creation and
		// locking. Whoever did that owns the remains; start over.
		if _, err := os.Stat(filepath.Join(path, lockFile)); err != nil {
			unix.Flock(int(lock.Fd()), unix.LOCK_UN)
			lock.Close()
			continue
		}

		return &scratch{name: name, path: path, lock: lock}, nil
	}

	return nil, fmt.Errorf("%w: could not allocate a staged entry", ErrStore)
}

// Publishes the staged entry by dropping the exclusive lock.
//
// The directory stays in place; readers can acquire shared locks from this
// point on.
func (sc *scratch) release() error {
	if sc.lock == nil {
		return nil
	}
	unix.Flock(int(sc.lock.Fd()), unix.LOCK_UN)
	err := sc.lock.Close()
	sc.lock = nil
	return err
}

// Discards the staged entry and everything in it.
func (sc *scratch) remove() {
	os.RemoveAll(sc.path)
	if sc.lock != nil {
		sc.lock.Close()
		sc.lock = nil
	}
}
