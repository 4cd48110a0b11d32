package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

// An entry eligible for removal.
type pruneCandidate struct {
	name     string
	key      string
	size     int64
	lastUsed time.Time
}

// Removes least-recently-used entries until usage drops to the limit.
//
// Only entries with no readers are touched: removal requires taking the
// entry's exclusive lock without blocking, so snapshots retained by live
// builds are never removed. Staged directories left behind by crashed
// writers (no state file, lock free) are swept as well. Safe to run while
// builds are in flight, from this or any other process.
func (s *Store) Prune(ctx context.Context, limit int64) error {
	objects, err := os.ReadDir(filepath.Join(s.root, dirObjects))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	var usage int64
	var candidates []pruneCandidate

	for _, obj := range objects {
		if !obj.IsDir() {
			continue
		}

		state, err := s.readState(obj.Name())
		if err != nil {
			s.sweepStale(obj.Name())
			continue
		}

		info, err := os.Stat(filepath.Join(s.root, dirObjects, obj.Name(), stateFile))
		if err != nil {
			continue
		}

		usage += state.Size
		candidates = append(candidates, pruneCandidate{
			name:     obj.Name(),
			key:      state.Key,
			size:     state.Size,
			lastUsed: info.ModTime(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	for _, c := range candidates {
		if usage <= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if !s.removeEntry(c) {
			continue // in use, leave it alone
		}
		usage -= c.size
		slog.Debug("pruned entry", "key", c.key, "size", c.size)
	}

	return nil
}

// Removes one published entry if no one is using it.
//
// The exclusive lock is taken non-blocking; failure means a reader or
// writer is active and the entry survives. On success the ref symlink is
// detached first, then the lock file is unlinked so that late lockers can
// detect the removal, then the directory is deleted.
func (s *Store) removeEntry(c pruneCandidate) bool {
	path := filepath.Join(s.root, dirObjects, c.name)

	lock, err := os.Open(filepath.Join(path, lockFile))
	if err != nil {
		return false
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false
	}

	// Detach the ref only if it still points at this entry. A concurrent
	// writer may have replaced a previously pruned ref with a new object.
	if key, err := digest.Parse(c.key); err == nil {
		refPath := s.refPath(key)
		if target, err := os.Readlink(refPath); err == nil {
			if filepath.Base(target) == c.name {
				os.Remove(refPath)
			}
		}
	}

	os.Remove(filepath.Join(path, lockFile))
	if err := os.RemoveAll(path); err != nil {
		slog.Warn("failed to remove entry", "name", c.name, "error", err)
		return false
	}
	return true
}

// Removes a staged directory whose writer is gone.
//
// A directory without a readable state file is either being staged right
// now (lock held) or left over from a crash (lock free). Only the latter
// is removed.
func (s *Store) sweepStale(name string) {
	path := filepath.Join(s.root, dirObjects, name)

	lock, err := os.Open(filepath.Join(path, lockFile))
	if err != nil {
		if os.IsNotExist(err) {
			// No lock file at all: a torn mkdir. Nothing can be staging it.
			os.RemoveAll(path)
		}
		return
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return
	}

	os.Remove(filepath.Join(path, lockFile))
	os.RemoveAll(path)
	slog.Debug("swept stale staged entry", "name", name)
}
