package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"

	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/tree"
)

const (

	// Directory holding the immutable snapshot entries.
	dirObjects = "objects"

	// Directory holding the fingerprint-keyed symlinks into objects.
	dirRefs = "refs"

	// Lock file inside each entry. Writers hold it exclusively while the
	// entry is staged or removed; readers hold it shared while the entry
	// is in use.
	lockFile = "entry.lock"

	// State file inside each entry, describing key and size. Its mtime is
	// the entry's last-use clock.
	stateFile = "entry.json"

	// Subdirectory inside each entry holding the snapshot payload.
	treeDir = "tree"
)

// A content-addressable store of immutable tree snapshots.
//
// A single store directory can be shared between many concurrent builds and
// processes. All coordination happens through advisory file locks and atomic
// symlink publication; the store keeps no in-process state beyond its root
// path.
type Store struct {
	root string
}

// Metadata kept inside each entry.
type entryState struct {
	Key     string    `json:"key"`
	Created time.Time `json:"created"`
	Size    int64     `json:"size"`
}

// Opens a store at the given root, creating the scaffolding directories if
// they do not exist.
func Open(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, dirObjects), filepath.Join(root, dirRefs)} {
		if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	return &Store{root: root}, nil
}

// Returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Returns the path of the ref symlink for a key.
func (s *Store) refPath(key digest.Digest) string {
	return filepath.Join(s.root, dirRefs, key.Encoded())
}

// Looks up a snapshot and retains it.
//
// On a hit the returned entry holds a shared lock that pins the snapshot
// until [Entry.Release] is called: pruning cannot remove a retained entry.
// A missing ref, an entry still being written, or any read I/O failure is
// reported as [ErrMiss]; the store fails open to correctness, never
// availability.
func (s *Store) Get(key digest.Digest) (*Entry, error) {
	target, err := os.Readlink(s.refPath(key))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("store read failed, treating as miss", "key", key.Encoded(), "error", err)
		}
		return nil, ErrMiss
	}

	// The symlink target is relative to the refs directory.
	path := filepath.Join(s.root, dirRefs, target)

	lock, err := os.Open(filepath.Join(path, lockFile))
	if err != nil {
		return nil, ErrMiss
	}

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		// Exclusively locked: the entry is being staged or pruned.
		lock.Close()
		return nil, ErrMiss
	}

	// The lock file may have been unlinked between open and flock, in which
	// case we hold an anonymous lock that pins nothing. Check that it is
	// still in place.
	if _, err := os.Stat(filepath.Join(path, lockFile)); err != nil {
		unix.Flock(int(lock.Fd()), unix.LOCK_UN)
		lock.Close()
		return nil, ErrMiss
	}

	// Bump the last-use clock. Best-effort; a failure only skews pruning.
	now := time.Now()
	if err := os.Chtimes(filepath.Join(path, stateFile), now, now); err != nil {
		slog.Debug("failed to bump entry clock", "key", key.Encoded(), "error", err)
	}

	return &Entry{key: key, path: path, lock: lock}, nil
}

// Publishes a tree snapshot under the given key.
//
// The tree is copied into a freshly staged entry held under an exclusive
// lock, then published atomically by linking the ref symlink. If another
// writer published the same key first, the staged copy is discarded and Put
// returns nil: concurrent builds computing the same fingerprint never
// corrupt each other's entries, and at most one write takes effect per key.
func (s *Store) Put(key digest.Digest, treePath string) error {
	// A ref that already exists means the work is redundant. This check is
	// advisory; the symlink publish below is what resolves races.
	if _, err := os.Readlink(s.refPath(key)); err == nil {
		return nil
	}

	scratch, err := s.newScratch()
	if err != nil {
		return err
	}

	if err := tree.CopyDir(filepath.Join(scratch.path, treeDir), treePath); err != nil {
		scratch.remove()
		return fmt.Errorf("%w: staging %s: %v", ErrStore, key.Encoded(), err)
	}

	size, err := tree.Size(filepath.Join(scratch.path, treeDir))
	if err != nil {
		scratch.remove()
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	state, err := json.Marshal(entryState{
		Key:     key.String(),
		Created: time.Now().UTC(),
		Size:    size,
	})
	if err != nil {
		scratch.remove()
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := os.WriteFile(filepath.Join(scratch.path, stateFile), state, paths.DefaultFileMode); err != nil {
		scratch.remove()
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	// Publish. symlink(2) is atomic and fails with EEXIST if a concurrent
	// writer won the race, in which case our staged entry is redundant.
	err = os.Symlink(filepath.Join("..", dirObjects, scratch.name), s.refPath(key))
	if err != nil {
		scratch.remove()
		if os.IsExist(err) {
			slog.Debug("key already published, discarding staged entry", "key", key.Encoded())
			return nil
		}
		return fmt.Errorf("%w: publishing %s: %v", ErrStore, key.Encoded(), err)
	}

	return scratch.release()
}

// Returns the total size in bytes of all published entries.
func (s *Store) Usage() (int64, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dirObjects))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}

	var total int64
	for _, e := range entries {
		state, err := s.readState(e.Name())
		if err != nil {
			continue // staged or torn entry, not published
		}
		total += state.Size
	}
	return total, nil
}

// Returns the number of published entries.
func (s *Store) Entries() (int, error) {
	refs, err := os.ReadDir(filepath.Join(s.root, dirRefs))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return len(refs), nil
}

// Reads the state file of an entry by object name.
func (s *Store) readState(name string) (*entryState, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dirObjects, name, stateFile))
	if err != nil {
		return nil, err
	}
	var state entryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
