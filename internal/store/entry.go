package store

import (
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

// A retained, read-only snapshot handle.
//
// The entry holds a shared lock on the underlying object for as long as it
// is retained. The snapshot cannot be pruned until every holder has called
// [Entry.Release]. The tree must not be mutated through this handle; builds
// that need a writable tree materialize their own copy.
type Entry struct {
	key  digest.Digest
	path string
	lock *os.File
}

// Returns the key the entry was retrieved under.
func (e *Entry) Key() digest.Digest {
	return e.key
}

// Returns the path of the read-only snapshot tree.
func (e *Entry) Tree() string {
	return filepath.Join(e.path, treeDir)
}

// Releases the entry, dropping its shared lock.
//
// After release the snapshot may be pruned at any time and the tree path
// must no longer be used. Releasing twice is a no-op.
func (e *Entry) Release() error {
	if e.lock == nil {
		return nil
	}
	unix.Flock(int(e.lock.Fd()), unix.LOCK_UN)
	err := e.lock.Close()
	e.lock = nil
	return err
}
