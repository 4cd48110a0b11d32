// Package tree copies and measures working-tree directories.
//
// The orchestrator materializes writable working trees from read-only store
// snapshots, and the store copies finished trees into staged entries. Both
// use [CopyDir], which preserves modes and symlinks and rejects file types
// that cannot be part of an immutable snapshot.
package tree
