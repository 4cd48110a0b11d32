// Package store implements the content-addressable snapshot cache.
//
// Entries are immutable tree snapshots keyed by a pipeline fingerprint.
// On disk an entry is a uniquely named directory under objects/ holding the
// snapshot payload, a lock file, and a state file; a symlink under refs/
// maps the fingerprint to the object. Publication is atomic (symlink
// creation), so a reader never observes a partially written entry and
// concurrent writers racing on the same key resolve to exactly one
// effective write.
//
// Cross-process coordination uses advisory file locks only: readers hold a
// shared lock on an entry while it is retained, writers hold an exclusive
// lock while staging, and pruning takes an exclusive lock before removal.
// A retained entry therefore can never be pruned out from under a live
// build. One store directory may be shared freely between concurrent
// builds and an external administration interface.
package store
