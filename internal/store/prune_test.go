package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func TestPruneToZero(t *testing.T) {
	s, src := testStore(t)

	if err := s.Put(digest.FromString("a"), src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(digest.FromString("b"), src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Prune(context.Background(), 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	usage, err := s.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage != 0 {
		t.Fatalf("usage = %d after full prune, want 0", usage)
	}

	if _, err := s.Get(digest.FromString("a")); !errors.Is(err, ErrMiss) {
		t.Fatalf("err = %v, want ErrMiss after prune", err)
	}
}

func TestPruneSkipsRetainedEntries(t *testing.T) {
	s, src := testStore(t)
	key := digest.FromString("pinned")

	if err := s.Put(key, src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer entry.Release()

	if err := s.Prune(context.Background(), 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	// The retained snapshot must still be fully readable.
	if _, err := os.Stat(filepath.Join(entry.Tree(), "payload")); err != nil {
		t.Fatalf("retained entry was pruned: %v", err)
	}
}

func TestPruneRespectsLimit(t *testing.T) {
	s, src := testStore(t)

	if err := s.Put(digest.FromString("a"), src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(digest.FromString("b"), src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entrySize := int64(len("tree content\n"))
	if err := s.Prune(context.Background(), entrySize); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	usage, err := s.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage != entrySize {
		t.Fatalf("usage = %d, want %d", usage, entrySize)
	}
}

func TestPruneRemovesLeastRecentlyUsed(t *testing.T) {
	s, src := testStore(t)
	oldKey := digest.FromString("old")
	newKey := digest.FromString("new")

	if err := s.Put(oldKey, src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(newKey, src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Age the first entry's clock well into the past.
	target, err := os.Readlink(s.refPath(oldKey))
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(filepath.Join(s.root, dirRefs, target, stateFile), old, old); err != nil {
		t.Fatal(err)
	}

	entrySize := int64(len("tree content\n"))
	if err := s.Prune(context.Background(), entrySize); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, err := s.Get(oldKey); !errors.Is(err, ErrMiss) {
		t.Fatalf("old entry survived, err = %v, want ErrMiss", err)
	}

	entry, err := s.Get(newKey)
	if err != nil {
		t.Fatalf("recently used entry was pruned: %v", err)
	}
	entry.Release()
}

func TestPruneSweepsTornEntries(t *testing.T) {
	s, _ := testStore(t)

	// A directory with neither state nor lock: remains of a torn mkdir.
	if err := os.Mkdir(filepath.Join(s.root, dirObjects, "torn"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := s.Prune(context.Background(), 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, err := os.Stat(filepath.Join(s.root, dirObjects, "torn")); !os.IsNotExist(err) {
		t.Fatalf("torn entry not swept, stat err = %v", err)
	}
}

func TestPruneLeavesActiveScratchAlone(t *testing.T) {
	s, _ := testStore(t)

	sc, err := s.newScratch()
	if err != nil {
		t.Fatalf("newScratch: %v", err)
	}
	defer sc.remove()

	if err := s.Prune(context.Background(), 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, err := os.Stat(sc.path); err != nil {
		t.Fatalf("staged entry with held lock was swept: %v", err)
	}
}

func TestPruneCancelled(t *testing.T) {
	s, src := testStore(t)
	if err := s.Put(digest.FromString("a"), src); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Prune(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
