package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/runner"
	"github.com/kilnhq/kiln/internal/store"
)

// Creates a fetcher backed by a fresh store.
func testFetcher(t *testing.T) *Fetcher {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return &Fetcher{
		Store:  s,
		Runner: &runner.Runner{Sandbox: runner.SandboxNone},
	}
}

func TestFetchAllLocalFile(t *testing.T) {
	f := testFetcher(t)

	payload := []byte("source payload\n")
	path := filepath.Join(t.TempDir(), "base.tar")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		t.Fatal(err)
	}

	key := digest.FromBytes(payload)
	sources := []manifest.Source{{Name: "base", URL: "file://" + path, Checksum: key.String()}}

	set, err := f.FetchAll(context.Background(), sources)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	defer set.Close()

	got, ok := set.Paths()[key.String()]
	if !ok {
		t.Fatalf("paths = %v, missing %s", set.Paths(), key)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("payload unreadable: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload = %q, want %q", data, payload)
	}
}

func TestFetchAllHTTPOnceThenCached(t *testing.T) {
	f := testFetcher(t)

	payload := []byte("remote artifact")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	key := digest.FromBytes(payload)
	sources := []manifest.Source{{Name: "artifact", URL: srv.URL + "/artifact", Checksum: key.String()}}

	set, err := f.FetchAll(context.Background(), sources)
	if err != nil {
		t.Fatalf("first FetchAll: %v", err)
	}
	set.Close()

	set, err = f.FetchAll(context.Background(), sources)
	if err != nil {
		t.Fatalf("second FetchAll: %v", err)
	}
	defer set.Close()

	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1 (second fetch must come from the cache)", hits.Load())
	}
}

func TestFetchAllDeduplicatesChecksums(t *testing.T) {
	f := testFetcher(t)

	payload := []byte("shared")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	key := digest.FromBytes(payload)
	sources := []manifest.Source{
		{Name: "one", URL: srv.URL + "/a", Checksum: key.String()},
		{Name: "two", URL: srv.URL + "/b", Checksum: key.String()},
	}

	set, err := f.FetchAll(context.Background(), sources)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	defer set.Close()

	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1 for duplicate checksums", hits.Load())
	}
	if len(set.Paths()) != 1 {
		t.Fatalf("paths = %d, want 1", len(set.Paths()))
	}
}

func TestFetchAllChecksumMismatch(t *testing.T) {
	f := testFetcher(t)

	path := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(path, []byte("actual content"), 0644); err != nil {
		t.Fatal(err)
	}

	declared := digest.FromString("something else entirely")
	sources := []manifest.Source{{Name: "bad", URL: "file://" + path, Checksum: declared.String()}}

	if _, err := f.FetchAll(context.Background(), sources); !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestFetchAllHTTPError(t *testing.T) {
	f := testFetcher(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	key := digest.FromString("whatever")
	sources := []manifest.Source{{Name: "missing", URL: srv.URL + "/x", Checksum: key.String()}}

	if _, err := f.FetchAll(context.Background(), sources); !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestFetchAllDelegatesToSourceExecutable(t *testing.T) {
	f := testFetcher(t)
	f.Library = t.TempDir()

	// A source executable that produces its payload without any network.
	// It runs with the output directory as its working directory.
	if err := os.MkdirAll(filepath.Join(f.Library, "sources"), 0755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\nprintf 'generated' > payload\n"
	if err := os.WriteFile(filepath.Join(f.Library, "sources", "org.kiln.generator"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	key := digest.FromString("generated")
	sources := []manifest.Source{{Name: "org.kiln.generator", URL: "generator://x", Checksum: key.String()}}

	set, err := f.FetchAll(context.Background(), sources)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	defer set.Close()

	data, err := os.ReadFile(set.Paths()[key.String()])
	if err != nil {
		t.Fatalf("payload unreadable: %v", err)
	}
	if string(data) != "generated" {
		t.Fatalf("payload = %q, want generated", data)
	}
}

func TestFetchAllEmpty(t *testing.T) {
	f := testFetcher(t)

	set, err := f.FetchAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	defer set.Close()

	if len(set.Paths()) != 0 {
		t.Fatalf("paths = %d, want 0", len(set.Paths()))
	}
}
