package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/runner"
	"github.com/kilnhq/kiln/internal/store"
)

// Default number of parallel fetches.
const defaultConcurrency = 4

// Fetches checksum-addressed sources into the object store.
//
// Each checksum is fetched at most once: concurrent requests for the same
// checksum within the process collapse via singleflight, and concurrent
// builds in other processes deduplicate through the store's atomic publish.
// A cached source is served indefinitely without refetching.
type Fetcher struct {
	Store       *store.Store   // Shared object store; source payloads are keyed by checksum.
	Runner      *runner.Runner // Runner for delegating to source executables.
	Library     string         // Stage library directory; source executables live under sources/.
	Client      *http.Client   // HTTP client for the built-in fetcher. Nil uses http.DefaultClient.
	Concurrency int            // Parallel fetch bound. Zero means the default.

	group singleflight.Group
}

// The fetched sources of one build, pinned for the build's duration.
type Set struct {
	paths   map[digest.Digest]string
	entries []*store.Entry
	scratch []string
}

// Returns the payload paths keyed by checksum string, in the shape the
// stage request protocol expects.
func (s *Set) Paths() map[string]string {
	out := make(map[string]string, len(s.paths))
	for key, p := range s.paths {
		out[key.String()] = p
	}
	return out
}

// Releases pinned store entries and removes scratch downloads.
func (s *Set) Close() {
	for _, e := range s.entries {
		e.Release()
	}
	s.entries = nil
	for _, dir := range s.scratch {
		os.RemoveAll(dir)
	}
	s.scratch = nil
}

// Fetches all declared sources in parallel.
//
// Sources are independent of each other and of stage order, so they are
// fetched concurrently with a bounded worker count. Duplicate checksums in
// the manifest are fetched once. Any failure aborts the whole fetch and
// releases everything acquired so far.
func (f *Fetcher) FetchAll(ctx context.Context, sources []manifest.Source) (*Set, error) {
	set := &Set{paths: make(map[digest.Digest]string)}
	var mu sync.Mutex

	concurrency := f.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	seen := make(map[digest.Digest]bool)
	for _, src := range sources {
		key, err := src.Digest()
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		g.Go(func() error {
			entry, scratchDir, payload, err := f.fetch(gctx, src, key)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			set.paths[key] = payload
			if entry != nil {
				set.entries = append(set.entries, entry)
			}
			if scratchDir != "" {
				set.scratch = append(set.scratch, scratchDir)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		set.Close()
		return nil, err
	}
	return set, nil
}

// Fetches one source, serving from the store when possible.
//
// Returns either a retained store entry or a scratch directory owned by
// the caller, plus the path of the payload file. The store write is
// best-effort: if publishing fails the scratch download stays authoritative
// for this build.
func (f *Fetcher) fetch(ctx context.Context, src manifest.Source, key digest.Digest) (*store.Entry, string, string, error) {
	if entry, err := f.Store.Get(key); err == nil {
		payload, err := payloadIn(entry.Tree())
		if err == nil {
			slog.Debug("source cached", "name", src.Name, "checksum", key.String())
			return entry, "", payload, nil
		}
		entry.Release()
	}

	// Collapse concurrent fetches of the same checksum. The winner
	// downloads and publishes; waiters retry the store afterwards.
	_, err, _ := f.group.Do(key.String(), func() (any, error) {
		return nil, f.download(ctx, src, key)
	})
	if err != nil {
		return nil, "", "", err
	}

	if entry, err := f.Store.Get(key); err == nil {
		payload, err := payloadIn(entry.Tree())
		if err == nil {
			return entry, "", payload, nil
		}
		entry.Release()
	}

	// The store refused the entry (write failure, or pruned immediately).
	// Fall back to a private download; the build does not depend on the
	// cache for correctness.
	dir, payload, err := f.downloadScratch(ctx, src, key)
	if err != nil {
		return nil, "", "", err
	}
	return nil, dir, payload, nil
}

// Downloads a source and publishes it to the store.
func (f *Fetcher) download(ctx context.Context, src manifest.Source, key digest.Digest) error {
	dir, _, err := f.downloadScratch(ctx, src, key)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := f.Store.Put(key, dir); err != nil {
		// Caching is an optimization; the caller falls back to a private
		// download when the store cannot take the entry.
		slog.Warn("failed to cache source", "name", src.Name, "checksum", key.String(), "error", err)
	}
	return nil
}

// Downloads a source into a fresh scratch directory and verifies its
// checksum. Returns the directory and the payload path inside it.
func (f *Fetcher) downloadScratch(ctx context.Context, src manifest.Source, key digest.Digest) (string, string, error) {
	dir, err := os.MkdirTemp("", "kiln-source-")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	payload := filepath.Join(dir, payloadName(src.URL))

	if exe := f.sourceExecutable(src.Name); exe != "" {
		err = f.runExecutable(ctx, exe, src, key, dir)
	} else {
		err = f.builtinFetch(ctx, src, payload)
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}

	// A delegated executable chooses its own file name inside the output
	// directory; locate whatever it produced.
	found, err := payloadIn(dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("%w: source %q produced no payload", ErrFetch, src.Name)
	}
	payload = found

	if err := verify(payload, key); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}

	slog.Info("fetched source", "name", src.Name, "checksum", key.String())
	return dir, payload, nil
}

// Returns the path of the source executable for a name, or empty if the
// library does not provide one.
func (f *Fetcher) sourceExecutable(name string) string {
	if f.Library == "" || name == "" {
		return ""
	}
	path := filepath.Join(f.Library, "sources", name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

// Delegates fetching to a source executable via the request protocol.
func (f *Fetcher) runExecutable(ctx context.Context, exe string, src manifest.Source, key digest.Digest, dir string) error {
	result, err := f.Runner.Run(ctx, exe, &runner.Request{
		Output:   dir,
		URL:      src.URL,
		Checksum: key.String(),
	})
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", ErrFetch, src.Name, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: source %q exited with code %d: %s", ErrFetch, src.Name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Fetches a URL with the built-in HTTP/file fetcher.
func (f *Fetcher) builtinFetch(ctx context.Context, src manifest.Source, dst string) error {
	u, err := url.Parse(src.URL)
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", ErrFetch, src.Name, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.httpFetch(ctx, src, dst)
	case "file", "":
		return copyLocal(dst, strings.TrimPrefix(src.URL, "file://"))
	default:
		return fmt.Errorf("%w: source %q: unsupported scheme %q", ErrFetch, src.Name, u.Scheme)
	}
}

// Downloads an HTTP or HTTPS URL to dst.
func (f *Fetcher) httpFetch(ctx context.Context, src manifest.Source, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", ErrFetch, src.Name, err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", ErrFetch, src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: source %q: unexpected status %s", ErrFetch, src.Name, resp.Status)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("%w: source %q: %v", ErrFetch, src.Name, err)
	}
	return out.Close()
}

// Copies a local file to dst.
func copyLocal(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return out.Close()
}

// Checks a payload file against its declared checksum.
func verify(payload string, key digest.Digest) error {
	fh, err := os.Open(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer fh.Close()

	actual, err := key.Algorithm().FromReader(fh)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if actual != key {
		return fmt.Errorf("%w: checksum mismatch: declared %s, got %s", ErrFetch, key, actual)
	}
	return nil
}

// Returns the single payload file inside a source directory.
func payloadIn(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no payload in %s", dir)
}

// Derives a payload file name from the source URL.
func payloadName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "data"
}
