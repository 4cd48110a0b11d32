package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/internal/fingerprint"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/runner"
	"github.com/kilnhq/kiln/internal/schema"
	"github.com/kilnhq/kiln/internal/source"
	"github.com/kilnhq/kiln/internal/store"
	"github.com/kilnhq/kiln/internal/tree"
)

// Controls pipeline execution.
type Options struct {
	Manifest *manifest.Manifest // Manifest to execute.
	Store    *store.Store       // Shared snapshot store.
	Runner   *runner.Runner     // Stage process runner.
	Library  string             // Stage library directory.
	Output   string             // Directory for the assembled artifact.
	Fetcher  *source.Fetcher    // Source fetcher. Nil constructs one from the fields above.
}

// A resolved pipeline step, ready to execute.
type step struct {
	stage      manifest.Stage
	position   int // 1-based position in the manifest.
	executable string
	options    []byte // Canonical options serialization.
	fp         digest.Digest
	status     Status
	cached     bool

	duration time.Duration
	output   string
	err      string
}

// Returns the build record for the step.
func (st *step) record() StepRecord {
	return StepRecord{
		Name:        st.stage.Name,
		Position:    st.position,
		Fingerprint: st.fp,
		Status:      st.status,
		Cached:      st.cached,
		Duration:    st.duration,
		Output:      st.output,
		Error:       st.err,
	}
}

// Holds shared state while a single build runs.
//
// A build owns its working tree exclusively: the tree is handed to exactly
// one runner invocation at a time, so no locking is needed beyond the
// store's cross-process coordination.
type build struct {
	store   *store.Store
	runner  *runner.Runner
	library string
	output  string
	sources map[string]string

	curTree  string // Current tree path: a retained snapshot or a writable scratch.
	writable bool   // Whether curTree may be handed to a stage for mutation.

	entries []*store.Entry // Snapshots retained for the build's duration.
	scratch []string       // Writable working trees, removed when the build ends.
}

// Executes a manifest end-to-end: validation, source fetching, the stage
// pipeline, and the assembler.
//
// Stages run strictly in manifest order; each step's input is the previous
// step's output. Cached steps are reused without invoking the runner. The
// assembler always runs. The returned result records every step even when
// the build fails partway.
func Run(ctx context.Context, opts Options) (*Result, error) {
	slog.Info("executing pipeline",
		"stages", len(opts.Manifest.Pipeline.Stages),
		"sources", len(opts.Manifest.Sources),
		"output", opts.Output,
	)

	b := &build{
		store:   opts.Store,
		runner:  opts.Runner,
		library: opts.Library,
		output:  opts.Output,
	}
	defer b.cleanup()

	result := &Result{OutputDir: opts.Output}

	// Source fetching is independent of stage order, so it overlaps with
	// validation and fingerprinting.
	fetched := b.fetchSources(ctx, opts)

	steps, asm, err := b.resolve(opts.Manifest)
	if err != nil {
		go func() {
			if fr := <-fetched; fr.set != nil {
				fr.set.Close()
			}
		}()
		markSkipped(steps)
		skipStep(asm)
		finishResult(result, steps, asm)
		return result, err
	}

	fr := <-fetched
	if fr.set != nil {
		defer fr.set.Close()
	}
	if fr.err != nil {
		markSkipped(steps)
		skipStep(asm)
		finishResult(result, steps, asm)
		return result, fr.err
	}
	if fr.set != nil {
		b.sources = fr.set.Paths()
	}

	for i := range steps {
		if err := b.runStep(ctx, &steps[i]); err != nil {
			markSkipped(steps[i+1:])
			skipStep(asm)
			finishResult(result, steps, asm)
			return result, err
		}
	}

	asmErr := b.runAssembler(ctx, asm)
	finishResult(result, steps, asm)

	if asmErr != nil {
		return result, asmErr
	}

	if err := result.write(); err != nil {
		slog.Warn("failed to write build record", "error", err)
	}

	slog.Info("pipeline complete", "output", opts.Output)
	return result, nil
}

// Outcome of the concurrent source fetch.
type fetchResult struct {
	set *source.Set
	err error
}

// Starts fetching all declared sources in the background.
func (b *build) fetchSources(ctx context.Context, opts Options) <-chan fetchResult {
	ch := make(chan fetchResult, 1)

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = &source.Fetcher{
			Store:   opts.Store,
			Runner:  opts.Runner,
			Library: opts.Library,
		}
	}

	go func() {
		set, err := fetcher.FetchAll(ctx, opts.Manifest.Sources)
		ch <- fetchResult{set: set, err: err}
	}()

	return ch
}

// Resolves and validates every step of the manifest.
//
// Executables are located in the stage library, options are checked against
// each stage's schema, and the fingerprint chain is computed. Validation
// happens strictly before any execution side effect: an invalid step fails
// the build with zero filesystem mutation.
func (b *build) resolve(m *manifest.Manifest) ([]step, *step, error) {
	steps := make([]step, len(m.Pipeline.Stages))
	for i, stage := range m.Pipeline.Stages {
		steps[i] = step{stage: stage, position: i + 1, status: StatusPending}
	}

	previous := fingerprint.Root
	for i, stage := range m.Pipeline.Stages {
		st := &steps[i]
		st.status.advance(StatusValidating)

		if err := b.resolveStep(st, "stages"); err != nil {
			st.status.advance(StatusFailed)
			markSkipped(steps[i+1:])
			return steps, nil, err
		}

		fp, err := fingerprint.Next(previous, stage.Name, stage.Options)
		if err != nil {
			st.status.advance(StatusFailed)
			markSkipped(steps[i+1:])
			return steps, nil, fmt.Errorf("%w: stage %q at position %d: %v", ErrValidation, stage.Name, st.position, err)
		}
		st.fp = fp
		previous = fp
	}

	var asm *step
	if m.Pipeline.Assembler != nil {
		asm = &step{stage: *m.Pipeline.Assembler, position: len(steps) + 1, status: StatusPending}
		asm.status.advance(StatusValidating)
		if err := b.resolveStep(asm, "assemblers"); err != nil {
			asm.status.advance(StatusFailed)
			return steps, asm, err
		}
	}

	return steps, asm, nil
}

// Locates a step's executable and validates its options.
func (b *build) resolveStep(st *step, kind string) error {
	exe := filepath.Join(b.library, kind, st.stage.Name)
	if info, err := os.Stat(exe); err != nil || info.IsDir() {
		return fmt.Errorf("%w: stage %q at position %d: no such executable %s", ErrValidation, st.stage.Name, st.position, exe)
	}
	st.executable = exe

	canon, err := fingerprint.Canonical(st.stage.Options)
	if err != nil {
		return fmt.Errorf("%w: stage %q at position %d: %v", ErrValidation, st.stage.Name, st.position, err)
	}
	st.options = canon

	sch, err := schema.Load(exe + ".json")
	if err != nil {
		return fmt.Errorf("%w: stage %q at position %d: %v", ErrValidation, st.stage.Name, st.position, err)
	}
	if err := sch.Validate(canon); err != nil {
		return fmt.Errorf("%w: stage %q at position %d: %v", ErrValidation, st.stage.Name, st.position, err)
	}

	return nil
}

// Executes one pipeline step, consulting the cache first.
func (b *build) runStep(ctx context.Context, st *step) error {
	label := fmt.Sprintf("stage %q at position %d", st.stage.Name, st.position)

	if entry, err := b.store.Get(st.fp); err == nil {
		slog.Info(fmt.Sprintf("reusing cached tree for %s", label), "fingerprint", st.fp.Encoded())
		st.status.advance(StatusCacheHit)
		st.cached = true
		b.entries = append(b.entries, entry)
		b.curTree = entry.Tree()
		b.writable = false
		st.status.advance(StatusCommitted)
		return nil
	}

	st.status.advance(StatusCacheMiss)

	work, err := b.materialize()
	if err != nil {
		st.status.advance(StatusExecuting)
		st.status.advance(StatusFailed)
		return fmt.Errorf("%w: %s: %v", ErrExecution, label, err)
	}

	slog.Info(fmt.Sprintf("building %s", label), "fingerprint", st.fp.Encoded())
	st.status.advance(StatusExecuting)

	res, err := b.runner.Run(ctx, st.executable, &runner.Request{
		Tree:    work,
		Options: st.options,
		Sources: b.sources,
	})
	if err != nil {
		// Timeout or launch failure. The tree may be partially mutated
		// and is discarded with the rest of the build scratch.
		st.status.advance(StatusFailed)
		st.err = err.Error()
		return fmt.Errorf("%w: %s: %v", ErrExecution, label, err)
	}
	st.duration = res.Duration
	st.output = combinedOutput(res)

	if res.ExitCode != 0 {
		st.status.advance(StatusFailed)
		st.err = fmt.Sprintf("exit code %d", res.ExitCode)
		return fmt.Errorf("%w: %s: exit code %d: %s", ErrExecution, label, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	// Commit. Caching is best-effort: a store write failure degrades to
	// uncached execution and the working tree stays authoritative.
	if err := b.store.Put(st.fp, work); err != nil {
		slog.Warn("failed to cache stage result", "stage", st.stage.Name, "fingerprint", st.fp.Encoded(), "error", err)
	}

	b.curTree = work
	b.writable = true
	st.status.advance(StatusCommitted)
	return nil
}

// Runs the assembler against the final tree.
//
// The assembler is never cached and always executes, but only after every
// stage has committed. It receives the tree read-only in spirit: the tree
// handed over is always a private copy or scratch, never a store snapshot.
func (b *build) runAssembler(ctx context.Context, asm *step) error {
	if asm == nil {
		return nil
	}
	label := fmt.Sprintf("assembler %q", asm.stage.Name)

	if err := os.MkdirAll(b.output, paths.DefaultDirMode); err != nil {
		asm.status.advance(StatusCacheMiss)
		asm.status.advance(StatusExecuting)
		asm.status.advance(StatusFailed)
		return fmt.Errorf("%w: %s: %v", ErrExecution, label, err)
	}

	work, err := b.materialize()
	if err != nil {
		asm.status.advance(StatusCacheMiss)
		asm.status.advance(StatusExecuting)
		asm.status.advance(StatusFailed)
		return fmt.Errorf("%w: %s: %v", ErrExecution, label, err)
	}

	slog.Info(fmt.Sprintf("assembling %s", label), "output", b.output)
	asm.status.advance(StatusCacheMiss)
	asm.status.advance(StatusExecuting)

	res, err := b.runner.Run(ctx, asm.executable, &runner.Request{
		Tree:    work,
		Output:  b.output,
		Options: asm.options,
		Sources: b.sources,
	})
	if err != nil {
		asm.status.advance(StatusFailed)
		asm.err = err.Error()
		return fmt.Errorf("%w: %s: %v", ErrExecution, label, err)
	}
	asm.duration = res.Duration
	asm.output = combinedOutput(res)

	if res.ExitCode != 0 {
		asm.status.advance(StatusFailed)
		asm.err = fmt.Sprintf("exit code %d", res.ExitCode)
		return fmt.Errorf("%w: %s: exit code %d: %s", ErrExecution, label, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	asm.status.advance(StatusCommitted)
	return nil
}

// Returns a writable working tree holding the current build state.
//
// When the current tree is already a private scratch it is reused in
// place; a retained snapshot (or the empty root) is copied into a fresh
// scratch directory first, so store entries are never mutated.
func (b *build) materialize() (string, error) {
	if b.writable && b.curTree != "" {
		return b.curTree, nil
	}

	work, err := os.MkdirTemp("", "kiln-tree-")
	if err != nil {
		return "", err
	}
	b.scratch = append(b.scratch, work)

	if b.curTree != "" {
		if err := tree.CopyDir(work, b.curTree); err != nil {
			return "", err
		}
	}

	b.curTree = work
	b.writable = true
	return work, nil
}

// Releases retained snapshots and removes scratch trees.
func (b *build) cleanup() {
	for _, entry := range b.entries {
		entry.Release()
	}
	for _, dir := range b.scratch {
		os.RemoveAll(dir)
	}
}

// Marks every remaining step as skipped.
func markSkipped(steps []step) {
	for i := range steps {
		if steps[i].status.canAdvance(StatusSkipped) {
			steps[i].status.advance(StatusSkipped)
		}
	}
}

// Marks a single step as skipped if it has not run.
func skipStep(st *step) {
	if st != nil && st.status.canAdvance(StatusSkipped) {
		st.status.advance(StatusSkipped)
	}
}

// Fills a result with the records of all steps and the assembler.
func finishResult(result *Result, steps []step, asm *step) {
	result.Steps = make([]StepRecord, 0, len(steps))
	for i := range steps {
		result.Steps = append(result.Steps, steps[i].record())
	}
	if asm != nil {
		rec := asm.record()
		result.Assembler = &rec
	}
}

// Joins captured stage output channels for the build record.
func combinedOutput(res *runner.Result) string {
	switch {
	case res.Stdout != "" && res.Stderr != "":
		return res.Stdout + "\n" + res.Stderr
	case res.Stderr != "":
		return res.Stderr
	default:
		return res.Stdout
	}
}
