package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilnhq/kiln/internal"
	"github.com/kilnhq/kiln/internal/engine"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/pipeline"
	"github.com/kilnhq/kiln/internal/runner"
	"github.com/kilnhq/kiln/internal/source"
	"github.com/kilnhq/kiln/internal/store"
)

// Represents the 'kiln build' command.
type BuildCmd struct {
	Manifest string        `arg:"" help:"Manifest file to execute." type:"existingfile"`
	Output   string        `short:"o" help:"Directory for the assembled artifact." placeholder:"DIR"`
	Store    string        `help:"Override the snapshot store directory." placeholder:"DIR"`
	Libdir   string        `help:"Override the stage library directory." placeholder:"DIR"`
	Timeout  time.Duration `help:"Wall-clock bound per stage invocation." placeholder:"DURATION"`
}

// Executes the build command.
//
// Loads the manifest, runs the pipeline against the shared store, and
// prints a per-step summary. The process exit code reflects the error kind.
func (c *BuildCmd) Run(ctx context.Context) error {
	cfg, err := engine.Load(RootCmd.Config)
	if err != nil {
		return err
	}
	if c.Store != "" {
		cfg.Store.Dir = c.Store
	}
	if c.Libdir != "" {
		cfg.Library = c.Libdir
	}
	if c.Output != "" {
		cfg.Output = c.Output
	}
	if c.Timeout > 0 {
		cfg.Stage.Timeout = c.Timeout
	}

	m, err := manifest.Load(c.Manifest)
	if err != nil {
		return err
	}
	if m.Pipeline.Assembler == nil {
		return fmt.Errorf("%w: manifest has no assembler", pipeline.ErrValidation)
	}

	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return err
	}

	run := &runner.Runner{
		Timeout: cfg.Stage.Timeout,
		Sandbox: runner.Sandbox(cfg.Stage.Sandbox),
	}

	result, err := pipeline.Run(ctx, pipeline.Options{
		Manifest: m,
		Store:    st,
		Runner:   run,
		Library:  cfg.Library,
		Output:   cfg.Output,
		Fetcher: &source.Fetcher{
			Store:       st,
			Runner:      run,
			Library:     cfg.Library,
			Concurrency: cfg.Fetch.Concurrency,
		},
	})
	if result != nil {
		printSummary(result)
	}
	return err
}

// Prints the per-step build summary.
func printSummary(result *pipeline.Result) {
	for _, rec := range result.Steps {
		printRecord(rec)
	}
	if result.Assembler != nil {
		printRecord(*result.Assembler)
	}
}

// Prints one step record line, plus captured output in verbose mode.
func printRecord(rec pipeline.StepRecord) {
	fp := ""
	if rec.Fingerprint != "" {
		fp = rec.Fingerprint.Encoded()[:12]
	}
	fmt.Printf("%2d  %-9s  %-28s %s\n", rec.Position, displayStatus(rec), rec.Name, fp)

	if internal.IsVerbose() && rec.Output != "" {
		for _, line := range strings.Split(strings.TrimRight(rec.Output, "\n"), "\n") {
			fmt.Printf("      %s\n", line)
		}
	}
	if rec.Error != "" {
		fmt.Printf("      error: %s\n", rec.Error)
	}
}

// Returns the human-readable terminal status of a step.
func displayStatus(rec pipeline.StepRecord) string {
	if rec.Status == pipeline.StatusCommitted {
		if rec.Cached {
			return "cached"
		}
		return "built"
	}
	return string(rec.Status)
}
