package cli

import (
	"context"
	"fmt"

	"github.com/kilnhq/kiln/internal/engine"
	"github.com/kilnhq/kiln/internal/fingerprint"
	"github.com/kilnhq/kiln/internal/manifest"
	"github.com/kilnhq/kiln/internal/store"
)

// Represents the 'kiln inspect' command.
type InspectCmd struct {
	Manifest string `arg:"" help:"Manifest file to inspect." type:"existingfile"`
	Store    string `help:"Override the snapshot store directory." placeholder:"DIR"`
}

// Executes the inspect command.
//
// Prints each stage's chained fingerprint and whether the store already
// holds its snapshot. Nothing is executed and nothing is mutated beyond
// the entries' last-use clocks.
func (c *InspectCmd) Run(ctx context.Context) error {
	cfg, err := engine.Load(RootCmd.Config)
	if err != nil {
		return err
	}
	if c.Store != "" {
		cfg.Store.Dir = c.Store
	}

	m, err := manifest.Load(c.Manifest)
	if err != nil {
		return err
	}

	chain, err := fingerprint.Chain(m)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return err
	}

	for i, stage := range m.Pipeline.Stages {
		status := "miss"
		if entry, err := st.Get(chain[i]); err == nil {
			status = "hit"
			entry.Release()
		}
		fmt.Printf("%2d  %-4s  %-28s %s\n", i+1, status, stage.Name, chain[i])
	}

	if m.Pipeline.Assembler != nil {
		fmt.Printf(" -  %-4s  %-28s (assembler, never cached)\n", "", m.Pipeline.Assembler.Name)
	}

	return nil
}
