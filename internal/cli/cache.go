package cli

import (
	"context"
	"fmt"

	"github.com/kilnhq/kiln/internal/engine"
	"github.com/kilnhq/kiln/internal/store"
)

// Represents the 'kiln cache' command group.
type CacheCmd struct {
	Info  CacheInfoCmd  `cmd:"" help:"Show store location and usage."`
	Prune CachePruneCmd `cmd:"" help:"Evict least-recently-used entries."`
}

// Represents the 'kiln cache info' command.
type CacheInfoCmd struct {
	Store string `help:"Override the snapshot store directory." placeholder:"DIR"`
}

// Executes the cache info command.
func (c *CacheInfoCmd) Run(ctx context.Context) error {
	cfg, err := engine.Load(RootCmd.Config)
	if err != nil {
		return err
	}
	if c.Store != "" {
		cfg.Store.Dir = c.Store
	}

	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return err
	}

	usage, err := st.Usage()
	if err != nil {
		return err
	}
	entries, err := st.Entries()
	if err != nil {
		return err
	}

	fmt.Printf("store:   %s\n", st.Root())
	fmt.Printf("entries: %d\n", entries)
	fmt.Printf("usage:   %d bytes\n", usage)
	if cfg.Store.Limit > 0 {
		fmt.Printf("limit:   %d bytes\n", cfg.Store.Limit)
	}
	return nil
}

// Represents the 'kiln cache prune' command.
type CachePruneCmd struct {
	Store   string `help:"Override the snapshot store directory." placeholder:"DIR"`
	MaxSize int64  `help:"Prune until total usage is at most this many bytes. Defaults to the configured store limit." placeholder:"BYTES"`
}

// Executes the cache prune command.
//
// Entries retained by in-flight builds are never removed; pruning a busy
// store evicts only what is safe and reports the usage it reached.
func (c *CachePruneCmd) Run(ctx context.Context) error {
	cfg, err := engine.Load(RootCmd.Config)
	if err != nil {
		return err
	}
	if c.Store != "" {
		cfg.Store.Dir = c.Store
	}

	limit := cfg.Store.Limit
	if c.MaxSize > 0 {
		limit = c.MaxSize
	}

	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return err
	}

	if err := st.Prune(ctx, limit); err != nil {
		return err
	}

	usage, err := st.Usage()
	if err != nil {
		return err
	}
	fmt.Printf("usage: %d bytes\n", usage)
	return nil
}
