package main

import (
	"log/slog"
	"os"

	"github.com/kilnhq/kiln/internal"
	"github.com/kilnhq/kiln/internal/cli"
)

// The entry point for the kiln CLI.
//
// Initializes logging, displays startup information, and executes the root
// command. The exit code encodes the failure kind: validation, execution,
// store, or source fetch errors each map to a distinct code.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("kiln is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(cli.ExitCode(err))
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The level is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	internal.LogLevel.Set(logLevel())
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: internal.LogLevel,
	})
	return slog.New(handler).WithGroup(internal.Name)
}

// Returns the log level derived from build-time linker flags.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
