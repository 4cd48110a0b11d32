package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kilnhq/kiln/internal"
)

// Represents the root command for the kiln CLI.
var RootCmd struct {
	Quiet   bool   `short:"q" help:"Suppress informational output."`
	Verbose bool   `short:"v" help:"Enable verbose output."`
	Debug   bool   `short:"d" help:"Enable debug output."`
	Config  string `short:"c" help:"Override the default config file path." placeholder:"FILE"`

	Build   BuildCmd   `cmd:"" help:"Execute a manifest and assemble the artifact."`
	Inspect InspectCmd `cmd:"" help:"Show a manifest's fingerprint chain and cache status."`
	Cache   CacheCmd   `cmd:"" help:"Administer the snapshot store."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds filesystem trees from pipeline manifests.\n\nStages run in manifest order against a working tree; every intermediate tree is cached by fingerprint and reused across builds."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global log level based on CLI flags.
func configureLogger() {
	if RootCmd.Verbose {
		internal.SetVerbose(true)
	}

	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()

	switch {
	case debug:
		internal.LogLevel.Set(slog.LevelDebug)
	case quiet:
		internal.LogLevel.Set(slog.LevelWarn)
	default:
		internal.LogLevel.Set(slog.LevelInfo)
	}
}
