// Parses flags and dispatches subcommands for the kiln CLI.
//
// The CLI accepts the following global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-c, --config    Config file path.
//
// Flags override build-time defaults set via linker flags. After parsing,
// the global log level is adjusted before the subcommand runs. Subcommand
// errors map to distinct process exit codes via ExitCode.
package cli
