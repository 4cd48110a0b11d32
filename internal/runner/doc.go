// Package runner executes stage processes in isolation.
//
// A stage, assembler, or source is an opaque executable. The runner writes
// a single JSON request to its stdin, closes the stream, and waits for the
// process to exit. Exit code 0 means success; anything the process writes
// to stdout or stderr is captured for the build log but never parsed for
// control meaning.
//
// Invocations are bounded by a configurable timeout. On timeout or
// cancellation the child's entire process group is killed and the working
// tree it was given must be discarded, since partial mutation is not
// trustworthy. On Linux the runner can additionally detach the child into
// fresh mount, PID, IPC, and UTS namespaces.
package runner
