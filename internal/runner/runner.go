package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// Default wall-clock bound for a single stage invocation.
const DefaultTimeout = 5 * time.Minute

// Grace period between the kill signal and abandoning the process.
const killWaitDelay = 5 * time.Second

// Isolation applied to stage processes.
type Sandbox string

const (

	// Plain subprocess with its own process group. No namespace isolation;
	// used by tests and on platforms without namespace support.
	SandboxNone Sandbox = "none"

	// Fresh mount, PID, IPC, and UTS namespaces (Linux only). Requires
	// sufficient privileges; falls back to process-group isolation
	// elsewhere.
	SandboxNamespace Sandbox = "namespace"
)

// Executes stage, assembler, and source processes.
//
// The runner is a transport: it delivers one request, waits for the exit
// code, and captures diagnostics. It never interprets option semantics or
// output text. Exactly one invocation may be outstanding against a given
// tree at a time; that invariant is the caller's to uphold.
type Runner struct {
	Timeout time.Duration // Wall-clock bound per invocation. Zero means [DefaultTimeout].
	Sandbox Sandbox       // Isolation mode. Empty means [SandboxNone].
}

// The single-shot request document delivered on the child's stdin.
//
// Stages and assemblers receive the tree path; assemblers additionally
// receive the output directory; sources receive the output directory, the
// URL, and the expected checksum. The options document has already passed
// schema validation.
type Request struct {
	Tree     string            `json:"tree,omitempty"`
	Output   string            `json:"output,omitempty"`
	Options  json.RawMessage   `json:"options,omitempty"`
	Sources  map[string]string `json:"sources,omitempty"`
	URL      string            `json:"url,omitempty"`
	Checksum string            `json:"checksum,omitempty"`
}

// Outcome of one invocation.
//
// Output channels are advisory log content only; completion is signalled
// solely via the exit code.
type Result struct {
	ExitCode int           // Exit code of the process. 0 means success.
	Stdout   string        // Captured standard output.
	Stderr   string        // Captured standard error.
	Duration time.Duration // Wall-clock time the process ran.
}

// Runs one stage, assembler, or source process.
//
// The request is marshalled to JSON, written to the child's stdin, and the
// stream is closed; the child signals completion via its exit code alone.
// A non-zero exit code is not an error here; the caller decides. An error
// is returned when the process could not be launched, exceeded the timeout,
// or the context was cancelled. On timeout or cancellation the whole
// process group is killed and any partial tree mutation must be treated as
// unusable by the caller.
func (r *Runner) Run(ctx context.Context, executable string, req *Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrLaunch, err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, executable)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = baseEnviron()
	cmd.SysProcAttr = sysProcAttr(r.Sandbox)
	cmd.WaitDelay = killWaitDelay

	// Kill the whole process group, not just the direct child. Stages may
	// spawn helpers that would otherwise outlive the invocation.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	if req.Tree != "" {
		cmd.Dir = req.Tree
	} else if req.Output != "" {
		cmd.Dir = req.Output
	}

	slog.Debug("running", "executable", executable, "sandbox", r.Sandbox, "timeout", timeout)

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s: %s", ErrTimeout, executable, timeout, lastLine(stderr.String()))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				Duration: duration,
			}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, executable, err)
	}

	return &Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}

// Returns the fixed environment handed to stage processes.
//
// Stages run with a minimal, deterministic environment so host settings
// cannot leak into build output.
func baseEnviron() []string {
	return []string{
		"PATH=/usr/sbin:/usr/bin:/sbin:/bin",
		"LC_ALL=C.UTF-8",
		"TERM=dumb",
	}
}

// Returns the last non-empty line of captured diagnostics.
func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
