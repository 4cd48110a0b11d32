//go:build !linux

package runner

import "syscall"

// Returns the process attributes for the requested sandbox mode.
//
// Namespace isolation is Linux-only; other platforms fall back to
// process-group isolation for every mode.
func sysProcAttr(Sandbox) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
