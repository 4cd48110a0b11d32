//go:build linux

package runner

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Returns the process attributes for the requested sandbox mode.
//
// Every mode places the child in its own process group so the entire group
// can be killed on timeout. Namespace mode additionally detaches mount,
// PID, IPC, and UTS namespaces, which requires the engine to run with
// sufficient privileges.
func sysProcAttr(sandbox Sandbox) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}

	if sandbox == SandboxNamespace {
		attr.Cloneflags = unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS
		attr.Unshareflags = unix.CLONE_NEWNS
	}

	return attr
}
