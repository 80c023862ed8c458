//go:build unix

// Package procgroup isolates the handful of OS-specific bits needed to
// spawn a child in its own process group and signal the whole group on
// timeout, the way cmd/divinesense/signal_unix.go splits its
// termination-signal list by build tag.
package procgroup

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Setpgid arranges for cmd's child to become the leader of a new
// process group, so a timeout signal can target the whole group rather
// than just the immediate child.
func Setpgid(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Signal delivers sig to the process group led by pgid. If the process
// is no longer its group's leader (the group has already dissolved),
// the error is reported but is not itself fatal to the caller: a
// subsequent poll will observe the process has exited.
func Signal(pgid int, sig syscall.Signal) error {
	return unix.Kill(-pgid, sig)
}

// SignalProcess delivers sig to a single pid, used as a fallback when
// the process is no longer the leader of its own group.
func SignalProcess(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

// Terminate and Kill are the two escalation signals spec.md names for
// timeout handling.
const (
	Terminate = syscall.SIGTERM
	Kill      = syscall.SIGKILL
)

// ExitCode extracts a child's exit code using the Unix convention that
// a signal-terminated process reports as the negative signal number,
// matching spec.md §6's "negative = terminated by signal (Unix
// convention -signum)".
func ExitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}
