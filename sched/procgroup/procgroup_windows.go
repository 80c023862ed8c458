//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// Setpgid is a no-op on Windows: process groups in the Unix sense don't
// exist, and job objects (the nearest analog) are out of scope for this
// scheduler's Windows support, which is best-effort.
func Setpgid(cmd *exec.Cmd) {}

// Signal is unsupported on Windows; callers fall back to SignalProcess.
func Signal(pgid int, sig syscall.Signal) error {
	return syscall.EWINDOWS
}

// SignalProcess delivers sig to a single pid via taskkill semantics;
// syscall.Signal values are not meaningful on Windows beyond
// os.Kill, so any non-kill signal is translated to process termination.
func SignalProcess(pid int, sig syscall.Signal) error {
	proc, err := syscall.OpenProcess(syscall.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer syscall.CloseHandle(proc)
	return syscall.TerminateProcess(proc, 1)
}

const (
	Terminate = syscall.SIGTERM
	Kill      = syscall.SIGKILL
)

// ExitCode extracts a child's exit code. Windows has no signal
// convention, so this is always the process's literal exit code.
func ExitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
