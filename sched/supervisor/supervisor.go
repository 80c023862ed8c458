// Package supervisor spawns a task as a child process in its own
// process group, polls it without blocking the caller, enforces a
// timeout with escalating signals, and assembles the completed-task
// record the execution loop reports as an event.
package supervisor

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	schederrors "github.com/hrygo/fate/sched/errors"
	"github.com/hrygo/fate/sched/iobuf"
	"github.com/hrygo/fate/sched/procgroup"
	"github.com/hrygo/fate/sched/statedir"
	"github.com/hrygo/fate/sched/taskspec"
)

// ReturnClass buckets a task's return code for reporting, per spec.md
// §4.3's "0 → OK; 42 → Retry (reserved); anything else → Error".
type ReturnClass int

const (
	ClassOK ReturnClass = iota
	ClassRetry
	ClassError
)

// retryReturnCode is the reserved "please retry" exit code a task may
// return; treated as OK for state-persistence purposes pending a
// dedicated retry subsystem (see DESIGN.md's Open Question resolution).
const retryReturnCode = 42

// ClassifyReturnCode buckets a child's reported exit code.
func ClassifyReturnCode(code int) ReturnClass {
	switch code {
	case 0:
		return ClassOK
	case retryReturnCode:
		return ClassRetry
	default:
		return ClassError
	}
}

// FailedInvocationTask models a task whose executable could not be
// resolved on PATH; it never runs and is always immediately ready.
type FailedInvocationTask struct {
	Spec taskspec.TaskSpec
	Err  error
}

// Ready is always true: there is nothing to poll for an invocation that
// never started.
func (f *FailedInvocationTask) Ready() bool { return true }

// SpawnedTask is the runtime record of an executing TaskSpec.
type SpawnedTask struct {
	Spec taskspec.TaskSpec

	StartedAt    time.Time
	EndedAt      *time.Time
	TerminatedAt *time.Time
	KilledAt     *time.Time
	ReturnCode   *int

	// StateErr is set if a qualifying return code's state bytes failed
	// to persist; the caller logs it and proceeds, per spec.md §7's
	// "loop logs a warning and continues" handling for state-encode
	// failures.
	StateErr error

	// RuntimeErr is set if the waiter or stdout-reader goroutine
	// panicked; recovered rather than crashing the process, and
	// reported the same way StateErr is.
	RuntimeErr error

	Pid  int
	Pgid int

	Stdout *iobuf.ProgressiveOutput
	Stderr *iobuf.BufferedOutput

	statePath  string
	persist    func([]byte) error
	statein    *iobuf.BufferedInput
	stdinBuf   *iobuf.BufferedInput
	stateout   *iobuf.BufferedOutput
	statePipe  *iobuf.StatePipe
	cmd        *exec.Cmd
	waitCh     chan *os.ProcessState
	waitErrCh  chan error
	stdoutDone bool
	group      errgroup.Group
}

// Spawn resolves spec's executable and launches it in a new process
// group, priming stdin with spec.Param and fd 3 with priorState, then
// starts draining its output without blocking the caller. If the
// executable cannot be resolved on PATH, a *FailedInvocationTask is
// returned instead (err is nil in that case — invocation failure is an
// expected, non-fatal outcome, not a Go error).
//
// persist, if non-nil, replaces the default flat-file write under
// statePath as the destination for a qualifying return code's state
// bytes (see sched/loop's StateStore wiring); statePath is still
// carried for FailedInvocationTask-free logging even when persist is
// set.
func Spawn(spec taskspec.TaskSpec, statePath string, priorState []byte, pollInterval time.Duration, persist func([]byte) error) (*SpawnedTask, *FailedInvocationTask, error) {
	resolved, err := exec.LookPath(spec.Exec[0])
	if err != nil {
		return nil, &FailedInvocationTask{Spec: spec, Err: &schederrors.InvocationError{Task: spec.Name, Cause: err}}, nil
	}

	cmd := exec.Command(resolved, spec.Exec[1:]...)
	procgroup.Setpgid(cmd)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to open stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to open stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to open stderr pipe")
	}
	statePipe, err := iobuf.OpenStatePipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to open state pipe")
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.ExtraFiles = []*os.File{statePipe.ChildRead, statePipe.ChildWrite}

	if err := cmd.Start(); err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		_ = stderrR.Close()
		_ = stderrW.Close()
		_ = statePipe.CloseChildEnds()
		_ = statePipe.ParentWrite.Close()
		_ = statePipe.ParentRead.Close()
		return nil, nil, errors.Wrapf(err, "unable to start %s", spec.Name)
	}

	// The parent's copies of the child's ends must close after Start so
	// EOF propagates correctly to the child-held descriptors, and so
	// the parent's own reads/writes don't see their own write end open.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	_ = statePipe.CloseChildEnds()

	stdinBuf, err := iobuf.NewBufferedInput(stdinW, spec.Param)
	if err != nil {
		return nil, nil, err
	}
	stdout, err := iobuf.NewProgressiveOutput(stdoutR, pollInterval)
	if err != nil {
		return nil, nil, err
	}
	stderr, err := iobuf.NewBufferedOutput(stderrR)
	if err != nil {
		return nil, nil, err
	}
	statein, err := iobuf.NewBufferedInput(statePipe.ParentWrite, priorState)
	if err != nil {
		return nil, nil, err
	}
	stateout, err := iobuf.NewBufferedOutput(statePipe.ParentRead)
	if err != nil {
		return nil, nil, err
	}

	task := &SpawnedTask{
		Spec:      spec,
		StartedAt: time.Now(),
		Pid:       cmd.Process.Pid,
		Pgid:      cmd.Process.Pid,
		Stdout:    stdout,
		Stderr:    stderr,
		statePath: statePath,
		persist:   persist,
		statein:   statein,
		stdinBuf:  stdinBuf,
		stateout:  stateout,
		statePipe: statePipe,
		cmd:       cmd,
		waitCh:    make(chan *os.ProcessState, 1),
		waitErrCh: make(chan error, 1),
	}

	task.group.Go(func() error { return task.runWait() })

	return task, nil, nil
}

func (t *SpawnedTask) wait() {
	err := t.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			t.waitCh <- exitErr.ProcessState
			return
		}
		t.waitErrCh <- err
		return
	}
	t.waitCh <- t.cmd.ProcessState
}

// runWait recovers a panic in wait, converting it to a
// schederrors.TaskRuntimeError rather than crashing the process. The
// recovered error is also pushed onto waitErrCh so Poll still observes
// the task as finished instead of polling forever for an exit that can
// no longer arrive.
func (t *SpawnedTask) runWait() (err error) {
	defer func() {
		if r := recover(); r != nil {
			rtErr := &schederrors.TaskRuntimeError{Task: t.Spec.Name, ReturnCode: -1}
			t.RuntimeErr = rtErr
			err = rtErr
			select {
			case t.waitErrCh <- rtErr:
			default:
			}
		}
	}()
	t.wait()
	return nil
}

// signalGroup sends sig to the task's process group, falling back to
// the lone pid if the group has already dissolved (the child is no
// longer its own leader).
func (t *SpawnedTask) signalGroup(sig syscall.Signal) {
	if err := procgroup.Signal(t.Pgid, sig); err != nil {
		_ = procgroup.SignalProcess(t.Pid, sig)
	}
}

// Poll drains all of the task's I/O and advances its timeout state
// machine; it returns true exactly once, the poll on which the child's
// exit is first observed.
func (t *SpawnedTask) Poll(now time.Time, pollInterval time.Duration) bool {
	if t.EndedAt != nil {
		return false
	}

	t.enforceTimeout(now, pollInterval)

	_ = t.stdinBuf.Send()
	_ = t.statein.Send()
	_, _ = t.Stderr.Receive()
	_, _ = t.stateout.Receive()

	select {
	case state := <-t.waitCh:
		t.finish(now, procgroup.ExitCode(state))
		return true
	case <-t.waitErrCh:
		t.finish(now, -1)
		return true
	default:
		return false
	}
}

func (t *SpawnedTask) enforceTimeout(now time.Time, pollInterval time.Duration) {
	if t.Spec.Timeout <= 0 {
		return
	}

	switch {
	case t.TerminatedAt == nil && now.Sub(t.StartedAt) >= t.Spec.Timeout:
		t.signalGroup(procgroup.Terminate)
		terminatedAt := now
		t.TerminatedAt = &terminatedAt
	case t.TerminatedAt != nil && t.KilledAt == nil && now.Sub(*t.TerminatedAt) >= pollInterval:
		t.signalGroup(procgroup.Kill)
		killedAt := now
		t.KilledAt = &killedAt
	}
}

func (t *SpawnedTask) finish(now time.Time, returnCode int) {
	// final best-effort drain to catch anything written just before exit
	_, _ = t.Stderr.Receive()
	_, _ = t.stateout.Receive()

	endedAt := now
	t.EndedAt = &endedAt
	t.ReturnCode = &returnCode

	t.Stdout.Close()
	_ = t.Stderr.Close()
	_ = t.stdinBuf.Close()
	_ = t.statein.Close()

	if err := t.group.Wait(); err != nil && t.RuntimeErr == nil {
		t.RuntimeErr = err
	}
	if err := t.Stdout.Err(); err != nil && t.RuntimeErr == nil {
		t.RuntimeErr = &schederrors.TaskRuntimeError{Task: t.Spec.Name, ReturnCode: -1}
	}

	class := ClassifyReturnCode(returnCode)
	if class == ClassOK || class == ClassRetry {
		if data := t.stateout.Bytes(); len(data) > 0 {
			var err error
			switch {
			case t.persist != nil:
				err = t.persist(data)
			case t.statePath != "":
				err = statedir.WriteStateAtomic(t.statePath, data)
			}
			if err != nil {
				t.StateErr = &schederrors.StateEncodeError{Task: t.Spec.Name, Path: t.statePath, Cause: err}
			}
		}
	}
	_ = t.stateout.Close()
}

// Ready reports whether the task has finished.
func (t *SpawnedTask) Ready() bool {
	return t.EndedAt != nil
}

// Duration returns how long the task ran; zero if it hasn't ended yet.
func (t *SpawnedTask) Duration() time.Duration {
	if t.EndedAt == nil {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// StdoutBytes returns the coalesced stdout captured so far (the full
// buffer once the task is Ready).
func (t *SpawnedTask) StdoutBytes() []byte {
	return t.Stdout.Close()
}
