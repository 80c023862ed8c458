// Package errors defines fate's sentinel error taxonomy: a handful of
// package-level sentinels for errors.Is matching, each paired with a
// wrapper struct that carries the failure's specifics, mirroring the
// teacher's sentinel-plus-wrapper idiom.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ConfigError sentinels, surfaced before the scheduler runs and mapped
// to process exit codes by cmd/fate.
var (
	ErrConfigConflict = fmt.Errorf("fate: configuration conflict")
	ErrConfigSyntax   = fmt.Errorf("fate: configuration syntax error")
	ErrConfigMissing  = fmt.Errorf("fate: configuration missing")
	ErrConfigValue    = fmt.Errorf("fate: configuration value error")

	ErrInvocation  = fmt.Errorf("fate: task invocation failed")
	ErrTaskRuntime = fmt.Errorf("fate: task returned a failing exit code")
)

// ConfigError wraps one of the ErrConfig* sentinels with the task and
// field that triggered it.
type ConfigError struct {
	Sentinel error
	Task     string
	Field    string
	Cause    error
}

func (e *ConfigError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("%v: %s: %v", e.Sentinel, e.Field, e.Cause)
	}
	return fmt.Sprintf("%v: task %q field %q: %v", e.Sentinel, e.Task, e.Field, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Sentinel }

// NewConfigError builds a ConfigError, wrapping cause with
// pkg/errors.Wrap for a stack trace at the point of construction.
func NewConfigError(sentinel error, task, field string, cause error) *ConfigError {
	return &ConfigError{Sentinel: sentinel, Task: task, Field: field, Cause: pkgerrors.Wrap(cause, field)}
}

// InvocationError reports that a task's executable could not be
// resolved or started.
type InvocationError struct {
	Task  string
	Cause error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%v: task %q: %v", ErrInvocation, e.Task, e.Cause)
}

func (e *InvocationError) Unwrap() error { return ErrInvocation }

// TaskRuntimeError carries a task's bucketed non-OK return code.
type TaskRuntimeError struct {
	Task       string
	ReturnCode int
}

func (e *TaskRuntimeError) Error() string {
	return fmt.Sprintf("%v: task %q exited %d", ErrTaskRuntime, e.Task, e.ReturnCode)
}

func (e *TaskRuntimeError) Unwrap() error { return ErrTaskRuntime }

// LogRecordDecodeError carries one stderr record that failed to
// decode under the task's configured log format.
type LogRecordDecodeError struct {
	Task  string
	Raw   []byte
	Cause error
}

func (e *LogRecordDecodeError) Error() string {
	return fmt.Sprintf("fate: task %q: log record decode error: %v", e.Task, e.Cause)
}

func (e *LogRecordDecodeError) Unwrap() error { return e.Cause }

// LogsDecodingError aggregates LogRecordDecodeErrors accumulated over a
// task run, so a caller can inspect which of many stderr records failed
// without losing the ones that decoded fine.
type LogsDecodingError struct {
	Task    string
	Partial []*LogRecordDecodeError
}

func (e *LogsDecodingError) Error() string {
	return fmt.Sprintf("fate: task %q: %d of its log records failed to decode", e.Task, len(e.Partial))
}

// StateEncodeError reports that a task's terminal state bytes could
// not be persisted; the loop logs a warning and continues rather than
// failing the run.
type StateEncodeError struct {
	Task  string
	Path  string
	Cause error
}

func (e *StateEncodeError) Error() string {
	return fmt.Sprintf("fate: task %q: state encode error writing %s: %v", e.Task, e.Path, e.Cause)
}

func (e *StateEncodeError) Unwrap() error { return e.Cause }
