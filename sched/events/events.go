// Package events defines the ordered stream of occurrences an
// ExecutionLoop run produces: one event per task launch outcome, plus
// a terminal summary delivered when the stream closes.
package events

import (
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/fate/sched/logformat"
)

// Event is the closed set of occurrences a run can emit.
type Event interface {
	eventMarker()
}

// TaskLogEvent carries one decoded (or decode-pending) stderr record
// emitted by a running task. Record() only attempts the decode on
// first access and caches the result, so a task that never has its
// logs inspected never pays the decode cost and never surfaces a
// LogRecordDecodeError nobody asked for.
type TaskLogEvent struct {
	CorrelationID string
	TaskName      string
	At            time.Time
	raw           []byte
	format        string

	decoded bool
	level   logformat.Level
	payload any
	err     error
}

func (TaskLogEvent) eventMarker() {}

// NewTaskLogEvent builds a log event for taskName from a raw
// NUL-delimited stderr record, stamping a fresh correlation ID for
// cross-referencing this record with others from the same task run.
func NewTaskLogEvent(taskName string, at time.Time, raw []byte, format string) TaskLogEvent {
	return TaskLogEvent{
		CorrelationID: shortuuid.New(),
		TaskName:      taskName,
		At:            at,
		raw:           raw,
		format:        format,
	}
}

// Record decodes the event's raw payload on first access, per the
// task's configured log format, caching the result (including any
// decode error) for subsequent calls.
func (e *TaskLogEvent) Record() (logformat.Level, any, error) {
	if !e.decoded {
		e.level, e.payload, e.err = logformat.Decode(e.raw, e.format)
		e.decoded = true
	}
	return e.level, e.payload, e.err
}

// TaskInvocationFailureEvent reports that a task's executable could
// not be resolved or started at all — distinct from a TaskReadyEvent
// with a non-zero return code, since the task never actually ran.
type TaskInvocationFailureEvent struct {
	CorrelationID string
	TaskName      string
	At            time.Time
	Err           error
}

func (TaskInvocationFailureEvent) eventMarker() {}

// NewTaskInvocationFailureEvent builds an invocation-failure event.
func NewTaskInvocationFailureEvent(taskName string, at time.Time, err error) TaskInvocationFailureEvent {
	return TaskInvocationFailureEvent{CorrelationID: shortuuid.New(), TaskName: taskName, At: at, Err: err}
}

// TaskReadyEvent reports that a spawned task has reached a terminal
// state: it has a return code, its stdout is closed, and — iff the
// return code qualified — its state has been persisted.
type TaskReadyEvent struct {
	CorrelationID string
	TaskName      string
	StartedAt     time.Time
	EndedAt       time.Time
	Duration      time.Duration
	ReturnCode    int
	Stdout        []byte
	Stderr        []byte
	ResultPath    string

	// Expires is the task's next scheduled run, if any (zero if the
	// oracle found none, e.g. a one-shot "@reboot"-style schedule).
	Expires time.Time

	// Stopped is set iff the task was signalled by the timeout state
	// machine rather than exiting on its own.
	Stopped *time.Time
}

func (TaskReadyEvent) eventMarker() {}

// NewTaskReadyEvent builds a ready event.
func NewTaskReadyEvent(taskName string, startedAt, endedAt time.Time, returnCode int, stdout, stderr []byte, resultPath string, expires time.Time, stopped *time.Time) TaskReadyEvent {
	return TaskReadyEvent{
		CorrelationID: shortuuid.New(),
		TaskName:      taskName,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		Duration:      endedAt.Sub(startedAt),
		ReturnCode:    returnCode,
		Stdout:        stdout,
		Stderr:        stderr,
		ResultPath:    resultPath,
		Expires:       expires,
		Stopped:       stopped,
	}
}

// SchedInfo is the terminal summary delivered when a Stream closes:
// how many tasks reached a terminal state during the run, and when
// the scheduler should next be checked.
type SchedInfo struct {
	CompletedCount int
	NextCheck      time.Time
}

// Stream wraps an Event channel with a post-close Result accessor —
// a bare channel can carry events but has nowhere to stash a final
// value once it's closed, so this small wrapper holds it instead.
type Stream struct {
	events chan Event
	result SchedInfo
}

// NewStream returns a Stream with the given channel buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{events: make(chan Event, buffer)}
}

// Events returns the receive-only event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Emit sends one event. Must not be called after Close.
func (s *Stream) Emit(e Event) {
	s.events <- e
}

// Close delivers the terminal summary and closes the event channel.
// Result() only returns a meaningful value after Close has been
// called.
func (s *Stream) Close(result SchedInfo) {
	s.result = result
	close(s.events)
}

// Result returns the terminal summary. Only valid after Close.
func (s *Stream) Result() SchedInfo {
	return s.result
}
