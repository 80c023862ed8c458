// Package loop implements the single-threaded, cooperative execution
// loop that ties every other sched/ package together: it decides which
// tasks are due, launches them subject to tenancy, drains their I/O,
// and emits the ordered event stream a caller consumes.
package loop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hrygo/fate/internal/obslog"
	"github.com/hrygo/fate/sched/clock"
	"github.com/hrygo/fate/sched/cohort"
	"github.com/hrygo/fate/sched/events"
	"github.com/hrygo/fate/sched/logformat"
	"github.com/hrygo/fate/sched/metrics"
	"github.com/hrygo/fate/sched/oracle"
	"github.com/hrygo/fate/sched/resultfile"
	"github.com/hrygo/fate/sched/statedir"
	"github.com/hrygo/fate/sched/supervisor"
	"github.com/hrygo/fate/sched/taskspec"
	"github.com/hrygo/fate/sched/tenancy"
)

// StateStore is an optional alternate backend for per-task state,
// substituted for the default flat-file layout under the state
// directory (see sched/statestore/sqlite.Store, which satisfies this
// interface).
type StateStore interface {
	SaveState(ctx context.Context, task string, data []byte) error
	LoadState(ctx context.Context, task string) (data []byte, ok bool, err error)
}

// Option customizes a Loop at construction time.
type Option func(*Loop)

// WithStateStore opts a Loop into store as its state backend instead
// of the default flat-file layout under stateDir.
func WithStateStore(store StateStore) Option {
	return func(l *Loop) { l.stateStore = store }
}

// activeTask tracks a running task plus how much of its cumulative
// stderr buffer has already been split into emitted log records.
type activeTask struct {
	spawned      *supervisor.SpawnedTask
	stderrOffset int
}

// Loop is the scheduler's cooperative driver. It is not safe for
// concurrent use: Run owns all of its state for the duration of one
// check-and-drain cycle.
type Loop struct {
	tasks        []taskspec.TaskSpec
	oracle       *oracle.Oracle
	stateDir     string
	pollInterval time.Duration
	clock        clock.Clock
	logger       *obslog.Logger
	writeFile    func(path string, data []byte) error

	checkState *clock.CheckState
	gate       *tenancy.Gate
	queue      *cohort.Queue
	active     map[string]*activeTask
	metrics    *metrics.Collectors
	stateStore StateStore
}

// New builds a Loop over tasks, ready to Run once. stateDir must
// already be resolved (see sched/statedir.Resolve).
func New(tasks []taskspec.TaskSpec, oc *oracle.Oracle, stateDir string, pollInterval time.Duration, clk clock.Clock, logger *obslog.Logger, opts ...Option) *Loop {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = obslog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}

	limits := make(map[string]int, len(tasks))
	for _, t := range tasks {
		limits[t.Name] = t.Tenancy
	}

	l := &Loop{
		tasks:        tasks,
		oracle:       oc,
		stateDir:     stateDir,
		pollInterval: pollInterval,
		clock:        clk,
		logger:       logger,
		writeFile:    func(path string, data []byte) error { return os.WriteFile(path, data, 0o644) },
		checkState:   clock.NewCheckState(filepath.Join(stateDir, "lastcheck")),
		gate:         tenancy.NewGate(limits),
		queue:        cohort.NewQueue(),
		active:       make(map[string]*activeTask),
		metrics:      metrics.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Metrics returns the loop's Prometheus collectors, so a caller can
// register them with its own registerer and expose them over HTTP.
func (l *Loop) Metrics() *metrics.Collectors {
	return l.metrics
}

// Run performs one full check-and-drain cycle in a background
// goroutine and returns the event stream immediately, so the caller
// can consume events as they're produced rather than after the fact.
func (l *Loop) Run() *events.Stream {
	stream := events.NewStream(64)
	go l.run(stream)
	return stream
}

func (l *Loop) run(stream *events.Stream) {
	timeCheck := l.clock.Now()
	lastCheck, _, err := l.checkState.LastCheck()
	if err != nil {
		l.logger.Warn("unable to read last check marker", "err", err)
	}

	due := l.dueTasks(lastCheck, timeCheck)
	_, admitted := l.queue.Enqueue(due)
	l.logger.Debug("enqueued cohort", "cohort", 0, "size", admitted)

	completed := 0
	l.launch(stream, &completed)

	nextRefillMinute := time.Time{}
	for len(l.active) > 0 {
		time.Sleep(l.pollInterval)
		pollNow := l.clock.Now()

		for name, at := range l.active {
			done := at.spawned.Poll(pollNow, l.pollInterval)

			l.emitLogRecords(stream, name, at, pollNow)

			if done {
				if at.spawned.StateErr != nil {
					l.logger.Warn("state encode error", "task", name, "err", at.spawned.StateErr)
				}
				if at.spawned.RuntimeErr != nil {
					l.logger.Warn("task runtime error", "task", name, "err", at.spawned.RuntimeErr)
				}
				l.finishTask(stream, name, at, &completed)
			}
		}

		minute := pollNow.Truncate(time.Minute)
		if !minute.Equal(nextRefillMinute) {
			l.refill(stream, &timeCheck, pollNow)
			nextRefillMinute = minute
		}

		l.launch(stream, &completed)
	}

	l.finalize(stream, timeCheck, completed)
}

// launch drains the cohort queue of every task the tenancy gate
// currently admits, spawning each; invocation failures are reported
// immediately and counted as completed without ever occupying a gate
// slot.
func (l *Loop) launch(stream *events.Stream, completed *int) {
	for {
		spec, ok := l.queue.Next(l.gate)
		if !ok {
			l.metrics.SetBlocked(l.queue.Len())
			return
		}

		statePath := statedir.TaskStatePath(l.stateDir, spec.Name)
		priorState, persist := l.statePersistence(spec.Name, statePath)

		spawned, failed, err := supervisor.Spawn(spec, statePath, priorState, l.pollInterval, persist)
		if err != nil {
			l.logger.Warn("unable to spawn task", "task", spec.Name, "err", err)
			*completed++
			l.metrics.ObserveInvocationFailure(spec.Name)
			stream.Emit(events.NewTaskInvocationFailureEvent(spec.Name, l.clock.Now(), err))
			continue
		}
		if failed != nil {
			*completed++
			l.metrics.ObserveInvocationFailure(spec.Name)
			stream.Emit(events.NewTaskInvocationFailureEvent(spec.Name, l.clock.Now(), failed.Err))
			continue
		}

		l.gate.Acquire(spec.Name)
		l.active[spec.Name] = &activeTask{spawned: spawned}
		l.metrics.ObserveLaunch(spec.Name)
		l.logger.Debug("launched pool", "task", spec.Name, "active", len(l.active))
	}
}

// statePersistence resolves a task's prior state bytes and its save
// callback: when a StateStore is configured it takes over entirely,
// otherwise both fall back to the default flat-file layout under
// statePath.
func (l *Loop) statePersistence(task, statePath string) (priorState []byte, persist func([]byte) error) {
	if l.stateStore == nil {
		data, _ := os.ReadFile(statePath)
		return data, nil
	}

	data, ok, err := l.stateStore.LoadState(context.Background(), task)
	if err != nil {
		l.logger.Warn("state store load error", "task", task, "err", err)
	} else if ok {
		priorState = data
	}
	return priorState, func(data []byte) error {
		return l.stateStore.SaveState(context.Background(), task, data)
	}
}

func (l *Loop) emitLogRecords(stream *events.Stream, name string, at *activeTask, now time.Time) {
	all := at.spawned.Stderr.Bytes()
	unconsumed := all[at.stderrOffset:]
	records, remainder := logformat.Split(unconsumed)
	at.stderrOffset += len(unconsumed) - len(remainder)

	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		ev := events.NewTaskLogEvent(name, now, rec, at.spawned.Spec.Format.Log)
		stream.Emit(&ev)
	}
}

func (l *Loop) finishTask(stream *events.Stream, name string, at *activeTask, completed *int) {
	l.gate.Release(name)
	delete(l.active, name)
	*completed++

	spec := at.spawned.Spec
	stdout := at.spawned.StdoutBytes()

	resultPath := ""
	if spec.MayResult() && len(stdout) > 0 {
		path, err := resultfile.Write(l.writeFile, spec.ResultRoot, spec.Name, *at.spawned.EndedAt, stdout)
		if err != nil {
			l.logger.Warn("result encoding error", "task", spec.Name, "err", err)
		}
		resultPath = path
	}

	l.metrics.ObserveCompletion(spec.Name, at.spawned.Duration().Seconds(), at.spawned.TerminatedAt != nil)

	expires, _, err := l.oracle.NextAfter(spec, *at.spawned.EndedAt)
	if err != nil {
		l.logger.Warn("unable to compute next schedule", "task", spec.Name, "err", err)
	}

	stream.Emit(events.NewTaskReadyEvent(spec.Name, at.spawned.StartedAt, *at.spawned.EndedAt, *at.spawned.ReturnCode, stdout, at.spawned.Stderr.Bytes(), resultPath, expires, at.spawned.TerminatedAt))
}

// refill re-evaluates due tasks as of now and, if any are genuinely
// new (the cohort queue dedupes against everything already seen),
// enqueues them: into cohort 0 if every cohort has fully drained
// ("primary cohort recreation"), otherwise as the next cohort.
func (l *Loop) refill(stream *events.Stream, timeCheck *time.Time, now time.Time) {
	fresh := l.dueTasks(*timeCheck, now)
	if len(fresh) == 0 {
		return
	}
	*timeCheck = now

	if l.queue.IsEmpty() {
		l.queue.EnqueueAt0(fresh)
		l.logger.Debug("enqueued cohort", "cohort", 0, "size", len(fresh))
		return
	}

	idx, admitted := l.queue.Enqueue(fresh)
	l.logger.Debug("enqueued cohort", "cohort", idx, "size", admitted)
}

func (l *Loop) finalize(stream *events.Stream, timeCheck time.Time, completed int) {
	if err := l.checkState.Update(timeCheck); err != nil {
		l.logger.Warn("unable to persist last check", "err", err)
	}

	nextCheck := timeCheck.AddDate(1, 0, 0)
	for _, spec := range l.tasks {
		next, ok, err := l.oracle.NextAfter(spec, timeCheck)
		if err != nil {
			l.logger.Warn("unable to compute next schedule", "task", spec.Name, "err", err)
			continue
		}
		if ok && next.Before(nextCheck) {
			nextCheck = next
		}
	}

	stream.Close(events.SchedInfo{CompletedCount: completed, NextCheck: nextCheck})
}

func (l *Loop) dueTasks(lastCheck, timeCheck time.Time) []taskspec.TaskSpec {
	env := oracle.Env{Vars: environMap(), Now: timeCheck}

	var due []taskspec.TaskSpec
	for _, spec := range l.tasks {
		scheduled, err := l.oracle.Scheduled(spec, lastCheck, timeCheck)
		if err != nil {
			l.logger.Warn("unable to evaluate schedule", "task", spec.Name, "err", err)
			continue
		}
		if !scheduled {
			continue
		}

		permitted, err := l.oracle.EvaluateIf(spec, env)
		if err != nil {
			l.logger.Warn("guard expression error", "task", spec.Name, "err", err)
			continue
		}
		if !permitted {
			l.logger.Info("skipped: suppressed by if/unless condition", "task", spec.Name)
			continue
		}

		due = append(due, spec)
	}
	return due
}

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
