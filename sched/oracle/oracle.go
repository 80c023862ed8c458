// Package oracle answers the two questions the execution loop needs
// about a task's schedule: has it come due since the last check, and
// when does it next come due; plus whether its optional guard
// expression currently allows it to run.
package oracle

import (
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/hrygo/fate/sched/taskspec"
)

// ErrConfBracket wraps a guard-expression compile error. The caller logs
// and treats the task as "not scheduled" rather than aborting the run.
var ErrConfBracket = errors.New("bracketed expression syntax error")

// maxYearsBetweenMatches bounds NextAfter's search window; a schedule
// that never fires within a year is treated as never firing.
const maxYearsBetweenMatches = 1

// Oracle evaluates schedules and guard expressions, caching both the
// parsed cron.Schedule and the compiled CEL program per task name since
// neither changes across a TaskSpec's lifetime.
type Oracle struct {
	env *cel.Env

	mu        sync.Mutex
	schedules map[string]cron.Schedule
	programs  map[string]cel.Program
}

// New builds an Oracle with a CEL environment exposing three variables
// to guard expressions: `env` (a map of the process environment), `now`
// (a timestamp) and `task` (the task name).
func New() (*Oracle, error) {
	env, err := cel.NewEnv(
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now", cel.TimestampType),
		cel.Variable("task", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build CEL environment")
	}
	return &Oracle{
		env:       env,
		schedules: make(map[string]cron.Schedule),
		programs:  make(map[string]cel.Program),
	}, nil
}

func (o *Oracle) scheduleFor(spec taskspec.TaskSpec) (cron.Schedule, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sched, ok := o.schedules[spec.Name]; ok {
		return sched, nil
	}

	expr := substituteHashTokens(spec.Schedule, spec.Name)
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "task %s: invalid schedule %q", spec.Name, spec.Schedule)
	}
	o.schedules[spec.Name] = sched
	return sched, nil
}

// Scheduled reports whether spec's schedule fires at some instant in
// (tPrev, tNow]. A zero tPrev (the caller's encoding of "no prior
// check") always yields false: no task is considered due on a first run.
func (o *Oracle) Scheduled(spec taskspec.TaskSpec, tPrev, tNow time.Time) (bool, error) {
	if tPrev.IsZero() {
		return false, nil
	}

	sched, err := o.scheduleFor(spec)
	if err != nil {
		return false, err
	}

	next := sched.Next(tPrev)
	return !next.IsZero() && !next.After(tNow), nil
}

// NextAfter returns the smallest instant strictly after t at which
// spec's schedule fires, bounded to a one-year window. ok is false if
// nothing fires within that window.
func (o *Oracle) NextAfter(spec taskspec.TaskSpec, t time.Time) (next time.Time, ok bool, err error) {
	sched, err := o.scheduleFor(spec)
	if err != nil {
		return time.Time{}, false, err
	}

	bound := t.AddDate(maxYearsBetweenMatches, 0, 0)
	candidate := sched.Next(t)
	if candidate.IsZero() || candidate.After(bound) {
		return time.Time{}, false, nil
	}
	return candidate, true, nil
}

func (o *Oracle) programFor(spec taskspec.TaskSpec, expr string) (cel.Program, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := spec.Name + "\x00" + expr
	if prog, ok := o.programs[key]; ok {
		return prog, nil
	}

	ast, issues := o.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(ErrConfBracket, "task %s: %s", spec.Name, issues.Err())
	}

	prog, err := o.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(ErrConfBracket, "task %s: %s", spec.Name, err)
	}

	o.programs[key] = prog
	return prog, nil
}

// Env is the evaluation context passed to EvaluateIf: the process
// environment exposed as a map plus the current time. The task name
// bound to `task` comes from the spec passed to EvaluateIf.
type Env struct {
	Vars map[string]string
	Now  time.Time
}

// EvaluateIf evaluates spec's `if` and `unless` guards against env,
// returning whether the task may be scheduled. An `if` expression must
// evaluate truthy and an `unless` expression must evaluate falsy; a
// task with neither configured is always permitted. A guard's compile
// error is reported as (false, ErrConfBracket)-wrapped so the caller
// can log and skip rather than abort the run.
func (o *Oracle) EvaluateIf(spec taskspec.TaskSpec, env Env) (bool, error) {
	vars := map[string]any{
		"env":  toAnyMap(env.Vars),
		"now":  env.Now,
		"task": spec.Name,
	}

	if spec.If != "" {
		ok, err := o.eval(spec, spec.If, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if spec.Unless != "" {
		suppressed, err := o.eval(spec, spec.Unless, vars)
		if err != nil {
			return false, err
		}
		if suppressed {
			return false, nil
		}
	}

	return true, nil
}

func (o *Oracle) eval(spec taskspec.TaskSpec, expr string, vars map[string]any) (bool, error) {
	prog, err := o.programFor(spec, expr)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(vars)
	if err != nil {
		return false, errors.Wrapf(err, "task %s: guard expression evaluation failed", spec.Name)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("task %s: guard expression did not evaluate to a boolean", spec.Name)
	}
	return result, nil
}

func toAnyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
