// Package taskspec defines the immutable, fully-resolved view of a single
// task's configuration that the rest of the scheduler operates on. The
// layered default resolution (task-level overrides falling back to a
// configuration set's defaults, falling back to hardcoded values) lives
// here as an explicit, walkable chain rather than the deep mixin
// inheritance the original configuration types used.
package taskspec

import (
	"errors"
	"fmt"
	"time"
)

// ErrAmbiguousExec is returned when a task configuration specifies both
// "command" and "exec"; exactly one may be given.
var ErrAmbiguousExec = errors.New("ambiguous configuration: specify either task command or exec, not both")

// Format carries the three independently-resolved serialization tags a
// task may configure: how its stderr log records are framed, how its
// stdin parameter is encoded, and which result format is configured for
// a completed run's stdout. Result is resolved and carried here, but
// sched/resultfile does not read it: result files are always named by
// auto-detection of their content.
type Format struct {
	Log    string // auto|mixed|json|yaml|toml|csv
	Param  string // json|yaml|toml (default json)
	Result string // auto|json|yaml|toml|tar|tar.gz (default auto)
}

// TaskSpec is the read-only, fully-resolved description of a task. Once
// built it is never mutated; every field required downstream (scheduling,
// spawning, result naming) is already settled.
type TaskSpec struct {
	Name     string
	Exec     []string
	Param    []byte
	State    []byte
	Timeout  time.Duration // zero means no timeout
	Tenancy  int           // zero means unbounded
	Schedule string
	If       string
	Unless   string
	Format   Format

	// ResultRoot is the directory a completed run's result file is
	// written under; empty means result persistence is disabled.
	ResultRoot string
}

// Raw is the task-level configuration as decoded from a configuration
// file, before layered-default resolution or parameter encoding.
type Raw struct {
	Name     string
	Lib      string
	Command  string
	Exec     []string
	Param    []byte // already encoded by the caller's configured format
	Timeout  time.Duration
	Tenancy  int
	Schedule string
	If       string
	Unless   string
	Format   map[string]any
	Path     map[string]any
}

// Defaults are the configuration-set-wide fallbacks a Raw task layers
// underneath its own overrides.
type Defaults struct {
	Format     map[string]any
	ResultRoot string
}

var hardcodedFormat = map[string]any{
	"log":    "auto",
	"param":  "json",
	"result": "auto",
}

// Build resolves a Raw task against its Defaults into a TaskSpec. The
// only validation performed here is the exec/command ambiguity check;
// broader validation (duplicate names, bad schedule syntax) is left to
// the caller, which has more context to report a useful error.
func Build(raw Raw, defaults Defaults) (TaskSpec, error) {
	exec, err := resolveExec(raw)
	if err != nil {
		return TaskSpec{}, err
	}

	layers := NewLayered(raw.Format, defaults.Format, hardcodedFormat)
	format := Format{
		Log:    layers.String("log", "auto"),
		Param:  layers.String("param", "json"),
		Result: layers.String("result", "auto"),
	}

	resultRoot := defaults.ResultRoot
	if raw.Path != nil {
		if v, ok := raw.Path["result"]; ok {
			if s, ok := v.(string); ok && s != "" {
				resultRoot = s
			}
		}
	}

	return TaskSpec{
		Name:       raw.Name,
		Exec:       exec,
		Param:      raw.Param,
		Timeout:    raw.Timeout,
		Tenancy:    raw.Tenancy,
		Schedule:   raw.Schedule,
		If:         raw.If,
		Unless:     raw.Unless,
		Format:     format,
		ResultRoot: resultRoot,
	}, nil
}

func resolveExec(raw Raw) ([]string, error) {
	if len(raw.Exec) > 0 {
		if raw.Command != "" {
			return nil, ErrAmbiguousExec
		}
		return raw.Exec, nil
	}

	command := raw.Command
	if command == "" {
		command = raw.Name
	}
	lib := raw.Lib
	if lib == "" {
		lib = "fate"
	}
	return []string{fmt.Sprintf("%s-%s", lib, command)}, nil
}

// MayResult reports whether a result file should be written for a
// completed run of this task.
func (t TaskSpec) MayResult() bool {
	return t.ResultRoot != ""
}
