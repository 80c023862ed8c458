package taskspec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildExecFromCommand(t *testing.T) {
	spec, err := Build(Raw{Name: "backup", Command: "backup", Lib: "fate"}, Defaults{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fate-backup"}, spec.Exec)
}

func TestBuildExecFromNameWhenCommandOmitted(t *testing.T) {
	spec, err := Build(Raw{Name: "backup", Lib: "fate"}, Defaults{})
	require.NoError(t, err)
	assert.Equal(t, "fate-backup", spec.Exec[0], "expected exec to fall back to task name")
}

func TestBuildExecExplicit(t *testing.T) {
	spec, err := Build(Raw{Name: "backup", Exec: []string{"/usr/bin/rsync", "-a"}}, Defaults{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/rsync", "-a"}, spec.Exec, "expected explicit exec to pass through")
}

func TestBuildAmbiguousExecAndCommand(t *testing.T) {
	_, err := Build(Raw{Name: "backup", Command: "backup", Exec: []string{"/bin/echo"}}, Defaults{})
	assert.True(t, errors.Is(err, ErrAmbiguousExec), "expected ErrAmbiguousExec, got %v", err)
}

func TestBuildFormatLayering(t *testing.T) {
	spec, err := Build(Raw{
		Name:   "report",
		Format: map[string]any{"result": "yaml"},
	}, Defaults{
		Format: map[string]any{"result": "toml", "log": "json"},
	})
	require.NoError(t, err)
	assert.Equal(t, "yaml", spec.Format.Result, "expected task-level override to win")
	assert.Equal(t, "json", spec.Format.Log, "expected default-layer value to apply")
	assert.Equal(t, "json", spec.Format.Param, "expected hardcoded fallback")
}

func TestBuildResultRootFromTaskPath(t *testing.T) {
	spec, err := Build(Raw{
		Name: "report",
		Path: map[string]any{"result": "/var/log/fate/report"},
	}, Defaults{ResultRoot: "/var/log/fate/fate"})
	require.NoError(t, err)
	assert.Equal(t, "/var/log/fate/report", spec.ResultRoot, "expected task-level path override")
	assert.True(t, spec.MayResult(), "expected MayResult to be true when ResultRoot is set")
}

func TestBuildResultRootFallsBackToDefault(t *testing.T) {
	spec, err := Build(Raw{Name: "report"}, Defaults{ResultRoot: "/var/log/fate/fate"})
	require.NoError(t, err)
	assert.Equal(t, "/var/log/fate/fate", spec.ResultRoot, "expected default result root")
}

func TestMayResultFalseWhenUnset(t *testing.T) {
	spec, _ := Build(Raw{Name: "report"}, Defaults{})
	assert.False(t, spec.MayResult(), "expected MayResult to be false with no ResultRoot configured")
}
