package fateconf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schederrors "github.com/hrygo/fate/sched/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "writing fixture")
	return path
}

func TestLoadYAMLResolvesTaskSpecs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.yaml", `
defaults:
  path:
    result: /var/lib/fate/results
  format:
    param: json

tasks:
  - name: backup
    exec: ["backup.sh", "--full"]
    schedule: "0 2 * * *"
    tenancy: 1
    param:
      bucket: backups
`)

	specs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.Equal(t, "backup", spec.Name)
	assert.Equal(t, "0 2 * * *", spec.Schedule, "expected schedule preserved")
	assert.Equal(t, "/var/lib/fate/results", spec.ResultRoot, "expected default result root inherited")
	assert.Contains(t, []string{`{"bucket":"backups"}` + "\n", `{"bucket":"backups"}`}, string(spec.Param), "unexpected param encoding: %s", spec.Param)
}

func TestLoadTOMLResolvesTaskSpecs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.toml", `
[defaults.path]
result = "/var/lib/fate/results"

[[tasks]]
name = "cleanup"
command = "cleanup"
lib = "ops"
tenancy = 2
`)

	specs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"ops-cleanup"}, specs[0].Exec, "expected resolved exec")
}

func TestLoadRejectsDuplicateTaskNames(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.yaml", `
tasks:
  - name: backup
    exec: ["backup.sh"]
  - name: backup
    exec: ["backup.sh"]
`)

	_, err := Load(path)
	require.Error(t, err, "expected an error for duplicate task names")
	assert.True(t, errors.Is(err, schederrors.ErrConfigConflict), "expected ErrConfigConflict, got %v", err)
}

func TestLoadRejectsAmbiguousExec(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.yaml", `
tasks:
  - name: backup
    command: backup
    exec: ["backup.sh"]
`)

	_, err := Load(path)
	require.Error(t, err, "expected an error for ambiguous exec/command")
	assert.True(t, errors.Is(err, schederrors.ErrConfigConflict), "expected ErrConfigConflict, got %v", err)
}

func TestLoadMissingFileReturnsConfigMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, schederrors.ErrConfigMissing), "expected ErrConfigMissing, got %v", err)
}

func TestLoadBadTimeoutReturnsConfigValue(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.yaml", `
tasks:
  - name: backup
    exec: ["backup.sh"]
    timeout: "not-a-duration"
`)

	_, err := Load(path)
	assert.True(t, errors.Is(err, schederrors.ErrConfigValue), "expected ErrConfigValue, got %v", err)
}

func TestLoadUnrecognizedExtensionReturnsConfigValue(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasks.json", `{}`)

	_, err := Load(path)
	assert.True(t, errors.Is(err, schederrors.ErrConfigValue), "expected ErrConfigValue, got %v", err)
}
