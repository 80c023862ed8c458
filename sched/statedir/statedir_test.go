package statedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("tasks: {}\n"), 0o644), "write conf file")
	return path
}

func TestSignatureIsOrderIndependent(t *testing.T) {
	a := Signature([]string{"/etc/fate/a.yaml", "/etc/fate/b.yaml"})
	b := Signature([]string{"/etc/fate/b.yaml", "/etc/fate/a.yaml"})
	assert.Equal(t, a, b, "expected signature to be independent of input order")
}

func TestResolveCreatesStateDirWithConfSymlinks(t *testing.T) {
	confDir := t.TempDir()
	stateRoot := t.TempDir()
	confFile := writeConfFile(t, confDir, "nightly.yaml")

	target, err := Resolve(stateRoot, []string{confFile}, nil)
	require.NoError(t, err, "Resolve")

	info, err := os.Stat(target)
	require.NoError(t, err, "expected state dir to exist")
	assert.True(t, info.IsDir())

	link := filepath.Join(target, "conf", "nightly.yaml")
	_, err = os.Lstat(link)
	require.NoError(t, err, "expected conf symlink to exist")

	resolved, err := os.Readlink(link)
	require.NoError(t, err, "Readlink")
	assert.Equal(t, confFile, resolved, "expected symlink to %s", confFile)
}

func TestResolveIsIdempotent(t *testing.T) {
	confDir := t.TempDir()
	stateRoot := t.TempDir()
	confFile := writeConfFile(t, confDir, "nightly.yaml")

	first, err := Resolve(stateRoot, []string{confFile}, nil)
	require.NoError(t, err, "Resolve first")
	second, err := Resolve(stateRoot, []string{confFile}, nil)
	require.NoError(t, err, "Resolve second")
	assert.Equal(t, first, second, "expected Resolve to be idempotent")
}

func TestResolveMigratesStaleTag(t *testing.T) {
	confDir := t.TempDir()
	stateRoot := t.TempDir()
	confFile := writeConfFile(t, confDir, "nightly.yaml")

	digest := Signature([]string{confFile})
	stalePath := filepath.Join(stateRoot, "stale-tag-"+digest)
	require.NoError(t, os.MkdirAll(filepath.Join(stalePath, "conf"), 0o755), "seed stale dir")
	marker := filepath.Join(stalePath, "mytask.state")
	require.NoError(t, os.WriteFile(marker, []byte("preserved"), 0o644), "seed marker")

	target, err := Resolve(stateRoot, []string{confFile}, nil)
	require.NoError(t, err, "Resolve")
	require.NotEqual(t, stalePath, target, "expected target to use the current tag, not the stale one")

	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err), "expected stale directory to be renamed away, still present")

	migratedMarker := filepath.Join(target, "mytask.state")
	content, err := os.ReadFile(migratedMarker)
	require.NoError(t, err, "expected marker to survive migration")
	assert.Equal(t, "preserved", string(content))
}

func TestTaskStatePath(t *testing.T) {
	got := TaskStatePath("/var/lib/fate/otter-abc", "backup")
	want := filepath.Join("/var/lib/fate/otter-abc", "backup.state")
	assert.Equal(t, want, got)
}
