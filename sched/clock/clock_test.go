package clock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastCheckMissingReturnsNotOK(t *testing.T) {
	cs := NewCheckState(filepath.Join(t.TempDir(), "check"))

	_, ok, err := cs.LastCheck()
	require.NoError(t, err)
	assert.False(t, ok, "expected ok=false for a marker file that does not exist")
}

func TestUpdateThenLastCheckRoundTrips(t *testing.T) {
	cs := NewCheckState(filepath.Join(t.TempDir(), "check"))

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cs.Update(stamp))

	got, ok, err := cs.LastCheck()
	require.NoError(t, err)
	require.True(t, ok, "expected ok=true after Update")
	assert.True(t, got.Equal(stamp), "expected %s, got %s", stamp, got)
}

func TestUpdateTwiceOverwritesMtime(t *testing.T) {
	cs := NewCheckState(filepath.Join(t.TempDir(), "check"))

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	require.NoError(t, cs.Update(first), "Update first")
	require.NoError(t, cs.Update(second), "Update second")

	got, ok, err := cs.LastCheck()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(second), "expected %s, got %s", second, got)
}
