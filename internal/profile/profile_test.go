package profile

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearFateEnvVars() {
	for _, key := range []string{"MODE", "CONF_DIR", "DATA_DIR", "STATE_DIR", "POLL_INTERVAL"} {
		os.Unsetenv(envPrefix + key)
	}
}

func TestProfileDefaults(t *testing.T) {
	clearFateEnvVars()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "prod", p.Mode, "Mode default")
	assert.Equal(t, "/etc/fate", p.ConfDir, "ConfDir default")
	assert.Equal(t, "/var/log/fate", p.DataDir, "DataDir default")
	assert.Equal(t, "/var/lib/fate", p.StateDir, "StateDir default")
	assert.Equal(t, defaultPollInterval, p.PollInterval, "PollInterval default")
}

func TestProfileFromEnv(t *testing.T) {
	clearFateEnvVars()
	os.Setenv(envPrefix+"MODE", "dev")
	os.Setenv(envPrefix+"POLL_INTERVAL", "25ms")
	defer clearFateEnvVars()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "dev", p.Mode)
	assert.Equal(t, 25*time.Millisecond, p.PollInterval)
}

func TestProfileValidate(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{
		Mode:         "dev",
		ConfDir:      dir,
		DataDir:      dir + "/data",
		StateDir:     dir + "/state",
		PollInterval: 10 * time.Millisecond,
	}

	require.NoError(t, p.Validate())

	for _, created := range []string{p.DataDir, p.StateDir} {
		info, err := os.Stat(created)
		require.NoError(t, err)
		assert.True(t, info.IsDir(), "expected %s to exist as a directory", created)
	}
}

func TestProfileValidateMissingConfDir(t *testing.T) {
	p := &Profile{
		Mode:         "prod",
		ConfDir:      "/nonexistent/fate/conf/dir",
		DataDir:      t.TempDir(),
		StateDir:     t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	}

	assert.Error(t, p.Validate(), "expected error for missing conf dir")
}

func TestProfileValidateBadPollInterval(t *testing.T) {
	p := &Profile{
		Mode:     "dev",
		ConfDir:  t.TempDir(),
		DataDir:  t.TempDir(),
		StateDir: t.TempDir(),
	}

	assert.Error(t, p.Validate(), "expected error for non-positive poll interval")
}

func TestProfileIsDev(t *testing.T) {
	p := &Profile{Mode: "dev"}
	assert.True(t, p.IsDev())

	p.Mode = "prod"
	assert.False(t, p.IsDev())
}
