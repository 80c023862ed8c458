// Package profile resolves and validates the runtime configuration of a
// fate process: where its state lives, how often it polls, and which
// configuration files it was pointed at.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the resolved runtime configuration for a single fate run.
type Profile struct {
	// Mode is "prod" or "dev"; dev relaxes a few path defaults.
	Mode string

	// ConfDir is the directory containing task configuration files.
	ConfDir string

	// DataDir is the default root for task result files (path.result).
	DataDir string

	// StateDir is the root directory under which per-configuration-set
	// state directories (check marker, task state, conf/ symlinks) live.
	StateDir string

	// PollInterval governs how often the execution loop polls active
	// tasks and checks for refills.
	PollInterval time.Duration

	// Version is the reported build version (see internal/version).
	Version string
}

const (
	envPrefix = "FATE_"

	defaultPollInterval = 10 * time.Millisecond
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv populates Profile fields left unset from FATE_-prefixed
// environment variables, matching the defaults a fresh install ships with.
func (p *Profile) FromEnv() {
	if p.Mode == "" {
		p.Mode = getEnvOrDefault("MODE", "prod")
	}
	if p.ConfDir == "" {
		p.ConfDir = getEnvOrDefault("CONF_DIR", "/etc/fate")
	}
	if p.DataDir == "" {
		p.DataDir = getEnvOrDefault("DATA_DIR", "/var/log/fate")
	}
	if p.StateDir == "" {
		p.StateDir = getEnvOrDefault("STATE_DIR", "/var/lib/fate")
	}
	if p.PollInterval == 0 {
		p.PollInterval = getEnvOrDefaultDuration("POLL_INTERVAL", defaultPollInterval)
	}
}

// IsDev reports whether the profile is running in development mode, which
// relaxes directory-existence checks so a scratch checkout works untouched.
func (p *Profile) IsDev() bool {
	return p.Mode == "dev"
}

func resolveDir(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		dir = abs
	}
	return strings.TrimRight(dir, `\/`), nil
}

func ensureDir(dir string) (string, error) {
	resolved, err := resolveDir(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", errors.Wrapf(err, "unable to create directory %s", resolved)
	}
	return resolved, nil
}

// Validate resolves every configured path to an absolute directory, creating
// DataDir and StateDir if they do not already exist (mirroring a cron
// daemon's expectation that its working directories are provisioned, not
// manually pre-created by the operator).
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "prod"
	}

	confDir, err := resolveDir(p.ConfDir)
	if err != nil {
		return errors.Wrapf(err, "invalid conf dir %s", p.ConfDir)
	}
	if _, err := os.Stat(confDir); err != nil && !p.IsDev() {
		return errors.Wrapf(err, "unable to access conf dir %s", confDir)
	}
	p.ConfDir = confDir

	if p.DataDir, err = ensureDir(p.DataDir); err != nil {
		return err
	}
	if p.StateDir, err = ensureDir(p.StateDir); err != nil {
		return err
	}

	if p.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.PollInterval)
	}

	return nil
}
