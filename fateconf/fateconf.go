// Package fateconf is the narrow, TaskSpec-building configuration
// façade: it decodes a single YAML or TOML configuration file into a
// set of sched/taskspec.TaskSpec values, standing in for the full
// nested ChainMap-style configuration grammar the Python source
// implements (out of scope here; see SPEC_FULL.md's Non-Goals).
package fateconf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	schederrors "github.com/hrygo/fate/sched/errors"
	"github.com/hrygo/fate/sched/taskspec"
)

// taskConfig is the as-decoded, pre-resolution shape of a single task
// block in a configuration file.
type taskConfig struct {
	Name     string         `yaml:"name" toml:"name"`
	Lib      string         `yaml:"lib" toml:"lib"`
	Command  string         `yaml:"command" toml:"command"`
	Exec     []string       `yaml:"exec" toml:"exec"`
	Param    any            `yaml:"param" toml:"param"`
	Timeout  string         `yaml:"timeout" toml:"timeout"`
	Tenancy  int            `yaml:"tenancy" toml:"tenancy"`
	Schedule string         `yaml:"schedule" toml:"schedule"`
	If       string         `yaml:"if" toml:"if"`
	Unless   string         `yaml:"unless" toml:"unless"`
	Format   map[string]any `yaml:"format" toml:"format"`
	Path     map[string]any `yaml:"path" toml:"path"`
}

// fileConfig is the top-level shape of a configuration file: a set of
// defaults shared by every task, and the list of tasks themselves.
type fileConfig struct {
	Defaults struct {
		Format map[string]any `yaml:"format" toml:"format"`
		Path   struct {
			Result string `yaml:"result" toml:"result"`
		} `yaml:"path" toml:"path"`
	} `yaml:"defaults" toml:"defaults"`
	Tasks []taskConfig `yaml:"tasks" toml:"tasks"`
}

// Load reads and decodes the configuration file at path (by extension,
// ".yaml"/".yml" or ".toml") into a fully-resolved set of TaskSpecs.
func Load(path string) ([]taskspec.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schederrors.NewConfigError(schederrors.ErrConfigMissing, "", path, err)
	}

	var cfg fileConfig
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, schederrors.NewConfigError(schederrors.ErrConfigSyntax, "", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, schederrors.NewConfigError(schederrors.ErrConfigSyntax, "", path, err)
		}
	default:
		return nil, schederrors.NewConfigError(schederrors.ErrConfigValue, "", path, fmt.Errorf("unrecognized configuration extension %q", filepath.Ext(path)))
	}

	return build(cfg)
}

func build(cfg fileConfig) ([]taskspec.TaskSpec, error) {
	defaults := taskspec.Defaults{
		Format:     cfg.Defaults.Format,
		ResultRoot: cfg.Defaults.Path.Result,
	}

	seen := make(map[string]struct{}, len(cfg.Tasks))
	specs := make([]taskspec.TaskSpec, 0, len(cfg.Tasks))

	for _, tc := range cfg.Tasks {
		if tc.Name == "" {
			return nil, schederrors.NewConfigError(schederrors.ErrConfigMissing, "", "name", fmt.Errorf("task is missing a name"))
		}
		if _, dup := seen[tc.Name]; dup {
			return nil, schederrors.NewConfigError(schederrors.ErrConfigConflict, tc.Name, "name", fmt.Errorf("duplicate task name %q", tc.Name))
		}
		seen[tc.Name] = struct{}{}

		raw, err := buildRaw(tc, defaults)
		if err != nil {
			return nil, err
		}

		spec, err := taskspec.Build(raw, defaults)
		if err != nil {
			return nil, schederrors.NewConfigError(schederrors.ErrConfigConflict, tc.Name, "exec", err)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

func buildRaw(tc taskConfig, defaults taskspec.Defaults) (taskspec.Raw, error) {
	var timeout time.Duration
	if tc.Timeout != "" {
		d, err := time.ParseDuration(tc.Timeout)
		if err != nil {
			return taskspec.Raw{}, schederrors.NewConfigError(schederrors.ErrConfigValue, tc.Name, "timeout", err)
		}
		timeout = d
	}

	layers := taskspec.NewLayered(tc.Format, defaults.Format)
	paramFormat := layers.String("param", "json")

	param, err := encodeParam(tc.Param, paramFormat)
	if err != nil {
		return taskspec.Raw{}, schederrors.NewConfigError(schederrors.ErrConfigValue, tc.Name, "param", err)
	}

	return taskspec.Raw{
		Name:     tc.Name,
		Lib:      tc.Lib,
		Command:  tc.Command,
		Exec:     tc.Exec,
		Param:    param,
		Timeout:  timeout,
		Tenancy:  tc.Tenancy,
		Schedule: tc.Schedule,
		If:       tc.If,
		Unless:   tc.Unless,
		Format:   tc.Format,
		Path:     tc.Path,
	}, nil
}

// encodeParam serializes a decoded config value (map, slice, scalar,
// or nil) into the bytes a task receives on stdin, per its resolved
// param format.
func encodeParam(value any, format string) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	switch format {
	case "yaml":
		return yaml.Marshal(value)
	case "toml":
		return toml.Marshal(value)
	default:
		return json.Marshal(value)
	}
}
