// Package config resolves onyx's runtime configuration: the
// environment variables spec.md §6 names (AA_REPO, AA_SECS_TIMEOUT,
// AA_DOUBLE_OUTPUT) layered over an optional override file at
// ~/.onyx/config.yaml, for operators who want durable defaults without
// exporting the same variables on every invocation.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultTimeoutSecs backs services with no timeout file and no
// AA_SECS_TIMEOUT override, mirroring repo.DefaultTimeoutSecs.
const DefaultTimeoutSecs = 7

// DefaultProgressSlots bounds the scheduler's progress-table allocation
// when neither the override file nor a caller overrides it.
const DefaultProgressSlots = 32

// Config holds onyx's resolved runtime configuration.
type Config struct {
	RepoRoot     string `yaml:"-"`
	SecsTimeout  int    `yaml:"timeout,omitempty"`
	DoubleOutput bool   `yaml:"-"`

	ProgressSlots   int  `yaml:"progress_slots,omitempty"`
	AutoEnableNeeds bool `yaml:"auto_enable_needs,omitempty"`
	AutoEnableWants bool `yaml:"auto_enable_wants,omitempty"`
}

// DefaultPath returns the default override file path: ~/.onyx/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".onyx", "config.yaml")
}

// Load reads a YAML override file from path. If the file does not
// exist, it returns an empty Config and no error. An empty or
// all-comment file also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the final Config: the override file at path supplies
// defaults (falling back to the package defaults when absent or when a
// field is unset), and the AA_REPO / AA_SECS_TIMEOUT / AA_DOUBLE_OUTPUT
// environment variables take precedence over both when set.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.SecsTimeout <= 0 {
		cfg.SecsTimeout = DefaultTimeoutSecs
	}
	if cfg.ProgressSlots <= 0 {
		cfg.ProgressSlots = DefaultProgressSlots
	}

	cfg.RepoRoot = os.Getenv("AA_REPO")
	if v := os.Getenv("AA_SECS_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.SecsTimeout = secs
		}
	}
	if v := os.Getenv("AA_DOUBLE_OUTPUT"); v != "" {
		cfg.DoubleOutput = true
	}

	return cfg, nil
}
