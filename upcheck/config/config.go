// Package config holds the runtime configuration for upcheck. Values come
// from an optional YAML file layered over defaults; a missing file is not an
// error.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/uptimeops/upcheck/upcheck/uptimequery"
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "10s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the full runtime configuration.
type Config struct {
	SSH   SSHConfig   `yaml:"ssh"`
	Patch PatchConfig `yaml:"patch"`
	Log   LogConfig   `yaml:"log"`
}

// SSHConfig covers the connection side of a sweep.
type SSHConfig struct {
	User         string   `yaml:"user"`
	Port         int      `yaml:"port"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// PatchConfig covers result derivation.
type PatchConfig struct {
	ThresholdDays float64 `yaml:"threshold_days"`
}

// LogConfig covers the diagnostic channel.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		SSH: SSHConfig{
			Port:         22,
			DialTimeout:  Duration{10 * time.Second},
			QueryTimeout: Duration{15 * time.Second},
		},
		Patch: PatchConfig{
			ThresholdDays: uptimequery.DefaultPatchThreshold,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file layered over Default. An empty
// path or a missing file falls back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once rather than
// stopping at the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("ssh port %d out of range", c.SSH.Port))
	}
	if c.SSH.DialTimeout.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("ssh dial_timeout must be positive"))
	}
	if c.SSH.QueryTimeout.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("ssh query_timeout must be positive"))
	}
	if c.Patch.ThresholdDays < 0 {
		result = multierror.Append(result, fmt.Errorf("patch threshold_days must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("log level %q is not valid", c.Log.Level))
	}

	return result.ErrorOrNil()
}
