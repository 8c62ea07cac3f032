// Package config loads turbine configuration from a YAML file with
// environment variable overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (TURBINE_LOGGING_LEVEL, TURBINE_LLM_MODEL, ...)
//  2. YAML config file (turbine.yaml)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/turbine/internal/llm"
	"github.com/fyrsmithlabs/turbine/internal/logging"
	"github.com/fyrsmithlabs/turbine/internal/telemetry"
)

const (
	envPrefix         = "TURBINE_"
	maxConfigFileSize = 1024 * 1024
)

// Config is the complete turbine configuration.
type Config struct {
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	LLM       llm.Config       `koanf:"llm"`
	Session   SessionConfig    `koanf:"session"`
}

// SessionConfig holds orchestrator knobs.
type SessionConfig struct {
	// MaxTurns is the global safety net across all phases.
	MaxTurns int `koanf:"max_turns"`

	// CheckpointEvery requests approval every N turns.
	CheckpointEvery int `koanf:"checkpoint_every"`

	// DBPath overrides the event store location. Empty means
	// <workdir>/turbine.db.
	DBPath string `koanf:"db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging:   *logging.DefaultConfig(),
		Telemetry: *telemetry.DefaultConfig(),
		LLM: llm.Config{
			Model:             llm.DefaultModel,
			RequestsPerMinute: 60,
		},
		Session: SessionConfig{
			MaxTurns:        20000,
			CheckpointEvery: 10,
		},
	}
}

// Load reads the config file at path (skipped when empty or absent) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			// Open once and validate through the descriptor to avoid a
			// stat/read race.
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("stat config file: %w", err)
			}
			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	// TURBINE_LOGGING_LEVEL -> logging.level; the first underscore after the
	// prefix separates section from field, the rest stays underscored.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// validateConfigFileProperties checks permissions and size. The file may
// carry an API key, so anything group- or world-readable is rejected.
// Skipped on Windows (different permission model).
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session: max_turns must be > 0")
	}
	if c.Session.CheckpointEvery <= 0 {
		return fmt.Errorf("session: checkpoint_every must be > 0")
	}
	return nil
}
