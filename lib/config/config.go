// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the modelsync probe and the
// client CLI.
//
// Configuration comes from a single file named by the
// MODELSYNC_CONFIG environment variable ([Load]) or a --config flag
// ([LoadFile]). There is no search path. Files ending in .json or
// .jsonc are read as JSON with comments; everything else is YAML.
//
// String fields support ${VAR} and ${VAR:-default} expansion after
// loading, so a shared file can say
//
//	listen: tcp://0.0.0.0:${MODELSYNC_PORT:-11732}
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "MODELSYNC_CONFIG"

// ErrNoConfig is returned by Load when EnvironmentVariable is unset.
var ErrNoConfig = errors.New(EnvironmentVariable + " environment variable not set")

// Config is the configuration shared by the probe and the client.
type Config struct {
	// Listen is the server URL: tcp://host:port or local://path.
	// Default: tcp://0.0.0.0:11732
	Listen string `yaml:"listen"`

	// Label is the human-readable name announced for this probe.
	// Default: the executable name.
	Label string `yaml:"label"`

	// Broadcast configures UDP discovery announcements.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Compression configures payload compression on outgoing messages.
	Compression CompressionConfig `yaml:"compression"`

	// SelectionDebounce is how long selection servers coalesce
	// structural changes before resending the selection.
	// Default: 125ms
	SelectionDebounce time.Duration `yaml:"selection_debounce"`

	// IconSize is the edge length in pixels icons are rendered at.
	// Default: 16
	IconSize int `yaml:"icon_size"`

	// MetricsAddress is the host:port the probe serves /metrics on.
	// Empty disables the metrics listener.
	MetricsAddress string `yaml:"metrics_address"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// BroadcastConfig configures discovery announcements.
type BroadcastConfig struct {
	// Enabled turns announcements on for tcp listeners that are not
	// bound to loopback. Default: true
	Enabled bool `yaml:"enabled"`

	// Port is the UDP port announcements are sent to.
	// Default: 13325
	Port int `yaml:"port"`

	// Interval is the time between announcements. Default: 5s
	Interval time.Duration `yaml:"interval"`
}

// CompressionConfig configures payload compression.
type CompressionConfig struct {
	// Algorithm is none, lz4 or zstd. Default: lz4
	Algorithm string `yaml:"algorithm"`

	// Threshold is the smallest payload, in bytes, worth
	// compressing. Default: 32
	Threshold int `yaml:"threshold"`
}

// Default returns the configuration used when no file overrides a
// field.
func Default() *Config {
	label := "modelsync"
	if executable, err := os.Executable(); err == nil {
		label = filepath.Base(executable)
	}
	return &Config{
		Listen: "tcp://0.0.0.0:11732",
		Label:  label,
		Broadcast: BroadcastConfig{
			Enabled:  true,
			Port:     13325,
			Interval: 5 * time.Second,
		},
		Compression: CompressionConfig{
			Algorithm: "lz4",
			Threshold: 32,
		},
		SelectionDebounce: 125 * time.Millisecond,
		IconSize:          16,
		LogLevel:          "info",
	}
}

// Load loads the file named by MODELSYNC_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%w; set it to the path of a modelsync config file, or use --config", ErrNoConfig)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration data on top of Default. The extension
// selects the format: ".json" and ".jsonc" are JSON with comments
// and trailing commas, anything else is YAML.
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are
		// stripped, so one decoder handles both formats.
		data = jsonc.ToJSON(data)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Listen = expandVars(c.Listen)
	c.Label = expandVars(c.Label)
	c.MetricsAddress = expandVars(c.MetricsAddress)
	c.Compression.Algorithm = expandVars(c.Compression.Algorithm)
	c.LogLevel = expandVars(c.LogLevel)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the process
// environment. An empty variable takes the default.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	} else if parsed, err := url.Parse(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	} else if parsed.Scheme != "tcp" && parsed.Scheme != "local" {
		errs = append(errs, fmt.Errorf("listen: unsupported scheme %q (want tcp or local)", parsed.Scheme))
	}

	if c.Broadcast.Port <= 0 || c.Broadcast.Port > 65535 {
		errs = append(errs, fmt.Errorf("broadcast.port %d out of range", c.Broadcast.Port))
	}
	if c.Broadcast.Enabled && c.Broadcast.Interval <= 0 {
		errs = append(errs, errors.New("broadcast.interval must be positive when broadcast is enabled"))
	}

	switch c.Compression.Algorithm {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("compression.algorithm must be one of: none, lz4, zstd (got %q)", c.Compression.Algorithm))
	}
	if c.Compression.Threshold < 0 {
		errs = append(errs, errors.New("compression.threshold must not be negative"))
	}

	if c.SelectionDebounce <= 0 {
		errs = append(errs, errors.New("selection_debounce must be positive"))
	}
	if c.IconSize <= 0 || c.IconSize > 256 {
		errs = append(errs, fmt.Errorf("icon_size %d out of range (1-256)", c.IconSize))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", c.LogLevel))
	}

	return errors.Join(errs...)
}
