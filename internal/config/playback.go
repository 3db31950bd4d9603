// Package config loads playback settings from a JSON file and CABREPLAY_*
// environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/cabreplay/internal/fsutil"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CABREPLAY_"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// PlaybackConfig holds user-tunable playback settings. Nil fields fall back
// to the defaults returned by the Get* accessors, so partial files are safe.
type PlaybackConfig struct {
	// File selection
	IndexSuffix   *string `json:"index_suffix,omitempty" env:"INDEX_SUFFIX"`
	MaxIndexBytes *int64  `json:"max_index_bytes,omitempty" env:"MAX_INDEX_BYTES"`

	// Playback
	StepInterval  *string `json:"step_interval,omitempty" env:"STEP_INTERVAL"` // duration string like "500ms"
	StrictRecords *bool   `json:"strict_records,omitempty" env:"STRICT_RECORDS"`

	// Logging
	LogLevel  *string `json:"log_level,omitempty" env:"LOG_LEVEL"`
	LogFormat *string `json:"log_format,omitempty" env:"LOG_FORMAT"` // "text" or "json"

	// History
	HistoryDB *string `json:"history_db,omitempty" env:"HISTORY_DB"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt64(v int64) *int64    { return &v }

// DefaultPlaybackConfig returns a config with every field set to its
// default.
func DefaultPlaybackConfig() *PlaybackConfig {
	return &PlaybackConfig{
		IndexSuffix:   ptrString("_index"),
		MaxIndexBytes: ptrInt64(64 << 20),
		StepInterval:  ptrString("1s"),
		StrictRecords: ptrBool(true),
		LogLevel:      ptrString("info"),
		LogFormat:     ptrString("text"),
		HistoryDB:     ptrString(""),
	}
}

// LoadPlaybackConfig reads a JSON config through fsys. The path must end in
// .json and the file must be under 1MB.
func LoadPlaybackConfig(fsys fsutil.FileSystem, path string) (*PlaybackConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PlaybackConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CABREPLAY_* variables in environ. A nil
// environ reads the process environment.
func (c *PlaybackConfig) ApplyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *PlaybackConfig) Validate() error {
	if c.IndexSuffix != nil && *c.IndexSuffix == "" {
		return fmt.Errorf("index_suffix must not be empty")
	}

	if c.MaxIndexBytes != nil && *c.MaxIndexBytes <= 0 {
		return fmt.Errorf("max_index_bytes must be positive, got %d", *c.MaxIndexBytes)
	}

	if c.StepInterval != nil && *c.StepInterval != "" {
		d, err := time.ParseDuration(*c.StepInterval)
		if err != nil {
			return fmt.Errorf("invalid step_interval '%s': %w", *c.StepInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("step_interval must be non-negative, got %s", d)
		}
	}

	if c.LogFormat != nil {
		switch strings.ToLower(*c.LogFormat) {
		case "", "text", "json":
		default:
			return fmt.Errorf("log_format must be text or json, got %q", *c.LogFormat)
		}
	}
	return nil
}

// GetIndexSuffix returns the index_suffix value or the default.
func (c *PlaybackConfig) GetIndexSuffix() string {
	if c.IndexSuffix == nil || *c.IndexSuffix == "" {
		return "_index"
	}
	return *c.IndexSuffix
}

// GetMaxIndexBytes returns the max_index_bytes value or the default.
func (c *PlaybackConfig) GetMaxIndexBytes() int64 {
	if c.MaxIndexBytes == nil || *c.MaxIndexBytes <= 0 {
		return 64 << 20
	}
	return *c.MaxIndexBytes
}

// GetStepInterval parses and returns StepInterval. Zero means play as fast
// as blocks load.
func (c *PlaybackConfig) GetStepInterval() time.Duration {
	if c.StepInterval == nil || *c.StepInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.StepInterval)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// GetStrictRecords returns the strict_records value or the default.
func (c *PlaybackConfig) GetStrictRecords() bool {
	if c.StrictRecords == nil {
		return true
	}
	return *c.StrictRecords
}

// GetLogLevel returns the log_level value or the default.
func (c *PlaybackConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// GetLogFormat returns the log_format value or the default.
func (c *PlaybackConfig) GetLogFormat() string {
	if c.LogFormat == nil || *c.LogFormat == "" {
		return "text"
	}
	return strings.ToLower(*c.LogFormat)
}

// GetHistoryDB returns the history_db path. Empty disables history.
func (c *PlaybackConfig) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}
