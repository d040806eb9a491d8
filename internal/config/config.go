// Package config loads driftwatch configuration from YAML (JSON parses
// too, YAML being a superset), applies DRIFTWATCH_* environment
// overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all driftwatch configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Storage     StorageConfig     `yaml:"storage"`
	Detector    DetectorConfig    `yaml:"detector"`
	Compression CompressionConfig `yaml:"compression"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig configures the SQLite session store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	BusyTimeout  string `yaml:"busy_timeout"`
	// Transient write failures are retried this many times before the
	// StorageError surfaces.
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBackoff  string `yaml:"retry_backoff"` // base delay, doubled per attempt
}

// DetectorConfig configures drift detection defaults. Per-session
// schedules override Interval and Tolerance.
type DetectorConfig struct {
	DefaultInterval  string `yaml:"default_interval"`
	DefaultTolerance string `yaml:"default_tolerance"`
	// Content similarity below this (0,1] emits a content drift event.
	ContentThreshold float64 `yaml:"content_threshold"`
	// Missing this many whole intervals upgrades timing drift to omission.
	OmissionIntervals int `yaml:"omission_intervals"`
}

// CompressionConfig configures the tiered context compressor.
type CompressionConfig struct {
	// Total token budget for the compressed representation.
	TokenBudget int `yaml:"token_budget"`
	// Budget allocation percentages per tier.
	ImmediatePercent  int `yaml:"immediate_percent"`
	RecentPercent     int `yaml:"recent_percent"`
	HistoricalPercent int `yaml:"historical_percent"`
	// How many of the newest actions stay verbatim.
	RecentWindow int `yaml:"recent_window"`
	// Compression triggers when estimated raw tokens exceed this fraction
	// of the budget.
	TriggerThreshold float64 `yaml:"trigger_threshold"`
}

// RecoveryConfig configures the recovery controller.
type RecoveryConfig struct {
	// RetryBudget: recovery attempts allowed before escalation.
	RetryBudget int `yaml:"retry_budget"`
	// AlertPath: JSON-lines file the operator tails for escalations.
	AlertPath    string `yaml:"alert_path"`
	AlertTimeout string `yaml:"alert_timeout"`
}

// MonitorConfig configures the periodic sweep loop.
type MonitorConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
	SweepTimeout  string `yaml:"sweep_timeout"`
	// MaxParallel bounds per-session work fanned out within one sweep.
	MaxParallel int `yaml:"max_parallel"`
	// WatchConfig enables hot reload of this file while the monitor runs.
	WatchConfig bool `yaml:"watch_config"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "driftwatch",
		Version: "0.3.0",

		Storage: StorageConfig{
			DatabasePath:  "data/driftwatch.db",
			BusyTimeout:   "5s",
			RetryAttempts: 3,
			RetryBackoff:  "100ms",
		},

		Detector: DetectorConfig{
			DefaultInterval:   "5m",
			DefaultTolerance:  "1m",
			ContentThreshold:  0.35,
			OmissionIntervals: 3,
		},

		Compression: CompressionConfig{
			TokenBudget:       8000,
			ImmediatePercent:  50,
			RecentPercent:     30,
			HistoricalPercent: 20,
			RecentWindow:      10,
			TriggerThreshold:  0.80,
		},

		Recovery: RecoveryConfig{
			RetryBudget:  3,
			AlertPath:    "data/alerts.jsonl",
			AlertTimeout: "5s",
		},

		Monitor: MonitorConfig{
			SweepInterval: "30s",
			SweepTimeout:  "20s",
			MaxParallel:   8,
			WatchConfig:   true,
		},

		Logging: LoggingConfig{
			Dir:       "data/logs",
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env; still validated below, since env overrides
		// can carry bad values.
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file, creating the directory
// if needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRIFTWATCH_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("DRIFTWATCH_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("DRIFTWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIFTWATCH_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
	if v := os.Getenv("DRIFTWATCH_ALERT_PATH"); v != "" {
		c.Recovery.AlertPath = v
	}
	if v := os.Getenv("DRIFTWATCH_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Recovery.RetryBudget = n
		}
	}
	if v := os.Getenv("DRIFTWATCH_SWEEP_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Monitor.SweepInterval = v
		}
	}
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("config: storage.database_path is required")
	}
	if c.Storage.RetryAttempts < 0 {
		return fmt.Errorf("config: storage.retry_attempts must be >= 0")
	}
	if _, err := parseDuration(c.Detector.DefaultInterval, 0); err != nil {
		return fmt.Errorf("config: detector.default_interval: %w", err)
	}
	if d, _ := parseDuration(c.Detector.DefaultInterval, 0); d <= 0 {
		return fmt.Errorf("config: detector.default_interval must be positive")
	}
	if c.Detector.ContentThreshold <= 0 || c.Detector.ContentThreshold > 1 {
		return fmt.Errorf("config: detector.content_threshold must be in (0,1]")
	}
	if c.Detector.OmissionIntervals < 2 {
		return fmt.Errorf("config: detector.omission_intervals must be >= 2")
	}
	if c.Compression.TokenBudget <= 0 {
		return fmt.Errorf("config: compression.token_budget must be positive")
	}
	if p := c.Compression.ImmediatePercent + c.Compression.RecentPercent + c.Compression.HistoricalPercent; p > 100 {
		return fmt.Errorf("config: compression tier percentages sum to %d, exceeding 100", p)
	}
	if c.Compression.RecentWindow <= 0 {
		return fmt.Errorf("config: compression.recent_window must be positive")
	}
	if c.Compression.TriggerThreshold <= 0 || c.Compression.TriggerThreshold > 1 {
		return fmt.Errorf("config: compression.trigger_threshold must be in (0,1]")
	}
	if c.Recovery.RetryBudget < 0 {
		return fmt.Errorf("config: recovery.retry_budget must be >= 0")
	}
	if c.Monitor.MaxParallel <= 0 {
		return fmt.Errorf("config: monitor.max_parallel must be positive")
	}
	return nil
}

// Duration accessors. Config files carry durations as strings ("30s");
// these parse with a fallback so a missing field never zeroes a timeout.

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := parseDuration(s, fallback)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// BusyTimeoutDuration returns the SQLite busy timeout.
func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(c.BusyTimeout, 5*time.Second)
}

// RetryBackoffDuration returns the base backoff between retries.
func (c StorageConfig) RetryBackoffDuration() time.Duration {
	return durationOr(c.RetryBackoff, 100*time.Millisecond)
}

// DefaultIntervalDuration returns the fallback expected-action interval.
func (c DetectorConfig) DefaultIntervalDuration() time.Duration {
	return durationOr(c.DefaultInterval, 5*time.Minute)
}

// DefaultToleranceDuration returns the fallback grace window.
func (c DetectorConfig) DefaultToleranceDuration() time.Duration {
	return durationOr(c.DefaultTolerance, time.Minute)
}

// AlertTimeoutDuration returns the bound on one alert write.
func (c RecoveryConfig) AlertTimeoutDuration() time.Duration {
	return durationOr(c.AlertTimeout, 5*time.Second)
}

// SweepIntervalDuration returns the monitor sweep cadence.
func (c MonitorConfig) SweepIntervalDuration() time.Duration {
	return durationOr(c.SweepInterval, 30*time.Second)
}

// SweepTimeoutDuration returns the per-sweep context timeout.
func (c MonitorConfig) SweepTimeoutDuration() time.Duration {
	return durationOr(c.SweepTimeout, 20*time.Second)
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false when debug_mode is off (production mode).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
