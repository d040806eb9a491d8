package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "driftwatch", cfg.Name)
	assert.Equal(t, 3, cfg.Recovery.RetryBudget)
	// The missing-file path validates just like the file-present path.
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
detector:
  default_interval: 2m
  default_tolerance: 30s
  content_threshold: 0.5
  omission_intervals: 4
recovery:
  retry_budget: 5
  alert_path: alerts.jsonl
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Detector.DefaultIntervalDuration())
	assert.Equal(t, 30*time.Second, cfg.Detector.DefaultToleranceDuration())
	assert.Equal(t, 5, cfg.Recovery.RetryBudget)
	// Untouched sections keep defaults.
	assert.Equal(t, 8000, cfg.Compression.TokenBudget)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
detector:
  content_threshold: 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_threshold")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIFTWATCH_DB", "/tmp/override.db")
	t.Setenv("DRIFTWATCH_RETRY_BUDGET", "7")
	t.Setenv("DRIFTWATCH_SWEEP_INTERVAL", "10s")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 7, cfg.Recovery.RetryBudget)
	assert.Equal(t, 10*time.Second, cfg.Monitor.SweepIntervalDuration())
}

func TestEnvOverrideIgnoresBadValues(t *testing.T) {
	t.Setenv("DRIFTWATCH_RETRY_BUDGET", "not-a-number")
	t.Setenv("DRIFTWATCH_SWEEP_INTERVAL", "whenever")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recovery.RetryBudget)
	assert.Equal(t, 30*time.Second, cfg.Monitor.SweepIntervalDuration())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Recovery.RetryBudget = 9
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Recovery.RetryBudget)
}

func TestTierPercentagesMustFit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compression.ImmediatePercent = 60
	cfg.Compression.RecentPercent = 30
	cfg.Compression.HistoricalPercent = 30
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeding 100")
}

func TestIsCategoryEnabled(t *testing.T) {
	c := LoggingConfig{DebugMode: false}
	assert.False(t, c.IsCategoryEnabled("store"))

	c.DebugMode = true
	assert.True(t, c.IsCategoryEnabled("store"))

	c.Categories = map[string]bool{"store": false}
	assert.False(t, c.IsCategoryEnabled("store"))
	assert.True(t, c.IsCategoryEnabled("detector"))
}
