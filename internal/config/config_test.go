package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "https://kokkai.ndl.go.jp/api", cfg.NDL.BaseURL)
	assert.Equal(t, 2.0, cfg.NDL.RequestsPerSecond)
	assert.Equal(t, 30, cfg.NDL.PageSize)
	assert.Equal(t, 60, cfg.NDL.TimeoutSecs)
	assert.Equal(t, "http://localhost:8178", cfg.Whisper.BaseURL)
	assert.Equal(t, 600, cfg.Whisper.TimeoutSecs)
	assert.Equal(t, -1.0, cfg.Whisper.MinAvgLogProb)
	assert.Equal(t, 0.8, cfg.Detector.SimilarityThreshold)
	assert.Equal(t, 0.8, cfg.Detector.BaseConfidence)
	assert.Equal(t, 1000, cfg.Recorder.BatchSize)
	assert.Equal(t, 24, cfg.Recorder.IncrementalHours)
	assert.Equal(t, "2025-06-21", cfg.Routing.NDLCutoff)
	assert.Equal(t, 217, cfg.Routing.CutoffSession)
	assert.Equal(t, model.FreqHourly, cfg.Schedule.Frequency)
	assert.Equal(t, model.ModeIncremental, cfg.Schedule.Mode)
	assert.True(t, cfg.Schedule.RetryOnFailure)
	assert.Equal(t, 3, cfg.Schedule.MaxConsecutiveFailures)
	assert.Equal(t, 90, cfg.Schedule.CleanupRetentionDays)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
store:
  driver: sqlite
  database_url: diet.db
schedule:
  frequency: daily
  max_retries: 5
routing:
  cutoff_session: 218
`), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "diet.db", cfg.Store.DatabaseURL)
	assert.Equal(t, model.FreqDaily, cfg.Schedule.Frequency)
	assert.Equal(t, 5, cfg.Schedule.MaxRetries)
	assert.Equal(t, 218, cfg.Routing.CutoffSession)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Recorder.BatchSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DIET_STORE_DRIVER", "sqlite")
	t.Setenv("DIET_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-06-21")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseDate("June 21, 2025")
	assert.Error(t, err)
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	assert.Error(t, err)
}

func TestInitLoggerConsoleFormat(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
