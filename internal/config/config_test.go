package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/docdash/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOCDASH_API_URL", "")
	t.Setenv("DOCDASH_MAX_UPLOAD_MB", "")
	t.Setenv("DOCDASH_RETRY_MAX", "")
	t.Setenv("DOCDASH_MAX_CONCURRENT_UPLOADS", "")
	t.Setenv("DOCDASH_ENV", "")

	cfg := config.Load()
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.APIURL)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Zero(t, cfg.MaxConcurrentUploads, "uploads are unbounded unless capped")
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.DocPollInterval)
	assert.Equal(t, 3*time.Second, cfg.CrawlPollInterval)
	assert.Equal(t, 3*time.Second, cfg.RemoveDelay)
	assert.True(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DOCDASH_API_URL", "https://api.example.com/v2")
	t.Setenv("DOCDASH_MAX_UPLOAD_MB", "5")
	t.Setenv("DOCDASH_CRAWL_POLL_INTERVAL", "500ms")
	t.Setenv("DOCDASH_LOG_LEVEL", "debug")
	t.Setenv("DOCDASH_ENV", "development")
	t.Setenv("DOCDASH_RETRY_MAX", "not-a-number")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " http://collector:4318 ")
	t.Setenv("OTEL_TRACE_SAMPLE_RATE", "7")

	cfg := config.Load()
	assert.Equal(t, "https://api.example.com/v2", cfg.APIURL)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.CrawlPollInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 3, cfg.RetryMax, "invalid values fall back to the default")
	assert.False(t, cfg.Production())
	assert.Equal(t, "http://collector:4318", cfg.OTLPEndpoint)
	assert.InDelta(t, 0.1, cfg.TraceSampleRate, 1e-9, "out-of-range rates fall back to the default")
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := config.SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("upload accepted", "record_id", "abc")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "upload accepted")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "abc", entry["record_id"])
}

func TestSetupLoggerQuietWritesFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "docdash.log")
	logger, closeLog := config.SetupLogger(path, slog.LevelDebug, true)
	logger.Debug("poll scheduled", "job_id", "42")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"job_id":"42"`)
}
