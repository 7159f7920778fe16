// Package config loads docdash settings from the environment.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	// API
	APIURL        string
	APIToken      string
	ClientTimeout time.Duration
	APIRate       float64

	// Uploads
	MaxUploadBytes       int64
	MaxConcurrentUploads int
	RetryMax             int
	RetryDelay           time.Duration
	RemoveDelay          time.Duration

	// Polling
	DocPollInterval   time.Duration
	CrawlPollInterval time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Client-side persistence
	PrefsFile     string
	EncryptionKey string
	Env           string

	// Observability
	MetricsAddr     string
	OTLPEndpoint    string
	TraceSampleRate float64
}

// Production reports whether stored secrets must be encrypted for real.
func (c Config) Production() bool {
	return c.Env != "development"
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIURL:        getEnv("DOCDASH_API_URL", "http://localhost:8000/api/v1"),
		APIToken:      getEnv("DOCDASH_API_TOKEN", ""),
		ClientTimeout: getDuration("DOCDASH_CLIENT_TIMEOUT", 30*time.Second),
		APIRate:       getFloat("DOCDASH_API_RATE", 10),

		MaxUploadBytes:       int64(getInt("DOCDASH_MAX_UPLOAD_MB", 100)) << 20,
		MaxConcurrentUploads: getInt("DOCDASH_MAX_CONCURRENT_UPLOADS", 0),
		RetryMax:             getInt("DOCDASH_RETRY_MAX", 3),
		RetryDelay:           getDuration("DOCDASH_RETRY_DELAY", time.Second),
		RemoveDelay:          getDuration("DOCDASH_REMOVE_DELAY", 3*time.Second),

		DocPollInterval:   getDuration("DOCDASH_DOC_POLL_INTERVAL", 2*time.Second),
		CrawlPollInterval: getDuration("DOCDASH_CRAWL_POLL_INTERVAL", 3*time.Second),

		LogFile:  getEnv("DOCDASH_LOG_FILE", filepath.Join(os.TempDir(), "docdash.log")),
		LogLevel: parseLogLevel(getEnv("DOCDASH_LOG_LEVEL", "INFO")),

		PrefsFile:     getEnv("DOCDASH_PREFS_FILE", defaultPrefsFile()),
		EncryptionKey: getEnv("DOCDASH_ENCRYPTION_KEY", ""),
		Env:           getEnv("DOCDASH_ENV", "production"),

		MetricsAddr:     getEnv("DOCDASH_METRICS_ADDR", ""),
		OTLPEndpoint:    strings.TrimSpace(getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		TraceSampleRate: sampleRate(getFloat("OTEL_TRACE_SAMPLE_RATE", 0.1)),
	}
}

func defaultPrefsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "docdash", "prefs.yaml")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

// sampleRate clamps invalid ratios back to the 10% default.
func sampleRate(r float64) float64 {
	if r < 0 || r > 1 {
		return 0.1
	}
	return r
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
