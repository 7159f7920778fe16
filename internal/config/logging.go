package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger returns a logger writing text to the console and JSON lines to
// logFile, plus a func that closes the file. With quiet set the console side
// is dropped so a full-screen view keeps the terminal to itself.
func SetupLogger(logFile string, level slog.Level, quiet bool) (*slog.Logger, func() error) {
	var console io.Writer = os.Stderr
	if quiet {
		console = io.Discard
	}

	if dir := filepath.Dir(logFile); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		logger.Warn("log file unavailable, logging to stderr", "file", logFile, "error", err)
		return logger, func() error { return nil }
	}

	return SetupLoggerWithWriters(console, file, level), file.Close
}

// SetupLoggerWithWriters fans records out to a text handler on console and a
// JSON handler on file.
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(console, opts),
		slog.NewJSONHandler(file, opts),
	))
}
