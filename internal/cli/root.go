// Package cli provides the command-line interface for docdash.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/config"
	"github.com/raphaelgruber/docdash/internal/metrics"
	"github.com/raphaelgruber/docdash/internal/prefs"
	"github.com/raphaelgruber/docdash/internal/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	plain   bool

	cfg       config.Config
	logger    *slog.Logger
	apiClient *client.Client
	collector *metrics.Collector
	registry  *prometheus.Registry
	store     *prefs.Store

	closeLog      func() error
	shutdownTrace telemetry.Shutdown
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docdash",
	Short: "Upload documents and crawl websites into your chatbot's knowledge base",
	Long: `docdash is the command-line client for the chatbot platform's document
pipeline. It uploads documents with live progress, follows them through
backend processing, and submits web crawl jobs.

Configuration comes from DOCDASH_* environment variables or a .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// The interactive view owns the terminal; logs go to the file only.
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, interactive())
		slog.SetDefault(logger)

		var err error
		shutdownTrace, err = telemetry.Init(cmd.Context(), "docdash", cfg.OTLPEndpoint, cfg.TraceSampleRate, logger)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}

		codec, err := prefs.SelectCodec(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("init prefs: %w", err)
		}
		if cfg.EncryptionKey == "" && cfg.Production() {
			logger.Warn("DOCDASH_ENCRYPTION_KEY not set, stored token is only base64 encoded")
		}
		store = prefs.OpenOrMemory(cfg.PrefsFile, codec, logger)

		collector = metrics.NewCollector()
		registry = prometheus.NewRegistry()
		metrics.Register(registry)

		apiClient = newClient(cfg.ClientTimeout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTrace != nil {
			if err := shutdownTrace(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to flush traces: %v\n", err)
			}
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newClient builds an API client. A zero timeout is used for uploads, which
// are bounded by the retry policy instead.
func newClient(timeout time.Duration) *client.Client {
	return client.New(cfg.APIURL,
		client.WithToken(apiToken()),
		client.WithTimeout(timeout),
		client.WithRateLimit(cfg.APIRate, int(max(cfg.APIRate, 1))),
		client.WithLogger(logger),
	)
}

// apiToken prefers the environment over the remembered profile.
func apiToken() string {
	if cfg.APIToken != "" {
		return cfg.APIToken
	}
	p, err := prefs.LoadProfile(store)
	if err != nil {
		logger.Warn("could not read remembered token", "error", err)
		return ""
	}
	return p.APIToken
}

// interactive reports whether the full-screen view can be used.
func interactive() bool {
	return !plain && term.IsTerminal(int(os.Stdout.Fd()))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "plain line output instead of the interactive view")
}

// out is where command results are printed.
var out io.Writer = os.Stdout
