package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docdash/internal/metrics"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/upload"
	"github.com/raphaelgruber/docdash/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchSettle      time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload every document dropped into a folder",
	Long: `Watch a directory and upload files placed in it once they stop changing.

Runs until interrupted. With --metrics-addr (or DOCDASH_METRICS_ADDR) the
upload and polling counters are served in Prometheus format on /metrics.

Examples:
  docdash watch ~/Dropbox/kb
  docdash watch ./inbox --metrics-addr :9091`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watch.DefaultSettle, "how long a file must stay unchanged before it is uploaded")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := watchMetricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		srv := startMetricsServer(addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	feed := notify.NewFeed()
	m := newUploadManager(feed)
	defer m.Close()

	w := watch.New(dir, func(path string) {
		src, err := upload.FileSource(path)
		if err != nil {
			logger.Warn("dropped file vanished before upload", "path", path, "error", err)
			return
		}
		m.Enqueue(src)
	}, watch.WithSettle(watchSettle), watch.WithLogger(logger))

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	if interactive() {
		if _, err := runQueueView(m, feed, true); err != nil {
			stop()
			<-errc
			return err
		}
		stop()
	} else {
		notes, unsubscribe := feed.Subscribe(64)
		defer unsubscribe()
		go printNotes(notes)
		fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", dir)
		<-ctx.Done()
	}

	if err := <-errc; err != nil {
		return err
	}
	writeRecords(out, m.Records())
	writeStats(out, collector.Snapshot())
	return nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
