package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/poller"
	"github.com/raphaelgruber/docdash/internal/retry"
	"github.com/raphaelgruber/docdash/internal/upload"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents and follow their processing",
	Long: `Upload one or more documents (PDF, DOCX, DOC, TXT; up to 100 MiB each).

Each file is validated locally, streamed to the server with live progress,
retried automatically on network or server errors, and then followed until
the backend has finished processing it.

Examples:
  docdash upload handbook.pdf
  docdash upload --plain docs/*.docx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

// uploadBackend sends uploads without a request timeout and everything else
// through the regular client.
type uploadBackend struct {
	uploads *client.Client
	status  *client.Client
}

func (b uploadBackend) UploadDocument(ctx context.Context, filename string, r io.Reader) (client.UploadResult, error) {
	return b.uploads.UploadDocument(ctx, filename, r)
}

func (b uploadBackend) GetDocumentStatus(ctx context.Context, id string) (client.JobStatus, error) {
	return b.status.GetDocumentStatus(ctx, id)
}

// newUploadManager wires a queue to the configured API. Notifications go to
// the log and to feed.
func newUploadManager(feed *notify.Feed) *upload.Manager {
	backend := uploadBackend{uploads: newClient(0), status: apiClient}
	return upload.NewManager(backend, upload.Options{
		MaxBytes:     cfg.MaxUploadBytes,
		Concurrency:  cfg.MaxConcurrentUploads,
		Retry:        retry.Policy{MaxRetries: cfg.RetryMax, Delay: cfg.RetryDelay},
		PollInterval: cfg.DocPollInterval,
		RemoveDelay:  cfg.RemoveDelay,
		Logger:       logger,
		Notifier:     notify.Multi{notify.Logger{Log: logger}, feed},
		Collector:    collector,
		Poller: poller.New("document",
			poller.WithLogger(logger),
			poller.WithCollector(collector)),
		Refresh: refreshDocuments,
	})
}

// refreshDocuments reloads the first page of the document history.
func refreshDocuments(ctx context.Context) {
	page, err := apiClient.ListDocuments(ctx, 1, 20)
	if err != nil {
		logger.Warn("document list refresh failed", "error", err)
		return
	}
	logger.Debug("document list refreshed", "total", page.Total)
}

func runUpload(cmd *cobra.Command, args []string) error {
	var sources []upload.Source
	for _, path := range args {
		src, err := upload.FileSource(path)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	feed := notify.NewFeed()
	m := newUploadManager(feed)
	defer m.Close()

	if interactive() {
		for _, src := range sources {
			m.Enqueue(src)
		}
		quit, err := runQueueView(m, feed, false)
		if err != nil {
			return err
		}
		if quit {
			fmt.Fprintln(out, "Upload cancelled.")
		}
	} else {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		notes, unsubscribe := feed.Subscribe(64)
		go printNotes(notes)
		for _, src := range sources {
			m.Enqueue(src)
		}
		err := m.Wait(ctx)
		unsubscribe()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	records := m.Records()
	fmt.Fprintln(out)
	writeRecords(out, records)
	writeStats(out, collector.Snapshot())

	failed := lo.CountBy(records, func(r models.TransferRecord) bool { return r.Status == models.TransferFailed })
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(records))
	}
	return nil
}

// printNotes writes notifications as plain lines until the channel closes.
func printNotes(notes <-chan notify.Notification) {
	for n := range notes {
		fmt.Fprintf(out, "%s %-7s %s\n", n.At.Format("15:04:05"), n.Level, n.Message)
	}
}
