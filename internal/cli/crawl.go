package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/raphaelgruber/docdash/internal/crawl"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/poller"
	"github.com/spf13/cobra"
)

var (
	crawlRenderJS      bool
	crawlRenderTimeout time.Duration
	crawlWaitSelector  string
	crawlNoWait        bool
	crawlFile          string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a single web page into the knowledge base",
	Long: `Submit a single-page crawl job and follow it until it finishes.

Examples:
  docdash crawl https://docs.example.com/pricing
  docdash crawl https://app.example.com --render-js --wait-selector "#content"`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

var crawlBulkCmd = &cobra.Command{
	Use:   "bulk [url]...",
	Short: "Crawl many sites at once",
	Long: `Submit up to 100 URLs in one request. Each site is crawled up to 50 pages
deep, following links.

URLs may be given as arguments, in a text or CSV file (--file), or on stdin
("--file -"). Entries are separated by newlines, commas or semicolons; invalid
entries are skipped with a warning.

Examples:
  docdash crawl bulk https://a.example.com https://b.example.com
  docdash crawl bulk --file sites.csv`,
	RunE: runCrawlBulk,
}

func init() {
	crawlCmd.Flags().BoolVar(&crawlRenderJS, "render-js", false, "render JavaScript before extracting content")
	crawlCmd.Flags().DurationVar(&crawlRenderTimeout, "render-timeout", 0, "how long to wait for rendering (e.g. 10s)")
	crawlCmd.Flags().StringVar(&crawlWaitSelector, "wait-selector", "", "CSS selector to wait for when rendering")
	crawlCmd.PersistentFlags().BoolVar(&crawlNoWait, "no-wait", false, "return after submission instead of following the job")

	crawlBulkCmd.Flags().StringVarP(&crawlFile, "file", "f", "", "read URLs from a text/CSV file ('-' for stdin)")

	crawlCmd.AddCommand(crawlBulkCmd)
	rootCmd.AddCommand(crawlCmd)
}

func newOrchestrator(feed notify.Notifier) *crawl.Orchestrator {
	return crawl.NewOrchestrator(apiClient, crawl.Options{
		PollInterval: cfg.CrawlPollInterval,
		Logger:       logger,
		Notifier:     notify.Multi{notify.Logger{Log: logger}, feed},
		Collector:    collector,
		Poller: poller.New("crawl",
			poller.WithLogger(logger),
			poller.WithCollector(collector)),
		Refresh: func(ctx context.Context) {
			if _, err := apiClient.ListCrawls(ctx, 1, 20); err != nil {
				logger.Warn("crawl list refresh failed", "error", err)
			}
		},
	})
}

func runCrawl(cmd *cobra.Command, args []string) error {
	feed := notify.NewFeed()
	o := newOrchestrator(feed)
	defer o.Close()

	notes, unsubscribe := feed.Subscribe(64)
	defer unsubscribe()
	go printNotes(notes)

	_, err := o.SubmitSingle(cmd.Context(), args[0], crawl.RenderOptions{
		RenderJS:      crawlRenderJS,
		RenderTimeout: crawlRenderTimeout,
		WaitSelector:  crawlWaitSelector,
	})
	if err != nil {
		return err
	}
	return followCrawls(cmd.Context(), o)
}

func runCrawlBulk(cmd *cobra.Command, args []string) error {
	raw := strings.Join(args, "\n")
	if crawlFile != "" {
		text, err := readBulkFile(crawlFile)
		if err != nil {
			return err
		}
		raw = text + "\n" + raw
	}
	if strings.TrimSpace(raw) == "" {
		return errors.New("no URLs given; pass them as arguments or with --file")
	}

	feed := notify.NewFeed()
	o := newOrchestrator(feed)
	defer o.Close()

	notes, unsubscribe := feed.Subscribe(64)
	defer unsubscribe()
	go printNotes(notes)

	res, err := o.SubmitBulk(cmd.Context(), raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Started %d crawl job(s)", len(res.Jobs))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, ", skipped %d invalid entr(ies)", len(res.Skipped))
	}
	fmt.Fprintln(out)
	return followCrawls(cmd.Context(), o)
}

func readBulkFile(path string) (string, error) {
	if path == "-" {
		return crawl.ReadBulkInput(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return crawl.ReadBulkInput(f)
}

// followCrawls waits for every submitted job unless --no-wait is set, then
// prints their final state.
func followCrawls(ctx context.Context, o *crawl.Orchestrator) error {
	if !crawlNoWait {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := o.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	fmt.Fprintln(out)
	writeCrawls(out, o.Jobs())
	writeStats(out, collector.Snapshot())
	return nil
}
