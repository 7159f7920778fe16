// Package crawl submits single and bulk web crawl jobs and follows each job
// with a status poller until the backend reports a terminal state.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/metrics"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/poller"
	"github.com/samber/lo"
)

const (
	// MaxBulkURLs caps the number of valid URLs in one bulk submission.
	MaxBulkURLs = 100
	// SinglePageCap is the page limit sent with a single-URL crawl.
	SinglePageCap = 1
	// BulkPageCap is the page limit sent with a bulk crawl.
	BulkPageCap = 50
	// DefaultPollInterval is the crawl status cadence.
	DefaultPollInterval = 3 * time.Second
)

var (
	ErrInvalidURL  = errors.New("invalid URL")
	ErrNoValidURLs = errors.New("no valid URLs to crawl")
	ErrTooManyURLs = fmt.Errorf("too many URLs (maximum %d)", MaxBulkURLs)
)

// API is the subset of the platform client the orchestrator needs.
type API interface {
	StartCrawl(ctx context.Context, req client.CrawlRequest) (string, error)
	StartBulkCrawl(ctx context.Context, req client.BulkCrawlRequest) (client.BulkCrawlResult, error)
	GetCrawlStatus(ctx context.Context, id string) (client.CrawlStatus, error)
	DeleteCrawl(ctx context.Context, id string) error
}

// RenderOptions control JavaScript rendering for a single-URL crawl.
type RenderOptions struct {
	RenderJS      bool
	RenderTimeout time.Duration
	WaitSelector  string
}

// Options configures an Orchestrator. Zero values get defaults.
type Options struct {
	PollInterval time.Duration

	Clock     clockwork.Clock
	Logger    *slog.Logger
	Notifier  notify.Notifier
	Collector *metrics.Collector
	Poller    *poller.Supervisor

	// Refresh reloads the crawl history after a job finishes.
	Refresh func(ctx context.Context)
}

// BulkResult reports what a bulk submission created and which input tokens
// were skipped as invalid.
type BulkResult struct {
	Jobs    []models.CrawlJobRecord
	Skipped []string
}

// Orchestrator tracks submitted crawl jobs.
type Orchestrator struct {
	api      API
	opts     Options
	clock    clockwork.Clock
	logger   *slog.Logger
	poller   *poller.Supervisor
	validate *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	jobs  map[string]models.CrawlJobRecord
	order []string
}

// NewOrchestrator creates an orchestrator backed by api.
func NewOrchestrator(api API, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Poller == nil {
		opts.Poller = poller.New("crawl",
			poller.WithClock(opts.Clock),
			poller.WithLogger(opts.Logger),
			poller.WithCollector(opts.Collector))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		api:      api,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		poller:   opts.Poller,
		validate: validator.New(),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]models.CrawlJobRecord),
	}
}

// SubmitSingle crawls exactly one page at rawURL.
func (o *Orchestrator) SubmitSingle(ctx context.Context, rawURL string, render RenderOptions) (models.CrawlJobRecord, error) {
	u := strings.TrimSpace(rawURL)
	if !o.validURL(u) {
		return models.CrawlJobRecord{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req := client.CrawlRequest{
		URL:             u,
		MaxPages:        SinglePageCap,
		FollowLinks:     false,
		RenderJS:        render.RenderJS,
		RenderTimeoutMs: int(render.RenderTimeout / time.Millisecond),
		WaitSelector:    render.WaitSelector,
	}

	start := o.clock.Now()
	id, err := o.api.StartCrawl(ctx, req)
	o.opts.Collector.Record(metrics.OpCrawlSubmit, o.clock.Since(start), 0, err)
	if err != nil {
		o.logger.Error("crawl submission failed", "url", u, "error", err)
		o.notify(notify.LevelError, "", "", fmt.Sprintf("Could not start crawl for %s", u))
		return models.CrawlJobRecord{}, err
	}
	metrics.CrawlJobsSubmitted.WithLabelValues("single").Inc()

	rec := o.track(id, u)
	o.logger.Info("crawl started", "job_id", id, "url", u, "render_js", render.RenderJS)
	return rec, nil
}

// SubmitBulk parses raw into URLs and starts one multi-page crawl per valid
// URL. Invalid tokens are skipped with a warning; the submission is rejected
// when nothing valid remains or when there are more than MaxBulkURLs.
func (o *Orchestrator) SubmitBulk(ctx context.Context, raw string) (BulkResult, error) {
	valid, invalid := o.partition(SplitURLs(raw))

	if len(valid) == 0 {
		return BulkResult{Skipped: invalid}, ErrNoValidURLs
	}
	if len(invalid) > 0 {
		o.logger.Warn("skipping invalid URLs", "count", len(invalid), "urls", invalid)
		o.notify(notify.LevelWarning, "", "",
			fmt.Sprintf("Skipped %d invalid URL(s): %s", len(invalid), truncateList(invalid, 3)))
	}
	if len(valid) > MaxBulkURLs {
		return BulkResult{Skipped: invalid}, fmt.Errorf("%w: got %d", ErrTooManyURLs, len(valid))
	}

	req := client.BulkCrawlRequest{URLs: valid, MaxPages: BulkPageCap, FollowLinks: true}

	start := o.clock.Now()
	res, err := o.api.StartBulkCrawl(ctx, req)
	o.opts.Collector.Record(metrics.OpCrawlSubmit, o.clock.Since(start), 0, err)
	if err != nil {
		o.logger.Error("bulk crawl submission failed", "urls", len(valid), "error", err)
		o.notify(notify.LevelError, "", "", fmt.Sprintf("Could not start crawl for %d URL(s)", len(valid)))
		return BulkResult{Skipped: invalid}, err
	}
	metrics.CrawlJobsSubmitted.WithLabelValues("bulk").Add(float64(len(res.Jobs)))

	out := BulkResult{Skipped: invalid}
	for i, job := range res.Jobs {
		if job.ID == "" {
			continue
		}
		u := job.URL
		if u == "" && i < len(valid) {
			u = valid[i]
		}
		out.Jobs = append(out.Jobs, o.track(job.ID, u))
	}
	o.logger.Info("bulk crawl started", "requested", len(valid), "created", len(out.Jobs))
	return out, nil
}

// Jobs returns the tracked crawl jobs in submission order.
func (o *Orchestrator) Jobs() []models.CrawlJobRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.CrawlJobRecord, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.jobs[id])
	}
	return out
}

// Get returns one tracked job.
func (o *Orchestrator) Get(id string) (models.CrawlJobRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.jobs[id]
	return rec, ok
}

// Delete removes the job on the server and stops tracking it. Its poller
// notices on the next tick and exits.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.api.DeleteCrawl(ctx, id); err != nil {
		return err
	}
	o.forget(id)
	return nil
}

// Wait blocks until every crawl poller has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	return o.poller.Wait(ctx)
}

// Close stops all pollers; responses that arrive later are ignored.
func (o *Orchestrator) Close() {
	o.cancel()
	o.poller.StopAll()
}

// validURL accepts well-formed absolute URLs.
func (o *Orchestrator) validURL(raw string) bool {
	return o.validate.Var(raw, "required,url") == nil
}

func (o *Orchestrator) partition(tokens []string) (valid, invalid []string) {
	return lo.FilterReject(tokens, func(t string, _ int) bool { return o.validURL(t) })
}

func (o *Orchestrator) track(id, u string) models.CrawlJobRecord {
	rec := models.CrawlJobRecord{
		ID:        id,
		URL:       u,
		Status:    models.CrawlPending,
		CreatedAt: o.clock.Now(),
	}

	o.mu.Lock()
	if _, exists := o.jobs[id]; !exists {
		o.order = append(o.order, id)
	}
	o.jobs[id] = rec
	o.mu.Unlock()

	if o.poller.Active(id) {
		return rec
	}
	marked := o.poller.Dedup().Mark(id, string(models.CrawlPending))
	if !o.follow(id, u) {
		if marked && !o.poller.Active(id) {
			o.poller.Dedup().Clear(id)
		}
		if o.ctx.Err() == nil && !o.poller.Active(id) {
			o.logger.Warn("crawl not tracked", "job_id", id, "url", u)
		}
		return rec
	}
	if marked {
		o.notify(notify.LevelInfo, id, string(models.CrawlPending), fmt.Sprintf("Crawl started for %s", u))
	}
	return rec
}

func (o *Orchestrator) follow(id, u string) bool {
	return o.poller.Start(id, poller.Job{
		Interval: o.opts.PollInterval,
		Fetch: func(ctx context.Context) (poller.Observation, error) {
			st, err := o.api.GetCrawlStatus(ctx, id)
			if err != nil {
				return poller.Observation{}, err
			}
			s := models.ParseCrawlStatus(st.Status)
			return poller.Observation{Status: string(s), Progress: st.PagesCrawled, Terminal: s.Terminal(), Detail: st.Error}, nil
		},
		Exists: func() bool {
			_, ok := o.Get(id)
			return ok && o.ctx.Err() == nil
		},
		OnObserve: func(obs poller.Observation) {
			o.update(id, func(r *models.CrawlJobRecord) {
				r.Status = models.CrawlStatus(obs.Status)
				if obs.Progress > r.PagesCrawled {
					r.PagesCrawled = obs.Progress
				}
				switch r.Status {
				case models.CrawlCompleted:
					now := o.clock.Now()
					r.CompletedAt = &now
				case models.CrawlFailed:
					r.Error = obs.Detail
					if r.Error == "" {
						r.Error = "Crawl failed"
					}
				}
			})
		},
		OnTransition: func(obs poller.Observation, _ bool) {
			level, msg := transitionMessage(u, models.CrawlStatus(obs.Status), obs.Progress, obs.Detail)
			o.notify(level, id, obs.Status, msg)
		},
		OnTerminal: func(obs poller.Observation) {
			if models.CrawlStatus(obs.Status) == models.CrawlCompleted && o.opts.Refresh != nil {
				o.opts.Refresh(o.ctx)
			}
		},
	})
}

func (o *Orchestrator) update(id string, fn func(*models.CrawlJobRecord)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx.Err() != nil {
		return
	}
	rec, ok := o.jobs[id]
	if !ok {
		return
	}
	fn(&rec)
	o.jobs[id] = rec
}

func (o *Orchestrator) forget(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.jobs[id]; !ok {
		return false
	}
	delete(o.jobs, id)
	o.order = slices.DeleteFunc(o.order, func(x string) bool { return x == id })
	return true
}

func (o *Orchestrator) notify(level notify.Level, jobID, status, msg string) {
	metrics.NotificationsTotal.WithLabelValues(string(level)).Inc()
	o.opts.Notifier.Notify(notify.Notification{
		Level:   level,
		JobID:   jobID,
		Status:  status,
		Message: msg,
		At:      o.clock.Now(),
	})
}

func transitionMessage(u string, status models.CrawlStatus, pages int, detail string) (notify.Level, string) {
	switch status {
	case models.CrawlPending:
		return notify.LevelInfo, fmt.Sprintf("Crawl queued for %s", u)
	case models.CrawlCrawling:
		return notify.LevelInfo, fmt.Sprintf("Crawling %s", u)
	case models.CrawlCompleted:
		return notify.LevelSuccess, fmt.Sprintf("Crawl of %s finished (%d pages)", u, pages)
	case models.CrawlFailed:
		if detail != "" {
			return notify.LevelError, fmt.Sprintf("Crawl of %s failed: %s", u, detail)
		}
		return notify.LevelError, fmt.Sprintf("Crawl of %s failed", u)
	default:
		return notify.LevelInfo, fmt.Sprintf("Crawl of %s is %s", u, status)
	}
}
