package crawl_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/crawl"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 5 * time.Second

type fakeAPI struct {
	mu       sync.Mutex
	single   []client.CrawlRequest
	bulk     []client.BulkCrawlRequest
	deleted  []string
	statuses []client.CrawlStatus
	polls    map[string]int
}

func (f *fakeAPI) StartCrawl(_ context.Context, req client.CrawlRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single = append(f.single, req)
	return fmt.Sprintf("crawl-%d", len(f.single)), nil
}

func (f *fakeAPI) StartBulkCrawl(_ context.Context, req client.BulkCrawlRequest) (client.BulkCrawlResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, req)
	res := client.BulkCrawlResult{JobsCreated: len(req.URLs)}
	for i, u := range req.URLs {
		res.Jobs = append(res.Jobs, client.CrawlJobRef{ID: fmt.Sprintf("bulk-%d", i), URL: u})
	}
	return res, nil
}

func (f *fakeAPI) GetCrawlStatus(_ context.Context, id string) (client.CrawlStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polls == nil {
		f.polls = make(map[string]int)
	}
	i := min(f.polls[id], len(f.statuses)-1)
	f.polls[id]++
	return f.statuses[i], nil
}

func (f *fakeAPI) DeleteCrawl(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) requests() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.single), len(f.bulk)
}

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) byLevel(level notify.Level) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.got {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) statuses(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.got {
		if n.JobID == jobID {
			out = append(out, n.Status)
		}
	}
	return out
}

type harness struct {
	o       *crawl.Orchestrator
	api     *fakeAPI
	clock   *clockwork.FakeClock
	poller  *poller.Supervisor
	notes   *recorder
	mu      sync.Mutex
	refresh int
}

func newHarness(t *testing.T, statuses ...client.CrawlStatus) *harness {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []client.CrawlStatus{{Status: "crawling"}}
	}
	h := &harness{
		api:   &fakeAPI{statuses: statuses},
		clock: clockwork.NewFakeClock(),
		notes: &recorder{},
	}
	h.poller = poller.New("crawl", poller.WithClock(h.clock))
	h.o = crawl.NewOrchestrator(h.api, crawl.Options{
		Clock:    h.clock,
		Notifier: h.notes,
		Poller:   h.poller,
		Refresh: func(context.Context) {
			h.mu.Lock()
			h.refresh++
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.o.Close)
	return h
}

func TestSubmitBulkSkipsInvalidURLs(t *testing.T) {
	h := newHarness(t)

	res, err := h.o.SubmitBulk(context.Background(), "https://a.com, not-a-url, https://b.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"not-a-url"}, res.Skipped)
	require.Len(t, res.Jobs, 2)

	require.Len(t, h.api.bulk, 1)
	req := h.api.bulk[0]
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, req.URLs)
	assert.Equal(t, crawl.BulkPageCap, req.MaxPages)
	assert.True(t, req.FollowLinks)

	warnings := h.notes.byLevel(notify.LevelWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "not-a-url")

	assert.Equal(t, 2, h.poller.Len())
	assert.True(t, h.poller.Active("bulk-0"))
	assert.True(t, h.poller.Active("bulk-1"))
}

func TestSubmitBulkRejectsWithoutValidURLs(t *testing.T) {
	h := newHarness(t)

	res, err := h.o.SubmitBulk(context.Background(), "foo\nbar; ;,")
	require.ErrorIs(t, err, crawl.ErrNoValidURLs)
	assert.Equal(t, []string{"foo", "bar"}, res.Skipped)

	single, bulk := h.api.requests()
	assert.Zero(t, single+bulk)
}

func TestSubmitBulkRejectsTooManyURLs(t *testing.T) {
	h := newHarness(t)

	var urls []string
	for i := range crawl.MaxBulkURLs + 1 {
		urls = append(urls, fmt.Sprintf("https://example.com/%d", i))
	}
	_, err := h.o.SubmitBulk(context.Background(), strings.Join(urls, "\n"))
	require.ErrorIs(t, err, crawl.ErrTooManyURLs)

	_, bulk := h.api.requests()
	assert.Zero(t, bulk)
	assert.Zero(t, h.poller.Len())
}

func TestSubmitBulkAcceptsExactlyMax(t *testing.T) {
	h := newHarness(t)

	var urls []string
	for i := range crawl.MaxBulkURLs {
		urls = append(urls, fmt.Sprintf("https://example.com/%d", i))
	}
	res, err := h.o.SubmitBulk(context.Background(), strings.Join(urls, ";"))
	require.NoError(t, err)
	assert.Len(t, res.Jobs, crawl.MaxBulkURLs)
}

func TestSubmitSingle(t *testing.T) {
	h := newHarness(t)

	rec, err := h.o.SubmitSingle(context.Background(), " https://docs.example.com/start ", crawl.RenderOptions{
		RenderJS:      true,
		RenderTimeout: 5 * time.Second,
		WaitSelector:  "#main",
	})
	require.NoError(t, err)
	assert.Equal(t, "crawl-1", rec.ID)
	assert.Equal(t, models.CrawlPending, rec.Status)

	require.Len(t, h.api.single, 1)
	assert.Equal(t, client.CrawlRequest{
		URL:             "https://docs.example.com/start",
		MaxPages:        1,
		FollowLinks:     false,
		RenderJS:        true,
		RenderTimeoutMs: 5000,
		WaitSelector:    "#main",
	}, h.api.single[0])
	assert.True(t, h.poller.Active("crawl-1"))
}

func TestSubmitSingleRejectsInvalidURL(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{"", "not a url", "example.com/path"} {
		_, err := h.o.SubmitSingle(context.Background(), raw, crawl.RenderOptions{})
		assert.ErrorIs(t, err, crawl.ErrInvalidURL, raw)
	}
	single, _ := h.api.requests()
	assert.Zero(t, single)
}

func TestCrawlLifecycle(t *testing.T) {
	h := newHarness(t,
		client.CrawlStatus{Status: "pending"},
		client.CrawlStatus{Status: "crawling", PagesCrawled: 3},
		client.CrawlStatus{Status: "crawling", PagesCrawled: 7},
		client.CrawlStatus{Status: "completed", PagesCrawled: 12},
	)

	rec, err := h.o.SubmitSingle(context.Background(), "https://example.com", crawl.RenderOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if got, _ := h.o.Get(rec.ID); got.Status == models.CrawlCompleted {
			return true
		}
		h.clock.Advance(crawl.DefaultPollInterval)
		return false
	}, eventually, 5*time.Millisecond)

	got, ok := h.o.Get(rec.ID)
	require.True(t, ok, "completed crawls stay listed")
	assert.Equal(t, 12, got.PagesCrawled)
	require.NotNil(t, got.CompletedAt)

	assert.Equal(t, []string{"pending", "crawling", "completed"}, h.notes.statuses(rec.ID))
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.refresh == 1
	}, eventually, time.Millisecond)
	require.Eventually(t, func() bool { return h.poller.Len() == 0 }, eventually, time.Millisecond)
}

func TestCrawlFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, client.CrawlStatus{Status: "failed", Error: "robots.txt disallows crawling"})

	rec, err := h.o.SubmitSingle(context.Background(), "https://example.com", crawl.RenderOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := h.o.Get(rec.ID)
		return got.Status == models.CrawlFailed
	}, eventually, time.Millisecond)

	got, _ := h.o.Get(rec.ID)
	assert.Equal(t, "robots.txt disallows crawling", got.Error)
	errs := h.notes.byLevel(notify.LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "robots.txt")
}

func TestDeleteStopsTracking(t *testing.T) {
	h := newHarness(t)

	rec, err := h.o.SubmitSingle(context.Background(), "https://example.com", crawl.RenderOptions{})
	require.NoError(t, err)
	require.NoError(t, h.o.Delete(context.Background(), rec.ID))

	assert.Equal(t, []string{rec.ID}, h.api.deleted)
	assert.Empty(t, h.o.Jobs())

	require.Eventually(t, func() bool {
		h.clock.Advance(crawl.DefaultPollInterval)
		return !h.poller.Active(rec.ID)
	}, eventually, 5*time.Millisecond)
}

func TestCrawlNormalisesBackendStatus(t *testing.T) {
	h := newHarness(t,
		client.CrawlStatus{Status: "running", PagesCrawled: 2},
		client.CrawlStatus{Status: "Done", PagesCrawled: 4},
	)

	rec, err := h.o.SubmitSingle(context.Background(), "https://example.com", crawl.RenderOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := h.o.Get(rec.ID)
		return got.Status == models.CrawlCrawling
	}, eventually, time.Millisecond)

	require.Eventually(t, func() bool {
		if got, _ := h.o.Get(rec.ID); got.Status == models.CrawlCompleted {
			return true
		}
		h.clock.Advance(crawl.DefaultPollInterval)
		return false
	}, eventually, 5*time.Millisecond)

	got, _ := h.o.Get(rec.ID)
	assert.Equal(t, 4, got.PagesCrawled)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, []string{"pending", "crawling", "completed"}, h.notes.statuses(rec.ID))
}

func TestUntrackedCrawlLeavesNoDedupEntry(t *testing.T) {
	h := newHarness(t)
	h.poller.StopAll()

	rec, err := h.o.SubmitSingle(context.Background(), "https://example.com", crawl.RenderOptions{})
	require.NoError(t, err)

	assert.False(t, h.poller.Active(rec.ID))
	assert.Zero(t, h.poller.Dedup().Len())
	assert.Empty(t, h.notes.statuses(rec.ID))
}
