package upload_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/poller"
	"github.com/raphaelgruber/docdash/internal/retry"
	"github.com/raphaelgruber/docdash/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 5 * time.Second

// zeroSource streams size zero bytes without holding them in memory.
type zeroSource struct {
	name string
	size int64
}

func (z zeroSource) Name() string        { return z.name }
func (z zeroSource) Size() int64         { return z.size }
func (z zeroSource) ContentType() string { return "" }
func (z zeroSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(io.LimitReader(zeros{}, z.size)), nil
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// fakeAPI answers uploads from a queue of results and status polls from a
// script; the last status repeats once the script runs out.
type fakeAPI struct {
	mu       sync.Mutex
	uploads  []func() (client.UploadResult, error)
	statuses []client.JobStatus
	polls    int
	pollErr  error
	calls    atomic.Int32

	// byJob, when set, answers status polls per job id instead of the script.
	byJob map[string]client.JobStatus
}

func (f *fakeAPI) UploadDocument(ctx context.Context, _ string, r io.Reader) (client.UploadResult, error) {
	f.calls.Add(1)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return client.UploadResult{}, err
	}
	f.mu.Lock()
	next := f.uploads[0]
	if len(f.uploads) > 1 {
		f.uploads = f.uploads[1:]
	}
	f.mu.Unlock()
	return next()
}

func (f *fakeAPI) GetDocumentStatus(_ context.Context, jobID string) (client.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byJob != nil {
		f.polls++
		return f.byJob[jobID], nil
	}
	if f.pollErr != nil {
		f.polls++
		return client.JobStatus{}, f.pollErr
	}
	i := min(f.polls, len(f.statuses)-1)
	f.polls++
	return f.statuses[i], nil
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func accept(jobID, status string) func() (client.UploadResult, error) {
	return func() (client.UploadResult, error) {
		return client.UploadResult{JobID: jobID, Status: status}, nil
	}
}

func reject(err error) func() (client.UploadResult, error) {
	return func() (client.UploadResult, error) { return client.UploadResult{}, err }
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

func (r *recorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.got {
		out = append(out, n.Status)
	}
	return out
}

type harness struct {
	m        *upload.Manager
	api      *fakeAPI
	clock    *clockwork.FakeClock
	poller   *poller.Supervisor
	notes    *recorder
	refreshs atomic.Int32
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	h := &harness{api: api, clock: clockwork.NewFakeClock(), notes: &recorder{}}
	h.poller = poller.New("document", poller.WithClock(h.clock))
	h.m = upload.NewManager(api, upload.Options{
		Retry:    retry.Policy{MaxRetries: 3, Delay: time.Millisecond},
		Clock:    h.clock,
		Notifier: h.notes,
		Poller:   h.poller,
		Refresh:  func(context.Context) { h.refreshs.Add(1) },
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) waitStatus(t *testing.T, id string, want models.TransferStatus) models.TransferRecord {
	t.Helper()
	var rec models.TransferRecord
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = h.m.Get(id)
		return ok && rec.Status == want
	}, eventually, time.Millisecond, "record never reached %s", want)
	return rec
}

// advanceUntil moves the fake clock forward one poll interval at a time
// until cond holds.
func (h *harness) advanceUntil(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		h.clock.Advance(step)
		return cond()
	}, eventually, 5*time.Millisecond)
}

func TestEnqueueRejectsUnsupportedTypeWithoutNetwork(t *testing.T) {
	api := &fakeAPI{uploads: []func() (client.UploadResult, error){accept("x", "pending")}}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("setup.exe", "application/x-msdownload", []byte("MZ")))

	rec, ok := h.m.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.TransferFailed, rec.Status)
	assert.Contains(t, rec.Error, "not a supported file type")
	assert.False(t, rec.Retryable)
	assert.Zero(t, api.calls.Load())
	assert.Equal(t, []string{"failed"}, h.notes.statuses())
}

func TestEnqueueRejectsOversizedFileWithoutNetwork(t *testing.T) {
	api := &fakeAPI{uploads: []func() (client.UploadResult, error){accept("x", "pending")}}
	h := newHarness(t, api)

	id := h.m.Enqueue(zeroSource{name: "huge.pdf", size: upload.DefaultMaxBytes + 1})

	rec, _ := h.m.Get(id)
	assert.Equal(t, models.TransferFailed, rec.Status)
	assert.Contains(t, rec.Error, "too large")
	assert.Zero(t, api.calls.Load())
}

func TestUploadLifecycle(t *testing.T) {
	api := &fakeAPI{
		uploads: []func() (client.UploadResult, error){accept("job-1", "pending")},
		statuses: []client.JobStatus{
			{Status: "pending", Progress: 0},
			{Status: "pending", Progress: 0},
			{Status: "processing", Progress: 40},
			{Status: "processing", Progress: 80},
			{Status: "completed", Progress: 100},
		},
	}
	h := newHarness(t, api)
	events, cancel := h.m.Subscribe(100000)
	defer cancel()

	id := h.m.Enqueue(zeroSource{name: "big.pdf", size: 50 << 20})
	require.Len(t, id, 8)

	h.waitStatus(t, id, models.TransferPending)
	h.advanceUntil(t, 2*time.Second, func() bool {
		rec, _ := h.m.Get(id)
		return rec.Status == models.TransferCompleted
	})

	rec, ok := h.m.Get(id)
	require.True(t, ok, "completed record is kept visible until the removal delay passes")
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "job-1", rec.RemoteJobID)
	assert.Equal(t, int64(50<<20), rec.Loaded)

	require.Eventually(t, func() bool { return h.refreshs.Load() == 1 }, eventually, time.Millisecond)
	assert.Equal(t, []string{"pending", "processing", "completed"}, h.notes.statuses())

	require.Eventually(t, func() bool {
		h.clock.Advance(time.Second)
		_, ok := h.m.Get(id)
		return !ok
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, 5, api.pollCount())

	var seen []models.TransferStatus
	progress := -1
	for len(events) > 0 {
		ev := <-events
		if ev.Type == upload.RecordRemoved {
			continue
		}
		if ev.Record.Status == models.TransferUploading {
			assert.GreaterOrEqual(t, ev.Record.Progress, progress, "upload progress went backwards")
			progress = ev.Record.Progress
		}
		if len(seen) == 0 || seen[len(seen)-1] != ev.Record.Status {
			seen = append(seen, ev.Record.Status)
		}
	}
	assert.Equal(t, []models.TransferStatus{
		models.TransferQueued,
		models.TransferUploading,
		models.TransferPending,
		models.TransferProcessing,
		models.TransferCompleted,
	}, seen)
}

func TestUploadCompletedImmediately(t *testing.T) {
	api := &fakeAPI{uploads: []func() (client.UploadResult, error){accept("job-9", "completed")}}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("a.txt", "text/plain", []byte("hello")))
	rec := h.waitStatus(t, id, models.TransferCompleted)

	assert.Equal(t, 100, rec.Progress)
	assert.Zero(t, h.poller.Len())
	require.Eventually(t, func() bool { return h.refreshs.Load() == 1 }, eventually, time.Millisecond)
}

func TestUploadWithoutJobIDFails(t *testing.T) {
	api := &fakeAPI{uploads: []func() (client.UploadResult, error){accept("", "pending")}}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	rec := h.waitStatus(t, id, models.TransferFailed)

	assert.Contains(t, rec.Error, "no job id")
	assert.Zero(t, h.poller.Len())
}

func TestUploadServerErrorsExhaustRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := upload.NewManager(client.New(srv.URL), upload.Options{
		Retry: retry.Policy{MaxRetries: 3, Delay: time.Millisecond},
	})
	defer m.Close()

	id := m.Enqueue(upload.BytesSource("a.pdf", "application/pdf", []byte("%PDF-1.4")))
	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	require.NoError(t, m.Wait(ctx))

	rec, _ := m.Get(id)
	assert.Equal(t, models.TransferFailed, rec.Status)
	assert.Equal(t, int32(4), requests.Load())
	assert.Equal(t, 3, rec.RetryCount)
	assert.True(t, rec.Retryable)
	assert.NotEmpty(t, rec.Error)
}

func TestUploadErrorCodes(t *testing.T) {
	tests := []struct {
		code      string
		message   string
		retryable bool
	}{
		{code: client.CodeAIQuotaExceeded, message: "quota exceeded"},
		{code: client.CodeFileTooLarge, message: "too large"},
		{code: client.CodeInvalidFile, message: "could not be read"},
		{code: client.CodeParseError, message: "could not be read"},
		{code: client.CodeNetworkError, message: "Network error", retryable: true},
		{code: "something_else", message: "Upload failed: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &client.APIError{StatusCode: http.StatusBadRequest, Code: tt.code, Message: "nope"}
			api := &fakeAPI{uploads: []func() (client.UploadResult, error){reject(err)}}
			h := newHarness(t, api)

			id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
			rec := h.waitStatus(t, id, models.TransferFailed)

			assert.Contains(t, rec.Error, tt.message)
			assert.Equal(t, tt.retryable, rec.Retryable)
			assert.Equal(t, int32(1), api.calls.Load(), "client errors are not retried")
		})
	}
}

func TestManualRetry(t *testing.T) {
	api := &fakeAPI{uploads: []func() (client.UploadResult, error){
		reject(&client.APIError{StatusCode: http.StatusBadRequest, Code: client.CodeParseError}),
		accept("job-2", "completed"),
	}}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	h.waitStatus(t, id, models.TransferFailed)

	require.NoError(t, h.m.Retry(id))
	rec := h.waitStatus(t, id, models.TransferCompleted)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Empty(t, rec.Error)
	assert.Equal(t, "job-2", rec.RemoteJobID)

	assert.ErrorIs(t, h.m.Retry(id), upload.ErrNotRetryable)
	assert.ErrorIs(t, h.m.Retry("missing"), upload.ErrNotFound)
}

func TestClearCompleted(t *testing.T) {
	api := &fakeAPI{
		uploads:  []func() (client.UploadResult, error){accept("job-3", "pending")},
		statuses: []client.JobStatus{{Status: "processing"}},
	}
	h := newHarness(t, api)

	bad := h.m.Enqueue(upload.BytesSource("virus.exe", "", []byte("MZ")))
	busy := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	h.waitStatus(t, busy, models.TransferProcessing)

	assert.Equal(t, 1, h.m.ClearCompleted())
	_, ok := h.m.Get(bad)
	assert.False(t, ok)
	_, ok = h.m.Get(busy)
	assert.True(t, ok)
}

func TestRemoveStopsPoller(t *testing.T) {
	api := &fakeAPI{
		uploads:  []func() (client.UploadResult, error){accept("job-4", "pending")},
		statuses: []client.JobStatus{{Status: "processing"}},
	}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	h.waitStatus(t, id, models.TransferProcessing)
	require.True(t, h.poller.Active("job-4"))

	require.True(t, h.m.Remove(id))
	h.advanceUntil(t, 2*time.Second, func() bool { return !h.poller.Active("job-4") })
}

func TestCloseStopsEverything(t *testing.T) {
	api := &fakeAPI{
		uploads:  []func() (client.UploadResult, error){accept("job-5", "pending")},
		statuses: []client.JobStatus{{Status: "processing"}},
	}
	h := newHarness(t, api)
	events, _ := h.m.Subscribe(1000)

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	h.waitStatus(t, id, models.TransferProcessing)

	h.m.Close()
	assert.Zero(t, h.poller.Len())
	assert.ErrorIs(t, h.m.Wait(context.Background()), upload.ErrClosed)
	assert.Empty(t, h.m.Enqueue(upload.BytesSource("b.pdf", "", []byte("%PDF"))))

	for range events {
	}
}

func TestPollFailureSettlesRecord(t *testing.T) {
	api := &fakeAPI{
		uploads: []func() (client.UploadResult, error){accept("job-6", "processing")},
		pollErr: &client.APIError{StatusCode: http.StatusBadGateway},
	}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))

	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	require.NoError(t, h.m.Wait(ctx))

	rec, ok := h.m.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.TransferProcessing, rec.Status, "the last known state is kept")
	assert.Contains(t, rec.Error, "Lost track")
	assert.Equal(t, 1, api.pollCount(), "a failed poll is not retried")
	require.Eventually(t, func() bool { return h.poller.Len() == 0 }, eventually, time.Millisecond)
}

func TestUploadsSharingJobSettleTogether(t *testing.T) {
	api := &fakeAPI{
		uploads: []func() (client.UploadResult, error){accept("job-1", "pending")},
		statuses: []client.JobStatus{
			{Status: "pending"},
			{Status: "completed", Progress: 100},
		},
	}
	h := newHarness(t, api)

	a := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	b := h.m.Enqueue(upload.BytesSource("b.pdf", "", []byte("%PDF")))
	h.waitStatus(t, a, models.TransferPending)
	h.waitStatus(t, b, models.TransferPending)
	assert.Equal(t, 1, h.poller.Len(), "one session per job id")

	h.advanceUntil(t, 2*time.Second, func() bool {
		ra, _ := h.m.Get(a)
		rb, _ := h.m.Get(b)
		return ra.Status == models.TransferCompleted && rb.Status == models.TransferCompleted
	})

	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	require.NoError(t, h.m.Wait(ctx))
	require.Eventually(t, func() bool { return len(h.notes.statuses()) == 2 }, eventually, time.Millisecond)
	assert.Equal(t, []string{"pending", "completed"}, h.notes.statuses())

	require.Eventually(t, func() bool {
		h.clock.Advance(time.Second)
		return len(h.m.Records()) == 0 && h.poller.Len() == 0
	}, eventually, 5*time.Millisecond)
}

// blockingAPI holds every upload until its context is cancelled.
type blockingAPI struct {
	started atomic.Int32
}

func (b *blockingAPI) UploadDocument(ctx context.Context, _ string, _ io.Reader) (client.UploadResult, error) {
	b.started.Add(1)
	<-ctx.Done()
	return client.UploadResult{}, ctx.Err()
}

func (b *blockingAPI) GetDocumentStatus(context.Context, string) (client.JobStatus, error) {
	return client.JobStatus{}, nil
}

func TestEnqueueStartsEveryUploadByDefault(t *testing.T) {
	api := &blockingAPI{}
	m := upload.NewManager(api, upload.Options{})
	defer m.Close()

	for i := range 6 {
		m.Enqueue(upload.BytesSource(fmt.Sprintf("doc-%d.pdf", i), "", []byte("%PDF")))
	}

	require.Eventually(t, func() bool { return api.started.Load() == 6 }, eventually, time.Millisecond)
	for _, r := range m.Records() {
		assert.Equal(t, models.TransferUploading, r.Status, r.File.Name)
	}
}

func TestConcurrencyCapKeepsRestQueued(t *testing.T) {
	api := &blockingAPI{}
	m := upload.NewManager(api, upload.Options{Concurrency: 2})
	defer m.Close()

	for i := range 5 {
		m.Enqueue(upload.BytesSource(fmt.Sprintf("doc-%d.pdf", i), "", []byte("%PDF")))
	}

	require.Eventually(t, func() bool { return api.started.Load() == 2 }, eventually, time.Millisecond)
	assert.Never(t, func() bool { return api.started.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)

	queued := 0
	for _, r := range m.Records() {
		if r.Status == models.TransferQueued {
			queued++
		}
	}
	assert.Equal(t, 3, queued)
}

func TestRetryIgnoresEarlierJob(t *testing.T) {
	api := &fakeAPI{
		uploads: []func() (client.UploadResult, error){
			accept("job-1", "failed"),
			accept("job-2", "pending"),
		},
		byJob: map[string]client.JobStatus{
			"job-1": {Status: "completed", Progress: 100},
			"job-2": {Status: "processing", Progress: 30},
		},
	}
	h := newHarness(t, api)

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	h.waitStatus(t, id, models.TransferFailed)
	assert.False(t, h.poller.Active("job-1"), "a job that failed on acceptance is not polled")

	require.NoError(t, h.m.Retry(id))
	rec := h.waitStatus(t, id, models.TransferProcessing)
	assert.Equal(t, "job-2", rec.RemoteJobID)
	assert.Equal(t, 30, rec.Progress)

	h.clock.Advance(2 * time.Second)
	h.clock.Advance(2 * time.Second)
	rec, _ = h.m.Get(id)
	assert.Equal(t, models.TransferProcessing, rec.Status)
	assert.Equal(t, "job-2", rec.RemoteJobID)
	assert.False(t, h.poller.Active("job-1"))
}

func TestFailedPollerStartLeavesNoDedupEntry(t *testing.T) {
	api := &fakeAPI{uploads: []func() (client.UploadResult, error){accept("job-7", "pending")}}
	h := newHarness(t, api)
	h.poller.StopAll()

	id := h.m.Enqueue(upload.BytesSource("a.pdf", "", []byte("%PDF")))
	rec := h.waitStatus(t, id, models.TransferFailed)

	assert.Contains(t, rec.Error, "Could not track processing")
	assert.Zero(t, h.poller.Dedup().Len())
	assert.Equal(t, []string{"failed"}, h.notes.statuses())
}
