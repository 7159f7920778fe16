// Package upload owns the queue of document uploads: admission, streaming
// transmission with retries, and handing accepted uploads to the status
// poller until the backend finishes processing them.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/metrics"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/poller"
	"github.com/raphaelgruber/docdash/internal/retry"
	"github.com/raphaelgruber/docdash/internal/transfer"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNotFound is returned for ids that are not in the queue.
	ErrNotFound = errors.New("upload not found")
	// ErrNotRetryable is returned when retrying a record that has not failed.
	ErrNotRetryable = errors.New("only failed uploads can be retried")
	// ErrClosed is returned once the manager has been torn down.
	ErrClosed = errors.New("upload manager closed")
)

// API is the subset of the platform client the manager needs.
type API interface {
	UploadDocument(ctx context.Context, filename string, r io.Reader) (client.UploadResult, error)
	GetDocumentStatus(ctx context.Context, id string) (client.JobStatus, error)
}

// Options configures a Manager. Zero values get defaults.
type Options struct {
	MaxBytes int64
	// Concurrency caps simultaneous uploads. Zero sends every admitted file
	// right away.
	Concurrency  int
	Retry        retry.Policy
	PollInterval time.Duration
	RemoveDelay  time.Duration

	Clock     clockwork.Clock
	Logger    *slog.Logger
	Notifier  notify.Notifier
	Collector *metrics.Collector
	Poller    *poller.Supervisor

	// Refresh reloads the document history after a document finishes.
	Refresh func(ctx context.Context)
}

// EventType says what happened to a record.
type EventType string

const (
	RecordAdded   EventType = "added"
	RecordUpdated EventType = "updated"
	RecordRemoved EventType = "removed"
)

// Event carries a snapshot of a record after a change.
type Event struct {
	Type   EventType
	Record models.TransferRecord
}

// Manager is the upload queue.
type Manager struct {
	api    API
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger
	poller *poller.Supervisor
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	records []models.TransferRecord // replaced wholesale, never mutated in place
	sources map[string]Source
	stalled map[string]bool // status polling gave up before a terminal state
	jobs    map[string]bool // job ids with a poll session owned by this manager
	timers  map[string]clockwork.Timer
	subs    map[int]chan Event
	nextSub int
	changed chan struct{}
}

// NewManager creates an upload queue backed by api.
func NewManager(api API, opts Options) *Manager {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RemoveDelay <= 0 {
		opts.RemoveDelay = 3 * time.Second
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
		opts.Poller = poller.New("document",
			poller.WithClock(opts.Clock),
			poller.WithLogger(opts.Logger),
			poller.WithCollector(opts.Collector))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		api:     api,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		poller:  opts.Poller,
		ctx:     ctx,
		cancel:  cancel,
		sources: make(map[string]Source),
		stalled: make(map[string]bool),
		jobs:    make(map[string]bool),
		timers:  make(map[string]clockwork.Timer),
		subs:    make(map[int]chan Event),
		changed: make(chan struct{}),
	}
	if opts.Concurrency > 0 {
		m.sem = semaphore.NewWeighted(int64(opts.Concurrency))
	}
	return m
}

// Enqueue admits src to the queue and starts sending it. The returned id
// identifies the record for its whole lifetime. A source that fails
// validation is recorded as failed without any request being made.
func (m *Manager) Enqueue(src Source) string {
	now := m.clock.Now()
	rec := models.TransferRecord{
		ID: uuid.New().String()[:8],
		File: models.FileRef{
			Name:        src.Name(),
			Size:        src.Size(),
			ContentType: src.ContentType(),
		},
		Status:    models.TransferQueued,
		ETA:       models.InfiniteETA,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ""
	}
	m.records = append(slices.Clone(m.records), rec)
	m.sources[rec.ID] = src
	m.publishLocked(Event{Type: RecordAdded, Record: rec})
	m.mu.Unlock()

	m.logger.Info("upload queued", "record_id", rec.ID, "file", src.Name(), "size", src.Size())
	m.start(rec.ID, src)
	return rec.ID
}

// Retry sends a failed record again under the same id.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	src, ok := m.sources[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	var stale bool
	_, ok = m.update(id, func(r *models.TransferRecord) {
		if r.Status != models.TransferFailed {
			stale = true
			return
		}
		r.Status = models.TransferQueued
		r.Error = ""
		delete(m.stalled, r.ID)
		r.Retryable = false
		r.RetryCount++
		r.Progress = 0
		r.Loaded = 0
		r.Speed = 0
		r.ETA = models.InfiniteETA
		r.RemoteJobID = ""
	})
	if !ok {
		return ErrNotFound
	}
	if stale {
		return ErrNotRetryable
	}

	metrics.UploadRetriesTotal.Inc()
	m.logger.Info("upload retry requested", "record_id", id)
	m.start(id, src)
	return nil
}

// Remove drops a record from the queue. A poller still following its job
// notices on its next tick and stops.
func (m *Manager) Remove(id string) bool {
	return m.remove(id)
}

// ClearCompleted drops every completed or failed record and returns how many
// were removed. Server-side documents are untouched.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []models.TransferRecord
	removed := 0
	for _, r := range m.records {
		if r.Status.Terminal() {
			removed++
			m.dropLocked(r)
			continue
		}
		kept = append(kept, r)
	}
	if removed > 0 {
		m.records = kept
		m.signalLocked()
	}
	return removed
}

// Records returns a snapshot of the queue in admission order.
func (m *Manager) Records() []models.TransferRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// Get returns a snapshot of one record.
func (m *Manager) Get(id string) (models.TransferRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(id)
	if i < 0 {
		return models.TransferRecord{}, false
	}
	return m.records[i], true
}

// Subscribe returns a stream of record changes. Events are dropped for a
// subscriber whose buffer is full; Records always has the latest state.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
}

// Wait blocks until no record is queued, uploading or being processed.
// A record whose status polling failed counts as settled.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		settled := !slices.ContainsFunc(m.records, func(r models.TransferRecord) bool {
			return !r.Status.Terminal() && !m.stalled[r.ID]
		})
		ch := m.changed
		m.mu.Unlock()

		if settled {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels in-flight uploads, stops every poller and pending removal,
// and closes all subscriptions. Responses arriving afterwards are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.signalLocked()
	m.mu.Unlock()

	m.cancel()
	m.poller.StopAll()
	m.wg.Wait()

	m.mu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
}

func (m *Manager) start(id string, src Source) {
	if err := Validate(src, m.opts.MaxBytes); err != nil {
		m.logger.Warn("upload rejected", "record_id", id, "file", src.Name(), "error", err)
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		m.fail(id, err.Error(), false)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.transmit(id, src)
	}()
}

func (m *Manager) transmit(id string, src Source) {
	if m.sem != nil {
		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return
		}
		defer m.sem.Release(1)
	}

	if _, ok := m.update(id, func(r *models.TransferRecord) {
		r.Status = models.TransferUploading
	}); !ok {
		return
	}

	tracker := transfer.NewTracker(src.Size())
	start := m.clock.Now()

	var res client.UploadResult
	err := retry.Do(m.ctx, m.opts.Retry, func(attempt int) error {
		if attempt > 1 {
			metrics.UploadRetriesTotal.Inc()
			if _, ok := m.update(id, func(r *models.TransferRecord) { r.RetryCount++ }); !ok {
				return ErrNotFound
			}
		}

		f, err := src.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", src.Name(), err)
		}
		defer f.Close()

		tracker.Start(m.clock.Now())
		body := transfer.NewReader(f, func(loaded int64) {
			m.applySample(id, tracker.Observe(loaded, m.clock.Now()))
		})

		res, err = m.api.UploadDocument(m.ctx, src.Name(), body)
		return err
	}, func(err error, wait time.Duration) {
		m.logger.Warn("upload attempt failed, retrying", "record_id", id, "error", err, "wait", wait)
	})

	elapsed := m.clock.Since(start)
	m.opts.Collector.Record(metrics.OpUpload, elapsed, tracker.Snapshot().Loaded, err)

	if m.ctx.Err() != nil || errors.Is(err, ErrNotFound) {
		// Torn down or removed while in flight; nothing left to update.
		return
	}
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		msg, retryable := describeError(err)
		m.logger.Error("upload failed", "record_id", id, "file", src.Name(), "error", err)
		m.fail(id, msg, retryable)
		return
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	metrics.UploadBytesTotal.Add(float64(src.Size()))
	metrics.UploadDuration.Observe(elapsed.Seconds())
	m.accepted(id, src.Name(), res)
}

func (m *Manager) applySample(id string, s transfer.Sample) {
	m.update(id, func(r *models.TransferRecord) {
		if r.Status != models.TransferUploading {
			return
		}
		r.Loaded = s.Loaded
		r.Speed = s.Speed
		r.ETA = s.ETA
		if s.Progress > r.Progress {
			r.Progress = s.Progress
		}
	})
}

func (m *Manager) accepted(id, name string, res client.UploadResult) {
	status := models.ParseTransferStatus(res.Status)

	rec, ok := m.update(id, func(r *models.TransferRecord) {
		r.RemoteJobID = res.JobID
		r.Status = status
		r.Speed = 0
		r.ETA = 0
		r.Loaded = r.File.Size
		switch {
		case status == models.TransferCompleted:
			r.Progress = 100
		case status != models.TransferUploading && res.Progress > 0:
			r.Progress = res.Progress
		}
	})
	if !ok {
		return
	}
	m.logger.Info("upload accepted", "record_id", id, "job_id", res.JobID, "status", status)

	switch {
	case status == models.TransferCompleted:
		m.notify(notify.LevelSuccess, rec, fmt.Sprintf("%s processed successfully", name))
		m.refresh()
		m.scheduleRemoval(id)

	case status == models.TransferFailed:
		m.fail(id, "Processing failed on the server", false)

	case res.JobID != "":
		m.follow(id, name, res.JobID, status)

	default:
		m.logger.Error("upload accepted without a job id", "record_id", id, "status", status)
		m.fail(id, "The server accepted the upload but returned no job id to track; refresh the document list to check its state", false)
	}
}

// follow hands the accepted upload to the poller. A record accepted under a
// job id this manager already polls joins that session.
func (m *Manager) follow(id, name, jobID string, status models.TransferStatus) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	joined := m.jobs[jobID]
	m.jobs[jobID] = true
	m.mu.Unlock()

	if joined {
		m.logger.Info("upload shares a job already being polled", "record_id", id, "job_id", jobID)
		m.announce(id, name, jobID, status)
		return
	}

	// A session released by this manager may still be winding down.
	if m.poller.Active(jobID) {
		m.poller.Stop(jobID)
	}

	// The acceptance message stands in for the first poll's notice of the
	// same status.
	marked := m.poller.Dedup().Mark(jobID, string(status))
	if !m.poller.Start(jobID, m.pollJob(jobID)) {
		if marked {
			m.poller.Dedup().Clear(jobID)
		}
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		if m.ctx.Err() == nil {
			m.logger.Error("could not start status poller", "record_id", id, "job_id", jobID)
			m.fail(id, "Could not track processing; refresh the document list to check its state", false)
		}
		return
	}
	if marked {
		if rec, ok := m.Get(id); ok {
			m.notify(notify.LevelInfo, rec, transitionMessage(name, status, ""))
		}
	}
}

func (m *Manager) announce(id, name, jobID string, status models.TransferStatus) {
	if !m.poller.Dedup().Mark(jobID, string(status)) {
		return
	}
	if rec, ok := m.Get(id); ok {
		m.notify(notify.LevelInfo, rec, transitionMessage(name, status, ""))
	}
}

// pollJob builds the session for jobID. Every callback acts on all records
// still waiting on that job, so records sharing a job settle together.
func (m *Manager) pollJob(jobID string) poller.Job {
	return poller.Job{
		Interval: m.opts.PollInterval,
		Fetch: func(ctx context.Context) (poller.Observation, error) {
			st, err := m.api.GetDocumentStatus(ctx, jobID)
			if err != nil {
				return poller.Observation{}, err
			}
			s := models.ParseTransferStatus(st.Status)
			return poller.Observation{Status: string(s), Progress: st.Progress, Terminal: s.Terminal(), Detail: st.Error}, nil
		},
		Exists: func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.closed || len(m.waitingLocked(jobID)) == 0 {
				delete(m.jobs, jobID)
				return false
			}
			return true
		},
		OnObserve: func(obs poller.Observation) {
			m.updateJob(jobID, observe(obs))
		},
		OnTransition: func(obs poller.Observation, _ bool) {
			m.mu.Lock()
			recs := m.waitingLocked(jobID)
			if len(recs) == 0 {
				recs = m.sharingLocked(jobID)
			}
			m.mu.Unlock()
			if len(recs) == 0 {
				return
			}
			status := models.TransferStatus(obs.Status)
			level := notify.LevelInfo
			switch status {
			case models.TransferCompleted:
				level = notify.LevelSuccess
			case models.TransferFailed:
				level = notify.LevelError
			}
			m.notify(level, recs[0], transitionMessage(fileNames(recs), status, obs.Detail))
		},
		OnTerminal: func(obs poller.Observation) {
			m.mu.Lock()
			delete(m.jobs, jobID)
			m.mu.Unlock()

			// Records that joined after the last reading get the final state too.
			m.updateJob(jobID, observe(obs))
			if models.TransferStatus(obs.Status) != models.TransferCompleted {
				return
			}
			m.refresh()
			m.mu.Lock()
			done := m.sharingLocked(jobID)
			m.mu.Unlock()
			for _, r := range done {
				if r.Status == models.TransferCompleted {
					m.scheduleRemoval(r.ID)
				}
			}
		},
		OnError: func(err error) {
			m.mu.Lock()
			delete(m.jobs, jobID)
			for _, r := range m.waitingLocked(jobID) {
				m.stalled[r.ID] = true
			}
			m.mu.Unlock()
			m.updateJob(jobID, func(r *models.TransferRecord) {
				r.Error = "Lost track of processing; refresh the document list to see the final state"
			})
		},
	}
}

// observe applies a status reading to a record.
func observe(obs poller.Observation) func(*models.TransferRecord) {
	next := models.TransferStatus(obs.Status)
	return func(r *models.TransferRecord) {
		if !r.Status.CanTransition(next) {
			return
		}
		r.Status = next
		if obs.Progress > 0 {
			r.Progress = obs.Progress
		}
		if next == models.TransferCompleted {
			r.Progress = 100
		}
		if next == models.TransferFailed {
			r.Error = firstNonEmpty(obs.Detail, "Processing failed on the server")
		}
	}
}

func (m *Manager) fail(id, msg string, retryable bool) {
	rec, ok := m.update(id, func(r *models.TransferRecord) {
		r.Status = models.TransferFailed
		r.Error = msg
		r.Retryable = retryable
		r.Speed = 0
		r.ETA = models.InfiniteETA
	})
	if ok {
		m.notify(notify.LevelError, rec, msg)
	}
}

func (m *Manager) notify(level notify.Level, rec models.TransferRecord, msg string) {
	metrics.NotificationsTotal.WithLabelValues(string(level)).Inc()
	m.opts.Notifier.Notify(notify.Notification{
		Level:   level,
		JobID:   firstNonEmpty(rec.RemoteJobID, rec.ID),
		Status:  string(rec.Status),
		Message: msg,
		At:      m.clock.Now(),
	})
}

func (m *Manager) refresh() {
	if m.opts.Refresh == nil {
		return
	}
	m.opts.Refresh(m.ctx)
}

func (m *Manager) scheduleRemoval(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.timers[id]; ok {
		return
	}
	m.timers[id] = m.clock.AfterFunc(m.opts.RemoveDelay, func() {
		if m.remove(id) {
			m.logger.Debug("completed upload removed from queue", "record_id", id)
		}
	})
}

// update applies fn to a copy of the record and swaps a new slice in.
// It reports false when the record is gone or the manager is closed.
func (m *Manager) update(id string, fn func(*models.TransferRecord)) (models.TransferRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.TransferRecord{}, false
	}
	i := m.indexLocked(id)
	if i < 0 {
		return models.TransferRecord{}, false
	}
	return m.applyLocked(i, fn), true
}

// updateJob applies fn to every record still waiting on jobID.
func (m *Manager) updateJob(jobID string, fn func(*models.TransferRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, r := range m.waitingLocked(jobID) {
		m.applyLocked(m.indexLocked(r.ID), fn)
	}
}

func (m *Manager) applyLocked(i int, fn func(*models.TransferRecord)) models.TransferRecord {
	rec := m.records[i]
	before := rec
	fn(&rec)
	if rec == before {
		return rec
	}
	rec.UpdatedAt = m.clock.Now()

	next := slices.Clone(m.records)
	next[i] = rec
	m.records = next

	m.publishLocked(Event{Type: RecordUpdated, Record: rec})
	m.signalLocked()
	return rec
}

// sharingLocked returns the records accepted under jobID. A retried record
// drops its old job id, so sessions for earlier attempts no longer see it.
func (m *Manager) sharingLocked(jobID string) []models.TransferRecord {
	var out []models.TransferRecord
	for _, r := range m.records {
		if r.RemoteJobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// waitingLocked returns the records of jobID that have not settled yet.
func (m *Manager) waitingLocked(jobID string) []models.TransferRecord {
	return slices.DeleteFunc(m.sharingLocked(jobID), func(r models.TransferRecord) bool {
		return r.Status.Terminal()
	})
}

func (m *Manager) remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return false
	}
	rec := m.records[i]
	m.records = slices.Delete(slices.Clone(m.records), i, i+1)
	m.dropLocked(rec)
	m.signalLocked()
	return true
}

// dropLocked releases everything held for rec and announces its removal.
func (m *Manager) dropLocked(rec models.TransferRecord) {
	delete(m.sources, rec.ID)
	delete(m.stalled, rec.ID)
	if t, ok := m.timers[rec.ID]; ok {
		t.Stop()
		delete(m.timers, rec.ID)
	}
	m.publishLocked(Event{Type: RecordRemoved, Record: rec})
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.records, func(r models.TransferRecord) bool { return r.ID == id })
}

func (m *Manager) publishLocked(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func fileNames(recs []models.TransferRecord) string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.File.Name
	}
	return strings.Join(names, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
