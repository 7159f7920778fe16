// Package poller reconciles local job state with the backend by polling a
// job's status on a fixed cadence until it reaches a terminal state.
//
// A Supervisor owns every polling session of one pipeline (documents or
// crawls): the job-id registry that guarantees a single session per job, and
// the dedup set that guarantees one notification per (job, status) pair.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/raphaelgruber/docdash/internal/metrics"
	"github.com/raphaelgruber/docdash/internal/notify"
)

// DefaultInterval is used when a Job does not set its own cadence.
const DefaultInterval = 2 * time.Second

// Observation is one status reading returned by a job's fetch function.
type Observation struct {
	Status   string
	Progress int
	Terminal bool
	// Detail carries the backend's failure text, if any.
	Detail string
}

// Job describes how to poll one remote job and what to do with the results.
// Fetch is required; the callbacks are optional.
type Job struct {
	Interval time.Duration

	// Fetch reads the current status from the backend.
	Fetch func(ctx context.Context) (Observation, error)

	// Exists reports whether the local record that owns this job is still
	// around. A session stops as soon as it returns false.
	Exists func() bool

	// OnObserve runs for every successful reading, repeated or not.
	OnObserve func(Observation)

	// OnTransition runs once per new status. first is true for the session's
	// first reading.
	OnTransition func(obs Observation, first bool)

	// OnTerminal runs after the reading that ended the session.
	OnTerminal func(Observation)

	// OnError runs when a fetch fails; the session then ends.
	OnError func(error)
}

// Supervisor runs and tracks polling sessions keyed by job id.
type Supervisor struct {
	kind      string
	clock     clockwork.Clock
	logger    *slog.Logger
	dedup     *notify.Dedup
	collector *metrics.Collector

	mu      sync.Mutex
	tasks   map[string]*task
	changed chan struct{} // closed and replaced whenever a session ends
	closed  bool
	wg      sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the logger used for session lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithCollector records every poll in the run statistics.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Supervisor) { s.collector = c }
}

// New creates a supervisor for jobs of the given kind ("document", "crawl").
func New(kind string, opts ...Option) *Supervisor {
	s := &Supervisor{
		kind:    kind,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		dedup:   notify.NewDedup(),
		tasks:   make(map[string]*task),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dedup exposes the supervisor's notification dedup set.
func (s *Supervisor) Dedup() *notify.Dedup {
	return s.dedup
}

// Start begins polling jobID. The first check runs right away, then one per
// job.Interval. Starting a job that already has an active session is a no-op
// and returns false.
func (s *Supervisor) Start(jobID string, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.tasks[jobID]; ok {
		s.logger.Debug("poller already active", "kind", s.kind, "job_id", jobID)
		return false
	}
	if job.Interval <= 0 {
		job.Interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[jobID] = t
	s.wg.Add(1)
	metrics.ActivePollers.WithLabelValues(s.kind).Inc()

	go s.run(ctx, jobID, job, t)

	s.logger.Debug("poller started", "kind", s.kind, "job_id", jobID, "interval", job.Interval)
	return true
}

// Stop cancels the session for jobID, if any, and waits for it to exit.
func (s *Supervisor) Stop(jobID string) {
	s.mu.Lock()
	t, ok := s.tasks[jobID]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// StopAll tears down every session and refuses new ones.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until every running session has ended or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle, changed := len(s.tasks) == 0, s.changed
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Active reports whether jobID has a running session.
func (s *Supervisor) Active(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[jobID]
	return ok
}

// Len returns the number of running sessions.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Supervisor) run(ctx context.Context, jobID string, job Job, t *task) {
	defer s.finish(jobID, t)

	sess := &session{s: s, jobID: jobID, job: job}
	if !sess.check(ctx) {
		return
	}

	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !sess.check(ctx) {
				return
			}
		}
	}
}

func (s *Supervisor) finish(jobID string, t *task) {
	s.dedup.Clear(jobID)
	metrics.ActivePollers.WithLabelValues(s.kind).Dec()

	s.mu.Lock()
	if s.tasks[jobID] == t {
		delete(s.tasks, jobID)
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	close(t.done)
	s.wg.Done()
	s.logger.Debug("poller stopped", "kind", s.kind, "job_id", jobID)
}

// session holds the per-job transition state.
type session struct {
	s        *Supervisor
	jobID    string
	job      Job
	last     string
	observed bool
}

// check performs one poll and reports whether polling should continue.
func (p *session) check(ctx context.Context) bool {
	if !p.alive() {
		p.s.logger.Info("poller stopping, record no longer tracked", "kind", p.s.kind, "job_id", p.jobID)
		return false
	}

	start := p.s.clock.Now()
	obs, err := p.job.Fetch(ctx)
	p.s.collector.Record(p.op(), p.s.clock.Since(start), 0, err)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		metrics.PollsTotal.WithLabelValues(p.s.kind, "error").Inc()
		p.s.logger.Warn("status poll failed, stopping poller", "kind", p.s.kind, "job_id", p.jobID, "error", err)
		if p.job.OnError != nil {
			p.job.OnError(err)
		}
		return false
	}
	metrics.PollsTotal.WithLabelValues(p.s.kind, "ok").Inc()

	// The record may have been dropped while the request was in flight.
	if !p.alive() {
		return false
	}

	if p.job.OnObserve != nil {
		p.job.OnObserve(obs)
	}

	first := !p.observed
	if first || obs.Status != p.last {
		if p.s.dedup.Mark(p.jobID, obs.Status) && p.job.OnTransition != nil {
			p.job.OnTransition(obs, first)
		}
	}
	p.observed = true
	p.last = obs.Status

	if obs.Terminal {
		if p.job.OnTerminal != nil {
			p.job.OnTerminal(obs)
		}
		return false
	}
	return true
}

func (p *session) alive() bool {
	return p.job.Exists == nil || p.job.Exists()
}

func (p *session) op() string {
	if p.s.kind == "crawl" {
		return metrics.OpCrawlPoll
	}
	return metrics.OpDocPoll
}
