// Package notify carries user-visible notifications from the upload and
// crawl pipelines to whatever renders them, and suppresses duplicates.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message shown to the user.
type Notification struct {
	Level   Level
	JobID   string
	Status  string
	Message string
	At      time.Time
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use; pollers for different jobs notify from their own goroutines.
type Notifier interface {
	Notify(Notification)
}

// Func adapts a plain function to a Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Logger writes notifications to a slog logger.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Notify(n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.Log.Log(context.Background(), level, n.Message, "job_id", n.JobID, "status", n.Status)
}

// Dedup remembers which (job, status) pairs were already announced.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewDedup creates an empty dedup set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]map[string]struct{})}
}

// Mark records (jobID, status) and reports whether it was not seen before.
// Only the first caller for a pair gets true.
func (d *Dedup) Mark(jobID, status string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	statuses, ok := d.seen[jobID]
	if !ok {
		statuses = make(map[string]struct{})
		d.seen[jobID] = statuses
	}
	if _, dup := statuses[status]; dup {
		return false
	}
	statuses[status] = struct{}{}
	return true
}

// Seen reports whether (jobID, status) has been marked.
func (d *Dedup) Seen(jobID, status string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[jobID][status]
	return ok
}

// Clear forgets every entry for jobID.
func (d *Dedup) Clear(jobID string) {
	d.mu.Lock()
	delete(d.seen, jobID)
	d.mu.Unlock()
}

// Len returns the number of jobs with at least one recorded status.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
