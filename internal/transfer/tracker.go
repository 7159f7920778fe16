// Package transfer computes live metrics (progress, speed, ETA) for a single
// file transfer from the byte counter reported by the transport.
package transfer

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/raphaelgruber/docdash/internal/models"
)

// Sample is the derived state after one progress tick.
type Sample struct {
	Loaded   int64
	Total    int64
	Progress int
	Speed    float64 // bytes per second
	ETA      time.Duration
}

// Tracker keeps the previous tick so speed can be estimated from deltas.
// Safe for use by one writer (the transport) and concurrent readers.
type Tracker struct {
	mu       sync.Mutex
	total    int64
	loaded   int64
	speed    float64
	progress int
	lastAt   time.Time
}

// NewTracker creates a tracker for a payload of total bytes.
func NewTracker(total int64) *Tracker {
	return &Tracker{total: total}
}

// Start resets byte counters for a fresh attempt starting at the given time.
// Progress is kept so the percentage never moves backwards across retries.
func (t *Tracker) Start(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = 0
	t.speed = 0
	t.lastAt = at
}

// Observe records a new cumulative byte count seen at the given time.
func (t *Tracker) Observe(loaded int64, at time.Time) Sample {
	t.mu.Lock()
	defer t.mu.Unlock()

	var elapsed time.Duration
	if !t.lastAt.IsZero() {
		elapsed = at.Sub(t.lastAt)
	}
	t.speed = Speed(t.loaded, loaded, elapsed, t.speed)
	t.loaded = loaded
	t.lastAt = at

	if p := Percent(loaded, t.total); p > t.progress {
		t.progress = p
	}
	return t.sampleLocked()
}

// Snapshot returns the current state without recording a tick.
func (t *Tracker) Snapshot() Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleLocked()
}

func (t *Tracker) sampleLocked() Sample {
	return Sample{
		Loaded:   t.loaded,
		Total:    t.total,
		Progress: t.progress,
		Speed:    t.speed,
		ETA:      ETA(t.total, t.loaded, t.speed),
	}
}

// Speed estimates bytes/second between two ticks. When no time has elapsed
// the previous estimate is kept; a shrinking counter yields zero.
func Speed(prevLoaded, loaded int64, elapsed time.Duration, prevSpeed float64) float64 {
	if elapsed <= 0 {
		return prevSpeed
	}
	delta := loaded - prevLoaded
	if delta < 0 {
		return 0
	}
	return float64(delta) / elapsed.Seconds()
}

// ETA is (total-loaded)/speed, or models.InfiniteETA when speed is zero.
func ETA(total, loaded int64, speed float64) time.Duration {
	if speed <= 0 {
		return models.InfiniteETA
	}
	remaining := total - loaded
	if remaining <= 0 {
		return 0
	}
	secs := float64(remaining) / speed
	if secs >= math.MaxInt64/float64(time.Second) {
		return models.InfiniteETA
	}
	return time.Duration(secs * float64(time.Second))
}

// Percent converts a byte count into an integer percentage clamped to 0..100.
func Percent(loaded, total int64) int {
	if total <= 0 || loaded <= 0 {
		return 0
	}
	if loaded >= total {
		return 100
	}
	return int(loaded * 100 / total)
}

// Reader counts bytes flowing through r and reports the running total.
type Reader struct {
	r      io.Reader
	read   int64
	report func(loaded int64)
}

// NewReader wraps r; report is called after every successful Read.
func NewReader(r io.Reader, report func(loaded int64)) *Reader {
	return &Reader{r: r, report: report}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		if pr.report != nil {
			pr.report(pr.read)
		}
	}
	return n, err
}
