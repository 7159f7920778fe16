package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTimerWatcher(t *testing.T) (*Watcher, *clockwork.FakeClock, *atomic.Int32, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	fc := clockwork.NewFakeClock()
	var found atomic.Int32
	w := New(dir, func(string) { found.Add(1) },
		WithClock(fc),
		WithSettle(time.Second),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return w, fc, &found, path
}

func (w *Watcher) timer(path string) clockwork.Timer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timers[path]
}

func TestReplacedTimerDoesNotDropNewer(t *testing.T) {
	w, fc, found, path := newTimerWatcher(t)

	w.reset(path)
	first := w.timer(path)
	w.reset(path)
	second := w.timer(path)
	require.True(t, first != second, "reset replaces the timer")

	// the first timer was already running when the second replaced it
	w.fire(path, &first)
	assert.Zero(t, found.Load())
	assert.Equal(t, second, w.timer(path))

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return found.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Nil(t, w.timer(path))
}

func TestCancelledTimerDoesNothing(t *testing.T) {
	w, fc, found, path := newTimerWatcher(t)

	w.reset(path)
	stale := w.timer(path)
	w.cancel(path)
	assert.Nil(t, w.timer(path))

	w.fire(path, &stale)
	fc.Advance(2 * time.Second)
	assert.Never(t, func() bool { return found.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
