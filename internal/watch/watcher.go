// Package watch turns a directory into a drop folder: files that appear in it
// are handed to a callback once they stop changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// DefaultSettle is how long a file must stay untouched before it is picked up.
const DefaultSettle = 2 * time.Second

// Watcher debounces create and write events per path.
type Watcher struct {
	dir    string
	settle time.Duration
	found  func(path string)
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]clockwork.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithClock replaces the wall clock used for debouncing.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher for dir that calls found for every settled file.
func New(dir string, found func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		dir:    dir,
		settle: DefaultSettle,
		found:  found,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		timers: make(map[string]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. Files already present are not picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching drop folder", "dir", w.dir, "settle", w.settle)

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher event overflow, some files may be missed", "dir", w.dir)
				continue
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.logger.Debug("drop folder change", "path", event.Name, "op", event.Op.String())
		w.reset(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.cancel(event.Name)
	}
}

// reset starts or restarts the settle timer for path.
func (w *Watcher) reset(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	var t clockwork.Timer
	t = w.clock.AfterFunc(w.settle, func() { w.fire(path, &t) })
	w.timers[path] = t
}

// fire hands path to found once its settle timer runs out. t is read under
// w.mu; a timer that was replaced or cancelled meanwhile does nothing.
func (w *Watcher) fire(path string, t *clockwork.Timer) {
	w.mu.Lock()
	if w.timers[path] != *t {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.logger.Info("file settled, queueing upload", "path", path, "size", info.Size())
	w.found(path)
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// ignored skips hidden and editor temp files.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part")
}
