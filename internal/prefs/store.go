// Package prefs persists small client-side values such as the remembered
// username and API token. Entries may expire and are encoded by a Codec
// before they reach the backing YAML file.
package prefs

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("preference not found")
	ErrExpired  = errors.New("preference expired")
)

type entry struct {
	Value     string     `yaml:"value"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty"`
}

// Store is a key-value store, backed by a file or held only in memory.
type Store struct {
	mu      sync.Mutex
	path    string
	codec   Codec
	clock   clockwork.Clock
	entries map[string]entry
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for expiry.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func newStore(path string, codec Codec, opts []Option) *Store {
	if codec == nil {
		codec = Plain{}
	}
	s := &Store{path: path, codec: codec, clock: clockwork.NewRealClock(), entries: make(map[string]entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory returns a store that is lost when the process exits.
func NewMemory(codec Codec, opts ...Option) *Store {
	return newStore("", codec, opts)
}

// Open loads the store at path. A missing file is an empty store; the
// directory is created on first write.
func Open(path string, codec Codec, opts ...Option) (*Store, error) {
	s := newStore(path, codec, opts)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parse prefs %s: %w", path, err)
	}
	if s.entries == nil {
		s.entries = make(map[string]entry)
	}
	return s, nil
}

// OpenOrMemory opens the file store and falls back to memory when the file
// cannot be read or its directory cannot be written.
func OpenOrMemory(path string, codec Codec, logger *slog.Logger, opts ...Option) *Store {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err == nil {
			s, err := Open(path, codec, opts...)
			if err == nil {
				return s
			}
			logger.Warn("prefs file unusable, keeping preferences in memory", "path", path, "error", err)
		} else {
			logger.Warn("prefs directory not writable, keeping preferences in memory", "path", path, "error", err)
		}
	}
	return NewMemory(codec, opts...)
}

// Persistent reports whether values survive the process.
func (s *Store) Persistent() bool {
	return s.path != ""
}

// Set stores value under key. A positive ttl makes the entry expire.
func (s *Store) Set(key, value string, ttl time.Duration) error {
	enc, err := s.codec.Encode([]byte(value))
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := entry{Value: enc}
	if ttl > 0 {
		at := s.clock.Now().Add(ttl).UTC()
		e.ExpiresAt = &at
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return s.saveLocked()
}

// Get returns the value under key. An expired entry is removed and reported
// as ErrExpired.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if e.ExpiresAt != nil && !s.clock.Now().Before(*e.ExpiresAt) {
		delete(s.entries, key)
		if err := s.saveLocked(); err != nil {
			return "", err
		}
		return "", ErrExpired
	}
	plain, err := s.codec.Decode(e.Value)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	return string(plain), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.saveLocked()
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	return s.saveLocked()
}

// Keys lists stored keys, including expired ones not yet read.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// saveLocked writes the file through a temp file so a crash never leaves a
// truncated store behind.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*")
	if err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}
