// Package store provides the local on-disk artifact store: lookups,
// staged writes with atomic publish, and per-key locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wolfeidau/artifact-cache/backend"
)

// ErrNotFound is returned when a key is not present in the store.
var ErrNotFound = errors.New("store: not found")

// Backend is the storage the store publishes into.
type Backend interface {
	backend.StagingBackend
	Size(ctx context.Context, key string) (int64, error)
}

// Entry is an open file in the store. The caller must close Data.
type Entry struct {
	Key  Key
	Size int64
	Data io.ReadCloser
}

// Store keeps verified artifacts on disk under their key path.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store over b.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		logger:  slog.Default(),
		locks:   make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup opens the file for key. It never writes.
func (s *Store) Lookup(ctx context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	p := key.Path()

	rc, err := s.backend.Read(ctx, p)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	size, err := s.backend.Size(ctx, p)
	if err != nil {
		size = -1
	}

	return &Entry{Key: key, Size: size, Data: rc}, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, key.Path())
}

// Stage opens a pending write for key. Nothing is visible to Lookup until
// the returned value is committed.
func (s *Store) Stage(ctx context.Context, key Key) (backend.Staged, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	st, err := s.backend.Stage(ctx, key.Path())
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", key, err)
	}
	return st, nil
}

// Publish copies r into the store at key, replacing any existing file
// atomically. Nothing is published if the copy fails or ctx is cancelled.
func (s *Store) Publish(ctx context.Context, key Key, r io.Reader) (int64, error) {
	st, err := s.Stage(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := backend.CopyContext(ctx, st, r)
	if err != nil {
		_ = st.Abort()
		return n, fmt.Errorf("writing %s: %w", key, err)
	}
	if err := st.Commit(); err != nil {
		return n, fmt.Errorf("publishing %s: %w", key, err)
	}
	s.logger.Debug("published", "key", key.Path(), "size", n)
	return n, nil
}

// WithLock runs fn while holding the exclusive lock for key. Callers for
// different keys never wait on each other. Waiting stops with ctx's error
// if ctx is done before the lock is acquired.
func (s *Store) WithLock(ctx context.Context, key Key, fn func() error) error {
	p := key.Path()

	s.mu.Lock()
	l := s.locks[p]
	if l == nil {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		s.locks[p] = l
	}
	l.refs++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, p)
		}
		s.mu.Unlock()
	}()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	return fn()
}

// lockCount returns the number of keys with a lock holder or waiter.
func (s *Store) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
