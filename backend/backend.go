// Package backend provides storage backend abstractions for the artifact cache.
package backend

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned for keys that would resolve outside the
	// backend root.
	ErrInvalidKey = errors.New("invalid key")
)

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key.
	// If the key already exists, it should be overwritten.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	// The prefix should use "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// SizeAwareBackend extends Backend with size information.
type SizeAwareBackend interface {
	Backend

	// Size returns the size in bytes of the data at the given key.
	// Returns ErrNotFound if the key does not exist.
	Size(ctx context.Context, key string) (int64, error)
}

// StagingBackend extends Backend with staged writes, where the caller
// decides after writing whether the data is published at the key.
type StagingBackend interface {
	Backend

	// Stage opens a pending write for key. Nothing is visible at key until
	// Commit succeeds.
	Stage(ctx context.Context, key string) (Staged, error)
}

// Staged is a pending write. Exactly one of Commit, Abort or Discard
// should be called; later calls are no-ops or errors.
type Staged interface {
	io.Writer

	// Commit flushes the staged data and atomically publishes it at the key.
	Commit() error

	// Abort removes the staged data.
	Abort() error

	// Discard returns a reader over the staged data without publishing it.
	// The staged data is removed when the reader is closed.
	Discard() (io.ReadCloser, error)

	// Size returns the number of bytes written so far.
	Size() int64
}
