package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wolfeidau/artifact-cache/telemetry"
)

// InstrumentedBackend records a storage metric for every operation on the
// wrapped backend, labelled with name.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend wraps b.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) record(ctx context.Context, op string, start time.Time, err error, n int64) {
	telemetry.RecordBackendOp(ctx, ib.name, op, outcomeFromError(err), time.Since(start), n)
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	cr := &countingReader{Reader: r}
	err := ib.backend.Write(ctx, key, cr)
	ib.record(ctx, "write", start, err, cr.n)
	return err
}

// Read records on Close so the byte count covers what the caller consumed.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		ib.record(ctx, "read", start, err, 0)
		return nil, err
	}
	cr := &countingReader{Reader: rc}
	return &recordingCloser{
		Reader: cr,
		closer: rc,
		done:   func() { ib.record(ctx, "read", start, nil, cr.n) },
	}, nil
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	ib.record(ctx, "delete", start, err, 0)
	return err
}

func (ib *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := ib.backend.Exists(ctx, key)
	ib.record(ctx, "exists", start, err, 0)
	return ok, err
}

func (ib *InstrumentedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ib.backend.List(ctx, prefix)
	ib.record(ctx, "list", start, err, 0)
	return keys, err
}

func (ib *InstrumentedBackend) Size(ctx context.Context, key string) (int64, error) {
	sb, ok := ib.backend.(SizeAwareBackend)
	if !ok {
		return 0, ErrNotFound
	}
	start := time.Now()
	size, err := sb.Size(ctx, key)
	ib.record(ctx, "size", start, err, 0)
	return size, err
}

// Stage requires the wrapped backend to support staged writes. Commit is
// recorded with the staged size, measured from Stage.
func (ib *InstrumentedBackend) Stage(ctx context.Context, key string) (Staged, error) {
	sb, ok := ib.backend.(StagingBackend)
	if !ok {
		return nil, fmt.Errorf("backend %s does not support staged writes", ib.name)
	}
	start := time.Now()
	st, err := sb.Stage(ctx, key)
	if err != nil {
		ib.record(ctx, "stage", start, err, 0)
		return nil, err
	}
	return &instrumentedStaged{Staged: st, ib: ib, ctx: ctx, start: start}, nil
}

type instrumentedStaged struct {
	Staged
	ib    *InstrumentedBackend
	ctx   context.Context
	start time.Time
}

func (s *instrumentedStaged) Commit() error {
	err := s.Staged.Commit()
	s.ib.record(s.ctx, "commit", s.start, err, s.Size())
	return err
}

func (s *instrumentedStaged) Abort() error {
	err := s.Staged.Abort()
	s.ib.record(s.ctx, "abort", s.start, err, 0)
	return err
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

type countingReader struct {
	io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.n += int64(n)
	return n, err
}

// recordingCloser calls done once, on the first Close.
type recordingCloser struct {
	io.Reader
	closer io.Closer
	done   func()
	closed bool
}

func (r *recordingCloser) Close() error {
	err := r.closer.Close()
	if !r.closed {
		r.closed = true
		r.done()
	}
	return err
}

var (
	_ Backend          = (*InstrumentedBackend)(nil)
	_ SizeAwareBackend = (*InstrumentedBackend)(nil)
	_ StagingBackend   = (*InstrumentedBackend)(nil)
)
