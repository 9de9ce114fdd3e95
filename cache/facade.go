// Package cache resolves artifact requests against build policies, keeping
// verified copies in the local store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/backend"
	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/store"
	"github.com/wolfeidau/artifact-cache/store/metadb"
	"github.com/wolfeidau/artifact-cache/telemetry"
)

// Index records cache activity. Failures are logged and never fail a fetch.
type Index interface {
	PutEntry(ctx context.Context, entry *metadb.Entry) error
	TouchEntry(ctx context.Context, key string) (int64, error)
	RecordRejection(ctx context.Context, rej *metadb.Rejection) error
}

// Facade is the cache engine. It is safe for concurrent use.
type Facade struct {
	policies *repository.Policies
	store    *store.Store
	index    Index
	logger   *slog.Logger
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = logger
	}
}

// WithIndex records published entries, hits and rejections in idx.
func WithIndex(idx Index) Option {
	return func(f *Facade) {
		f.index = idx
	}
}

// New creates a cache engine over policies and st.
func New(policies *repository.Policies, st *store.Store, opts ...Option) *Facade {
	f := &Facade{
		policies: policies,
		store:    st,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// fetchFunc asks one repository for the file being resolved.
type fetchFunc func(ctx context.Context, repo *repository.Repository) (*artifactcache.ArtifactResult, error)

// FetchArtifact returns the file named by coord under policy, serving it
// from the store when present and otherwise from the first repository in
// the policy that has it. A (nil, nil) return means no repository has it.
//
// With tracked set, a main artifact is also verified against any digest
// files already cached beside it, and a digest file that no repository
// serves is derived from its cached main artifact.
func (f *Facade) FetchArtifact(ctx context.Context, policy string, coord artifactcache.Coordinate, tracked bool) (*artifactcache.ArtifactResult, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}
	bp, err := f.policies.Lookup(policy)
	if err != nil {
		return nil, err
	}
	key := store.ArtifactKey(policy, coord)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	alg, base, isDigest := artifactcache.DigestTarget(coord.Target)

	fetch := func(ctx context.Context, repo *repository.Repository) (*artifactcache.ArtifactResult, error) {
		return repo.Client.FetchArtifact(ctx, coord.Group, coord.Artifact, coord.Version, coord.Target)
	}

	res, err := f.resolve(ctx, bp, key, fetch, tracked && !isDigest)
	if err != nil || res != nil || !tracked || !isDigest {
		return res, err
	}

	return f.deriveDigest(ctx, bp, key, alg, base)
}

// FetchMetadata returns a group level metadata file such as
// maven-metadata.xml or its digest files.
func (f *Facade) FetchMetadata(ctx context.Context, policy, group, target string) (*artifactcache.ArtifactResult, error) {
	if err := artifactcache.ValidateGroup(group); err != nil {
		return nil, err
	}
	if err := artifactcache.ValidateTarget(target); err != nil {
		return nil, err
	}
	bp, err := f.policies.Lookup(policy)
	if err != nil {
		return nil, err
	}
	key := store.MetadataKey(policy, group, target)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, repo *repository.Repository) (*artifactcache.ArtifactResult, error) {
		return repo.Client.FetchMetadata(ctx, group, target)
	}
	return f.resolve(ctx, bp, key, fetch, false)
}

// resolve serves key from the store or, under the key's lock, fetches,
// verifies and publishes it.
func (f *Facade) resolve(ctx context.Context, bp *repository.BuildPolicy, key store.Key, fetch fetchFunc, checkSiblings bool) (*artifactcache.ArtifactResult, error) {
	logger := f.logger.With("policy", bp.Name, "key", key.Path())

	hit, err := f.lookup(ctx, key)
	if err != nil || hit != nil {
		return hit, err
	}

	var result *artifactcache.ArtifactResult
	err = f.store.WithLock(ctx, key, func() error {
		// Another caller may have published while we waited.
		hit, err := f.lookup(ctx, key)
		if err != nil || hit != nil {
			result = hit
			return err
		}

		telemetry.RecordCacheLookup(ctx, bp.Name, telemetry.CacheMiss)
		logger.Debug("cache miss")

		upstream, repo, err := f.fallback(ctx, bp, fetch)
		if err != nil {
			return err
		}
		if upstream == nil {
			logger.Debug("not found in any repository", "repositories", bp.RepositoryNames())
			return nil
		}

		var expected []expectation
		if checkSiblings {
			expected = f.siblingDigests(ctx, key)
		}
		result, err = f.verifyAndPublish(ctx, logger, bp, key, repo, upstream, expected)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lookup returns the stored file for key, or (nil, nil) when absent.
func (f *Facade) lookup(ctx context.Context, key store.Key) (*artifactcache.ArtifactResult, error) {
	entry, err := f.store.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up %s: %w", key, err)
	}

	telemetry.RecordCacheLookup(ctx, key.Policy, telemetry.CacheHit)
	f.logger.Debug("cache hit", "policy", key.Policy, "key", key.Path(), "size", entry.Size)
	if f.index != nil {
		if _, err := f.index.TouchEntry(ctx, key.Path()); err != nil && !errors.Is(err, metadb.ErrNotFound) {
			f.logger.Warn("recording cache hit", "key", key.Path(), "error", err)
		}
	}

	return &artifactcache.ArtifactResult{
		Data: entry.Data,
		Size: entry.Size,
		Metadata: map[string]string{
			artifactcache.MetaCache: artifactcache.CacheHit,
		},
	}, nil
}

// fallback asks each repository in order. The first result wins; a
// repository error stops the search.
func (f *Facade) fallback(ctx context.Context, bp *repository.BuildPolicy, fetch fetchFunc) (*artifactcache.ArtifactResult, *repository.Repository, error) {
	for _, repo := range bp.Repositories {
		res, err := fetch(ctx, repo)
		if err != nil {
			return nil, nil, &artifactcache.RepositoryError{Repository: repo.Name, Err: err}
		}
		if res != nil {
			if res.Data == nil {
				return nil, nil, &artifactcache.RepositoryError{Repository: repo.Name, Err: errors.New("result has no data")}
			}
			return res, repo, nil
		}
	}
	return nil, nil, nil
}

// verifyAndPublish streams upstream into a staged file while digesting it.
// Verified content is published and returned from the store; content that
// fails verification is returned from the staged file and never published.
func (f *Facade) verifyAndPublish(ctx context.Context, logger *slog.Logger, bp *repository.BuildPolicy, key store.Key, repo *repository.Repository, upstream *artifactcache.ArtifactResult, expected []expectation) (*artifactcache.ArtifactResult, error) {
	defer func() { _ = upstream.Data.Close() }()
	logger = logger.With("repository", repo.Name)

	st, err := f.store.Stage(ctx, key)
	if err != nil {
		return nil, err
	}

	digester := artifactcache.NewDigester()
	writers := []io.Writer{st, digester}
	digestAlg, _, isDigest := artifactcache.DigestTarget(key.Target)
	head := &prefixWriter{limit: maxDigestFileSize}
	if isDigest {
		writers = append(writers, head)
	}
	src := &readErrTracker{r: upstream.Data}
	n, err := backend.CopyContext(ctx, io.MultiWriter(writers...), src)
	if err != nil {
		_ = st.Abort()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if src.err != nil {
			return nil, &artifactcache.RepositoryError{Repository: repo.Name, Err: fmt.Errorf("reading %s: %w", key.Target, src.err)}
		}
		return nil, fmt.Errorf("staging %s: %w", key, err)
	}

	if upstream.ExpectedHash != "" {
		expected = append(expected, expectation{source: "upstream", raw: upstream.ExpectedHash})
	}

	meta := maps.Clone(upstream.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta[artifactcache.MetaRepository] = repo.Name

	mismatch := verify(key, digester, n, upstream.Size, expected)
	if mismatch == nil && isDigest {
		mismatch = verifyDigestFile(key, digestAlg, head.buf, n)
	}
	if mismatch != nil {
		rc, err := st.Discard()
		if err != nil {
			return nil, fmt.Errorf("discarding %s: %w", key, err)
		}
		logger.Warn("rejected artifact", "error", mismatch)
		telemetry.RecordHashMismatch(ctx, bp.Name, repo.Name)
		f.recordRejection(ctx, bp, repo, mismatch)

		meta[artifactcache.MetaCache] = artifactcache.CacheRejected
		return &artifactcache.ArtifactResult{
			Data:         rc,
			Size:         n,
			ExpectedHash: upstream.ExpectedHash,
			Metadata:     meta,
		}, nil
	}

	if err := st.Commit(); err != nil {
		return nil, fmt.Errorf("publishing %s: %w", key, err)
	}
	logger.Info("published", "size", n, "verified", len(expected) > 0, "blake3", digester.Hash().Short())
	telemetry.RecordPublish(ctx, bp.Name, n)
	f.recordEntry(ctx, bp, repo.Name, key, digester, n)

	entry, err := f.store.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading published %s: %w", key, err)
	}
	meta[artifactcache.MetaCache] = artifactcache.CacheMiss
	return &artifactcache.ArtifactResult{
		Data:         entry.Data,
		Size:         entry.Size,
		ExpectedHash: upstream.ExpectedHash,
		Metadata:     meta,
	}, nil
}

func (f *Facade) recordEntry(ctx context.Context, bp *repository.BuildPolicy, repo string, key store.Key, d *artifactcache.Digester, n int64) {
	if f.index == nil {
		return
	}
	err := f.index.PutEntry(ctx, &metadb.Entry{
		Key:        key.Path(),
		Policy:     bp.Name,
		Repository: repo,
		Size:       n,
		SHA1:       d.Sum(artifactcache.AlgSHA1).Hex,
		BLAKE3:     d.Hash().String(),
	})
	if err != nil {
		f.logger.Warn("recording entry", "key", key.Path(), "error", err)
	}
}

func (f *Facade) recordRejection(ctx context.Context, bp *repository.BuildPolicy, repo *repository.Repository, mismatch *artifactcache.HashMismatchError) {
	if f.index == nil {
		return
	}
	err := f.index.RecordRejection(ctx, &metadb.Rejection{
		Key:        mismatch.Key,
		Policy:     bp.Name,
		Repository: repo.Name,
		Expected:   mismatch.Expected,
		Actual:     mismatch.Actual,
	})
	if err != nil {
		f.logger.Warn("recording rejection", "key", mismatch.Key, "error", err)
	}
}

// readErrTracker remembers the error returned by the wrapped reader so
// upstream failures can be told apart from local write failures.
type readErrTracker struct {
	r   io.Reader
	err error
}

func (t *readErrTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

var _ Index = (*metadb.BoltDB)(nil)
