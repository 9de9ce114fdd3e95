package cache

import (
	"context"
	"fmt"
	"io"
	"strings"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/store"
	"github.com/wolfeidau/artifact-cache/telemetry"
)

// derivedRepository names the source of digest files computed locally.
const derivedRepository = "derived"

// deriveDigest produces the digest file key when no repository serves it:
// the main artifact base is resolved through the cache and, once
// published, its digest is written as the digest file.
func (f *Facade) deriveDigest(ctx context.Context, bp *repository.BuildPolicy, key store.Key, alg artifactcache.Algorithm, base string) (*artifactcache.ArtifactResult, error) {
	main, err := f.FetchArtifact(ctx, bp.Name, key.Coordinate().WithTarget(base), true)
	if err != nil || main == nil {
		return nil, err
	}
	defer func() { _ = main.Close() }()

	if main.Meta(artifactcache.MetaCache) == artifactcache.CacheRejected {
		f.logger.Debug("not deriving digest of rejected artifact", "policy", bp.Name, "key", key.Path())
		return nil, nil
	}

	d := artifactcache.NewDigester()
	if _, err := io.Copy(d, main.Data); err != nil {
		return nil, fmt.Errorf("digesting %s: %w", base, err)
	}
	digest := d.Sum(alg)

	var result *artifactcache.ArtifactResult
	err = f.store.WithLock(ctx, key, func() error {
		hit, err := f.lookup(ctx, key)
		if err != nil || hit != nil {
			result = hit
			return err
		}

		n, err := f.store.Publish(ctx, key, strings.NewReader(digest.Hex))
		if err != nil {
			return err
		}
		f.logger.Info("published derived digest", "policy", bp.Name, "key", key.Path(), "digest", digest.String())
		telemetry.RecordPublish(ctx, bp.Name, n)
		dd := artifactcache.NewDigester()
		_, _ = dd.Write([]byte(digest.Hex))
		f.recordEntry(ctx, bp, derivedRepository, key, dd, n)

		entry, err := f.store.Lookup(ctx, key)
		if err != nil {
			return fmt.Errorf("reading published %s: %w", key, err)
		}
		result = &artifactcache.ArtifactResult{
			Data:         entry.Data,
			Size:         entry.Size,
			ExpectedHash: "",
			Metadata: map[string]string{
				artifactcache.MetaCache:      artifactcache.CacheMiss,
				artifactcache.MetaRepository: derivedRepository,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
