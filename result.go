package artifactcache

import "io"

// Metadata keys set by the cache engine on returned results.
const (
	MetaCache      = "cache"
	MetaRepository = "repository"
)

// Values of MetaCache.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheRejected = "rejected"
)

// ArtifactResult is an artifact or metadata file fetched from a repository
// or served from the local store.
//
// The caller owns Data and must close it.
type ArtifactResult struct {
	// Data streams the file content.
	Data io.ReadCloser

	// Size is the declared content length, or -1 when unknown.
	Size int64

	// ExpectedHash is the checksum the source declares for the content,
	// either plain hex or "algorithm:hex". Empty when the source cannot
	// supply one.
	ExpectedHash string

	// Metadata carries informational key-value pairs.
	Metadata map[string]string
}

// Close releases the underlying stream.
func (r *ArtifactResult) Close() error {
	if r == nil || r.Data == nil {
		return nil
	}
	return r.Data.Close()
}

// Meta returns the metadata value for key, or "".
func (r *ArtifactResult) Meta(key string) string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}
