// Package local implements a repository client over a directory in the
// Maven2 layout, such as a build machine's ~/.m2/repository or a mounted
// artifact share.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/backend"
	"github.com/wolfeidau/artifact-cache/repository"
)

// Client reads artifacts from a local directory.
type Client struct {
	fs     *backend.Filesystem
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client reading from root. The directory is created if it
// does not exist.
func New(root string, opts ...Option) (*Client, error) {
	fs, err := backend.NewFilesystem(root)
	if err != nil {
		return nil, fmt.Errorf("opening local repository: %w", err)
	}
	c := &Client{fs: fs, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the repository directory.
func (c *Client) Root() string {
	return c.fs.Root()
}

// FetchArtifact opens group/artifact/version/target.
func (c *Client) FetchArtifact(ctx context.Context, group, artifact, version, target string) (*artifactcache.ArtifactResult, error) {
	coord := artifactcache.Coordinate{Group: group, Artifact: artifact, Version: version, Target: target}
	return c.open(ctx, coord.Path(), target)
}

// FetchMetadata opens group/target.
func (c *Client) FetchMetadata(ctx context.Context, group, target string) (*artifactcache.ArtifactResult, error) {
	return c.open(ctx, artifactcache.GroupPath(group)+"/"+target, target)
}

func (c *Client) open(ctx context.Context, key, target string) (*artifactcache.ArtifactResult, error) {
	rc, err := c.fs.Read(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrInvalidKey) {
			return nil, nil
		}
		return nil, err
	}

	size, err := c.fs.Size(ctx, key)
	if err != nil {
		size = -1
	}

	result := &artifactcache.ArtifactResult{
		Data:     rc,
		Size:     size,
		Metadata: map[string]string{"path": key},
	}

	if _, _, isDigest := artifactcache.DigestTarget(target); !isDigest {
		result.ExpectedHash = c.readChecksum(ctx, key+artifactcache.AlgSHA1.Suffix())
	}
	return result, nil
}

func (c *Client) readChecksum(ctx context.Context, key string) string {
	rc, err := c.fs.Read(ctx, key)
	if err != nil {
		return ""
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, 1024))
	if err != nil {
		return ""
	}
	d, err := artifactcache.ParseDigest(string(data))
	if err != nil {
		c.logger.Warn("ignoring malformed checksum", "path", key, "error", err)
		return ""
	}
	return d.String()
}

var _ repository.Client = (*Client)(nil)
