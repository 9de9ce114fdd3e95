// Package maven implements a repository client for remote repositories in
// the Maven2 layout.
package maven

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/telemetry"
)

const (
	// DefaultRepositoryURL is Maven Central.
	DefaultRepositoryURL = "https://repo.maven.apache.org/maven2"

	// DefaultTimeout is the default timeout for upstream requests.
	DefaultTimeout = 30 * time.Second

	userAgent = "artifact-cache"

	// maxChecksumSize bounds the body read from a checksum sidecar.
	maxChecksumSize = 1024
)

// Client fetches files from a Maven2 layout repository over HTTP.
type Client struct {
	name      string
	baseURL   string
	http      *retryablehttp.Client
	logger    *slog.Logger
	checksums bool
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the repository name used in metrics and logs.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the per attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.HTTPClient.Timeout = d
	}
}

// WithRetry sets the retry count and wait bounds for failed requests.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = max
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithTransport sets the base round tripper beneath the instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.HTTPClient.Transport = rt
	}
}

// WithChecksumLookup controls whether a .sha1 sidecar is fetched to fill
// ExpectedHash. Enabled by default.
func WithChecksumLookup(enabled bool) Option {
	return func(c *Client) {
		c.checksums = enabled
	}
}

// New creates a client for the repository at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultRepositoryURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = DefaultTimeout

	c := &Client{
		name:      baseURL,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		http:      rc,
		logger:    slog.Default(),
		checksums: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger := c.logger.With("repository", c.name)
	rc.Logger = logger
	rc.HTTPClient.Transport = telemetry.NewInstrumentedTransport(rc.HTTPClient.Transport, c.name)
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil {
			_ = resp.Body.Close()
			logger.Warn("upstream request failed after retries",
				"url", resp.Request.URL.String(), "status_code", resp.StatusCode, "num_tries", numTries)
			return nil, fmt.Errorf("upstream returned %d after %d attempt(s)", resp.StatusCode, numTries)
		}
		logger.Warn("upstream request failed after retries", "error", err, "num_tries", numTries)
		return nil, fmt.Errorf("giving up after %d attempt(s): %w", numTries, err)
	}

	return c
}

// Name returns the repository name.
func (c *Client) Name() string {
	return c.name
}

// FetchArtifact fetches an artifact file, e.g. a jar, pom or checksum.
func (c *Client) FetchArtifact(ctx context.Context, group, artifact, version, target string) (*artifactcache.ArtifactResult, error) {
	coord := artifactcache.Coordinate{Group: group, Artifact: artifact, Version: version, Target: target}
	return c.fetch(ctx, coord.Path(), target)
}

// FetchMetadata fetches a group level metadata file.
func (c *Client) FetchMetadata(ctx context.Context, group, target string) (*artifactcache.ArtifactResult, error) {
	return c.fetch(ctx, artifactcache.GroupPath(group)+"/"+target, target)
}

// ArtifactURL returns the full URL for a repository path.
func (c *Client) ArtifactURL(path string) string {
	return c.baseURL + "/" + path
}

func (c *Client) fetch(ctx context.Context, path, target string) (*artifactcache.ArtifactResult, error) {
	url := c.ArtifactURL(path)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		c.logger.Debug("not found upstream", "repository", c.name, "url", url)
		return nil, nil
	}

	result := &artifactcache.ArtifactResult{
		Data: resp.Body,
		Size: resp.ContentLength,
		Metadata: map[string]string{
			"url": url,
		},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		result.Metadata["content-type"] = ct
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		result.Metadata["last-modified"] = lm
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		result.Metadata["etag"] = etag
	}

	if _, _, isDigest := artifactcache.DigestTarget(target); !isDigest && c.checksums {
		result.ExpectedHash = c.fetchChecksum(ctx, url+artifactcache.AlgSHA1.Suffix())
	}

	return result, nil
}

// get performs a GET. A 404 yields (nil, nil); other non-2xx responses
// and network failures are errors.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request %s: %w", url, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp, nil
}

// fetchChecksum returns the checksum published next to an artifact, or ""
// when there is none or it cannot be read.
func (c *Client) fetchChecksum(ctx context.Context, url string) string {
	resp, err := c.get(ctx, url)
	if err != nil {
		c.logger.Debug("checksum lookup failed", "repository", c.name, "url", url, "error", err)
		return ""
	}
	if resp == nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksumSize))
	if err != nil {
		c.logger.Debug("reading checksum failed", "repository", c.name, "url", url, "error", err)
		return ""
	}

	d, err := artifactcache.ParseDigest(string(data))
	if err != nil {
		c.logger.Warn("ignoring malformed checksum", "repository", c.name, "url", url, "error", err)
		return ""
	}
	return d.String()
}

var _ repository.Client = (*Client)(nil)
