// Package deploy stores build outputs uploaded by build agents. Deployed
// files live in their own backend, separate from cached artifacts.
package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/backend"
)

// Deployer writes uploaded artifacts in Maven layout.
type Deployer struct {
	backend backend.Backend
	prefix  string
	logger  *slog.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithPrefix stores every deployed file below prefix.
func WithPrefix(prefix string) Option {
	return func(d *Deployer) {
		d.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// New creates a Deployer writing to b.
func New(b backend.Backend, opts ...Option) *Deployer {
	d := &Deployer{
		backend: b,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy stores r as {prefix}/{group path}/{artifact}/{version}/{target}
// and returns the stored path. An existing file is replaced.
func (d *Deployer) Deploy(ctx context.Context, coord artifactcache.Coordinate, r io.Reader) (string, error) {
	if err := coord.Validate(); err != nil {
		return "", err
	}
	return d.write(ctx, coord.Path(), r)
}

// DeployMetadata stores group level metadata such as maven-metadata.xml.
func (d *Deployer) DeployMetadata(ctx context.Context, group, target string, r io.Reader) (string, error) {
	if err := artifactcache.ValidateGroup(group); err != nil {
		return "", err
	}
	if err := artifactcache.ValidateTarget(target); err != nil {
		return "", err
	}
	return d.write(ctx, artifactcache.GroupPath(group)+"/"+target, r)
}

func (d *Deployer) write(ctx context.Context, rel string, r io.Reader) (string, error) {
	key := rel
	if d.prefix != "" {
		key = path.Join(d.prefix, rel)
	}
	if err := d.backend.Write(ctx, key, r); err != nil {
		return "", fmt.Errorf("deploying %s: %w", key, err)
	}
	d.logger.Info("deployed", "key", key)
	return key, nil
}
