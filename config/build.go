package config

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/repository/local"
	"github.com/wolfeidau/artifact-cache/repository/maven"
)

// BuildPolicies creates a client for every configured repository and
// assembles the build policies. Repositories no policy names are skipped.
func (c *Config) BuildPolicies(logger *slog.Logger) (*repository.Policies, error) {
	used := lo.Uniq(lo.FlatMap(c.Policies, func(p PolicyConfig, _ int) []string {
		return p.Repositories
	}))

	repos := make(map[string]*repository.Repository, len(used))
	for _, rc := range c.Repositories {
		if !lo.Contains(used, rc.Name) {
			logger.Warn("repository not used by any build policy", "repository", rc.Name)
			continue
		}
		client, err := c.newClient(rc, logger)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
		}
		repos[rc.Name] = &repository.Repository{
			Name:    rc.Name,
			BaseURL: rc.URL,
			Type:    rc.Type,
			Client:  client,
		}
	}

	policies := lo.Map(c.Policies, func(p PolicyConfig, _ int) *repository.BuildPolicy {
		return &repository.BuildPolicy{
			Name: p.Name,
			Repositories: lo.Map(p.Repositories, func(name string, _ int) *repository.Repository {
				return repos[name]
			}),
		}
	})
	return repository.NewPolicies(policies...)
}

func (c *Config) newClient(rc RepositoryConfig, logger *slog.Logger) (repository.Client, error) {
	switch rc.Type {
	case repository.TypeMaven2:
		return maven.New(rc.URL,
			maven.WithName(rc.Name),
			maven.WithLogger(logger),
			maven.WithTimeout(durationOr(rc.Timeout, maven.DefaultTimeout)),
			maven.WithRetry(c.Upstream.RetryMax, c.Upstream.RetryWaitMin, c.Upstream.RetryWaitMax),
			maven.WithChecksumLookup(c.Upstream.Checksums),
		), nil
	case repository.TypeFile:
		return local.New(rc.URL, local.WithLogger(logger.With("repository", rc.Name)))
	default:
		return nil, fmt.Errorf("unsupported repository type %q", rc.Type)
	}
}
