package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/wolfeidau/artifact-cache/repository"
)

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate checks the configuration for values the proxy cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Listen == "" {
		return newFieldError("server.listen", "must not be empty")
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.RequestTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return newFieldError("server", "timeouts must not be negative")
	}
	if c.Storage.Path == "" {
		return newFieldError("storage.path", "must not be empty")
	}
	if !lo.Contains(logLevels, c.Log.Level) {
		return newFieldError("log.level", "must be one of "+strings.Join(logLevels, "|"))
	}
	if !lo.Contains(logFormats, c.Log.Format) {
		return newFieldError("log.format", "must be one of "+strings.Join(logFormats, "|"))
	}
	if c.Upstream.RetryMax < 0 {
		return newFieldError("upstream.retry_max", "must not be negative")
	}
	if c.Upstream.RetryWaitMin > c.Upstream.RetryWaitMax {
		return newFieldError("upstream.retry_wait_min", "must not exceed retry_wait_max")
	}

	if err := c.validateRepositories(); err != nil {
		return err
	}
	return c.validatePolicies()
}

func (c *Config) validateRepositories() error {
	seen := map[string]struct{}{}
	for _, r := range c.Repositories {
		if r.Name == "" {
			return newFieldError("repository[].name", "must not be empty")
		}
		if _, dup := seen[r.Name]; dup {
			return newFieldError(indexedField("repository", r.Name, "name"), "duplicate")
		}
		seen[r.Name] = struct{}{}

		if !r.Type.Valid() {
			return newFieldError(indexedField("repository", r.Name, "type"), "must be maven2 or file")
		}
		if r.URL == "" {
			return newFieldError(indexedField("repository", r.Name, "url"), "must not be empty")
		}
		if r.Type == repository.TypeMaven2 {
			u, err := url.Parse(r.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return newFieldError(indexedField("repository", r.Name, "url"), "must be an http(s) URL")
			}
		}
	}
	return nil
}

func (c *Config) validatePolicies() error {
	if len(c.Policies) == 0 {
		return newFieldError("policy", "at least one build policy is required")
	}

	known := lo.SliceToMap(c.Repositories, func(r RepositoryConfig) (string, struct{}) {
		return r.Name, struct{}{}
	})
	seen := map[string]struct{}{}
	for _, p := range c.Policies {
		if p.Name == "" {
			return newFieldError("policy[].name", "must not be empty")
		}
		if strings.ContainsAny(p.Name, `/\`) || p.Name == "." || p.Name == ".." {
			return newFieldError(indexedField("policy", p.Name, "name"), "must be a single path segment")
		}
		if _, dup := seen[p.Name]; dup {
			return newFieldError(indexedField("policy", p.Name, "name"), "duplicate")
		}
		seen[p.Name] = struct{}{}

		if dups := lo.FindDuplicates(p.Repositories); len(dups) > 0 {
			return newFieldError(indexedField("policy", p.Name, "repositories"), "lists "+dups[0]+" more than once")
		}
		for _, name := range p.Repositories {
			if _, ok := known[name]; !ok {
				return newFieldError(indexedField("policy", p.Name, "repositories"), "unknown repository "+name)
			}
		}
	}
	return nil
}
