// Package repository models the repositories artifacts are fetched from
// and the build policies that order them.
package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	artifactcache "github.com/wolfeidau/artifact-cache"
)

// Client fetches artifacts from one repository.
//
// A (nil, nil) return means the file does not exist at this repository.
// A non-nil error means the repository could not be asked.
type Client interface {
	FetchArtifact(ctx context.Context, group, artifact, version, target string) (*artifactcache.ArtifactResult, error)
	FetchMetadata(ctx context.Context, group, target string) (*artifactcache.ArtifactResult, error)
}

// Type identifies a repository layout.
type Type string

const (
	TypeMaven2 Type = "maven2"
	TypeFile   Type = "file"
)

// Valid reports whether t is a known repository type.
func (t Type) Valid() bool {
	return t == TypeMaven2 || t == TypeFile
}

// Repository is a named source of artifacts.
type Repository struct {
	Name    string
	BaseURL string
	Type    Type
	Client  Client
}

func (r *Repository) String() string {
	return fmt.Sprintf("%s(%s %s)", r.Name, r.Type, r.BaseURL)
}

// BuildPolicy is an ordered list of repositories consulted for a build.
// Order is significant: earlier repositories win.
type BuildPolicy struct {
	Name         string
	Repositories []*Repository
}

// RepositoryNames returns the repository names in policy order.
func (p *BuildPolicy) RepositoryNames() []string {
	return lo.Map(p.Repositories, func(r *Repository, _ int) string {
		return r.Name
	})
}

// Policies is the set of configured build policies. It is read-only after
// NewPolicies returns and safe for concurrent use.
type Policies struct {
	byName map[string]*BuildPolicy
}

// NewPolicies validates and indexes policies by name.
func NewPolicies(policies ...*BuildPolicy) (*Policies, error) {
	byName := make(map[string]*BuildPolicy, len(policies))
	for _, p := range policies {
		if p == nil || p.Name == "" {
			return nil, fmt.Errorf("build policy name required")
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate build policy %q", p.Name)
		}
		for i, r := range p.Repositories {
			if r == nil || r.Client == nil {
				return nil, fmt.Errorf("build policy %q: repository %d has no client", p.Name, i)
			}
		}
		if dups := lo.FindDuplicates(p.RepositoryNames()); len(dups) > 0 {
			return nil, fmt.Errorf("build policy %q: repository %q listed more than once", p.Name, dups[0])
		}
		byName[p.Name] = &BuildPolicy{
			Name:         p.Name,
			Repositories: append([]*Repository(nil), p.Repositories...),
		}
	}
	return &Policies{byName: byName}, nil
}

// Lookup returns the policy called name. Unknown names yield an error
// wrapping artifactcache.ErrUnknownPolicy.
func (p *Policies) Lookup(name string) (*BuildPolicy, error) {
	policy, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", artifactcache.ErrUnknownPolicy, name)
	}
	return policy, nil
}

// Names returns the policy names in sorted order.
func (p *Policies) Names() []string {
	names := lo.Keys(p.byName)
	sort.Strings(names)
	return names
}
