package store

import (
	"fmt"
	"strings"

	artifactcache "github.com/wolfeidau/artifact-cache"
)

// Key addresses one file in the store. Metadata keys leave Artifact and
// Version empty.
type Key struct {
	Policy   string
	Group    string
	Artifact string
	Version  string
	Target   string
}

// ArtifactKey returns the key for an artifact fetched under policy.
func ArtifactKey(policy string, c artifactcache.Coordinate) Key {
	return Key{
		Policy:   policy,
		Group:    c.Group,
		Artifact: c.Artifact,
		Version:  c.Version,
		Target:   c.Target,
	}
}

// MetadataKey returns the key for a group level metadata file.
func MetadataKey(policy, group, target string) Key {
	return Key{Policy: policy, Group: group, Target: target}
}

// IsMetadata reports whether the key addresses group level metadata.
func (k Key) IsMetadata() bool {
	return k.Artifact == "" && k.Version == ""
}

// Coordinate returns the artifact coordinate of the key.
func (k Key) Coordinate() artifactcache.Coordinate {
	return artifactcache.Coordinate{Group: k.Group, Artifact: k.Artifact, Version: k.Version, Target: k.Target}
}

// WithTarget returns the key of another file in the same directory.
func (k Key) WithTarget(target string) Key {
	k.Target = target
	return k
}

// Path returns the relative store path:
//
//	policy/group-segments/artifact/version/target
//	policy/group-segments/target (metadata)
func (k Key) Path() string {
	parts := []string{k.Policy, artifactcache.GroupPath(k.Group)}
	if !k.IsMetadata() {
		parts = append(parts, k.Artifact, k.Version)
	}
	parts = append(parts, k.Target)
	return strings.Join(parts, "/")
}

func (k Key) String() string {
	return k.Path()
}

// Validate checks that every part of the key maps to a safe path segment.
func (k Key) Validate() error {
	if k.Policy == "" || k.Policy == "." || k.Policy == ".." || strings.ContainsAny(k.Policy, "/\\") {
		return fmt.Errorf("%w: policy %q", artifactcache.ErrInvalidCoordinate, k.Policy)
	}
	if k.IsMetadata() {
		if err := artifactcache.ValidateGroup(k.Group); err != nil {
			return err
		}
		return artifactcache.ValidateTarget(k.Target)
	}
	return k.Coordinate().Validate()
}
