package artifactcache

import (
	"fmt"
	"strings"
)

// MetadataFile is the name of the Maven repository metadata file.
const MetadataFile = "maven-metadata.xml"

// TempFilePrefix marks in-progress writes in the storage backend. Segments
// carrying it are reserved and never valid in a coordinate.
const TempFilePrefix = ".tmp-"

// Coordinate identifies one artifact file within a group's namespace.
// Target is the file name, e.g. "x.jar", "x.jar.sha1" or "x.pom".
type Coordinate struct {
	Group    string
	Artifact string
	Version  string
	Target   string
}

// String returns the coordinate in group:artifact:version:target form.
func (c Coordinate) String() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version + ":" + c.Target
}

// GroupPath returns the group as a slash separated path.
func (c Coordinate) GroupPath() string {
	return GroupPath(c.Group)
}

// Path returns the repository relative path of the artifact file.
func (c Coordinate) Path() string {
	return c.GroupPath() + "/" + c.Artifact + "/" + c.Version + "/" + c.Target
}

// WithTarget returns a copy of the coordinate naming a different file in
// the same version directory.
func (c Coordinate) WithTarget(target string) Coordinate {
	c.Target = target
	return c
}

// Validate checks that every part is a usable path segment.
func (c Coordinate) Validate() error {
	if err := ValidateGroup(c.Group); err != nil {
		return err
	}
	for _, part := range []struct{ name, value string }{
		{"artifact", c.Artifact},
		{"version", c.Version},
		{"target", c.Target},
	} {
		if err := validateSegment(part.value); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidCoordinate, part.name, part.value, err)
		}
	}
	return nil
}

// GroupPath converts a Maven group to a path. Dotted groups become
// nested directories. Groups already in path form are kept as they are, so
// a segment such as scala-library_2.13 survives.
//
//	org.apache.commons -> org/apache/commons
func GroupPath(group string) string {
	if strings.Contains(group, "/") {
		return strings.Trim(group, "/")
	}
	return strings.ReplaceAll(group, ".", "/")
}

// ValidateGroup checks a group for use as a sequence of path segments.
func ValidateGroup(group string) error {
	if group == "" {
		return fmt.Errorf("%w: empty group", ErrInvalidCoordinate)
	}
	if strings.HasPrefix(group, "/") {
		return fmt.Errorf("%w: absolute group %q", ErrInvalidCoordinate, group)
	}
	for _, seg := range strings.Split(GroupPath(group), "/") {
		if err := validateSegment(seg); err != nil {
			return fmt.Errorf("%w: group %q: %v", ErrInvalidCoordinate, group, err)
		}
	}
	return nil
}

// ValidateTarget checks a file name for use as a single path segment.
func ValidateTarget(target string) error {
	if err := validateSegment(target); err != nil {
		return fmt.Errorf("%w: target %q: %v", ErrInvalidCoordinate, target, err)
	}
	return nil
}

func validateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty segment")
	case s == "." || s == "..":
		return fmt.Errorf("relative segment")
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("contains a path separator")
	case strings.HasPrefix(s, TempFilePrefix):
		return fmt.Errorf("reserved prefix %q", TempFilePrefix)
	}
	return nil
}

// RepositoryPath is a file within a Maven2 layout repository.
type RepositoryPath struct {
	// Metadata is set for group level files: maven-metadata.xml and its
	// digest files.
	Metadata bool

	// Group is the group path. For metadata of an artifact it includes
	// the artifact directory.
	Group string

	// Coordinate names the file. Only Target is set for metadata.
	Coordinate Coordinate
}

// ParseRepositoryPath splits a path relative to a repository root into a
// metadata file (group/maven-metadata.xml[.digest]) or an artifact file
// (group/artifact/version/target). Parts are not validated.
func ParseRepositoryPath(p string) (RepositoryPath, error) {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	n := len(segments)
	last := segments[n-1]

	base := last
	if _, b, ok := DigestTarget(last); ok {
		base = b
	}
	if base == MetadataFile {
		if n < 2 {
			return RepositoryPath{}, fmt.Errorf("%w: metadata path %q has no group", ErrInvalidCoordinate, p)
		}
		return RepositoryPath{
			Metadata:   true,
			Group:      strings.Join(segments[:n-1], "/"),
			Coordinate: Coordinate{Target: last},
		}, nil
	}

	if n < 4 {
		return RepositoryPath{}, fmt.Errorf("%w: path %q needs group/artifact/version/file", ErrInvalidCoordinate, p)
	}
	group := strings.Join(segments[:n-3], "/")
	return RepositoryPath{
		Group: group,
		Coordinate: Coordinate{
			Group:    group,
			Artifact: segments[n-3],
			Version:  segments[n-2],
			Target:   last,
		},
	}, nil
}
