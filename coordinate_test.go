package artifactcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupPath(t *testing.T) {
	assert.Equal(t, "org/apache/commons", GroupPath("org.apache.commons"))
	assert.Equal(t, "org/apache/commons", GroupPath("org/apache/commons"))
	assert.Equal(t, "junit", GroupPath("junit"))
	assert.Equal(t, "org/scala-lang/scala-library_2.13", GroupPath("org/scala-lang/scala-library_2.13"))
}

func TestCoordinatePath(t *testing.T) {
	c := Coordinate{Group: "org.apache.commons", Artifact: "commons-lang3", Version: "3.12.0", Target: "commons-lang3-3.12.0.jar"}
	assert.Equal(t, "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar", c.Path())
	assert.Equal(t, "org.apache.commons:commons-lang3:3.12.0:commons-lang3-3.12.0.jar", c.String())

	sha := c.WithTarget("commons-lang3-3.12.0.jar.sha1")
	assert.Equal(t, "commons-lang3-3.12.0.jar.sha1", sha.Target)
	assert.Equal(t, "commons-lang3-3.12.0.jar", c.Target)
}

func TestCoordinateValidate(t *testing.T) {
	valid := Coordinate{Group: "org.example", Artifact: "lib", Version: "1.0", Target: "lib-1.0.jar"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Coordinate)
	}{
		{"empty group", func(c *Coordinate) { c.Group = "" }},
		{"empty artifact", func(c *Coordinate) { c.Artifact = "" }},
		{"empty version", func(c *Coordinate) { c.Version = "" }},
		{"empty target", func(c *Coordinate) { c.Target = "" }},
		{"dotdot version", func(c *Coordinate) { c.Version = ".." }},
		{"dot artifact", func(c *Coordinate) { c.Artifact = "." }},
		{"slash in target", func(c *Coordinate) { c.Target = "../../etc/passwd" }},
		{"backslash in artifact", func(c *Coordinate) { c.Artifact = `a\b` }},
		{"absolute group", func(c *Coordinate) { c.Group = "/etc" }},
		{"traversal in group", func(c *Coordinate) { c.Group = "org/../../etc" }},
		{"empty group segment", func(c *Coordinate) { c.Group = "org..example" }},
		{"temp file target", func(c *Coordinate) { c.Target = ".tmp-x.jar" }},
		{"temp file version", func(c *Coordinate) { c.Version = ".tmp-123" }},
		{"temp file group segment", func(c *Coordinate) { c.Group = "org/.tmp-1/example" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCoordinate)
		})
	}
}

func TestRepositoryErrorIsTransport(t *testing.T) {
	var err error = &RepositoryError{Repository: "central", Err: assert.AnError}
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "central")
}

func TestParseRepositoryPath(t *testing.T) {
	tests := []struct {
		path    string
		want    RepositoryPath
		wantErr bool
	}{
		{
			path: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar",
			want: RepositoryPath{
				Group:      "org/apache/commons",
				Coordinate: Coordinate{Group: "org/apache/commons", Artifact: "commons-lang3", Version: "3.12.0", Target: "commons-lang3-3.12.0.jar"},
			},
		},
		{
			path: "/junit/junit/4.13.2/junit-4.13.2.pom.sha1",
			want: RepositoryPath{
				Group:      "junit",
				Coordinate: Coordinate{Group: "junit", Artifact: "junit", Version: "4.13.2", Target: "junit-4.13.2.pom.sha1"},
			},
		},
		{
			path: "org/scala-lang/scala-library_2.13/maven-metadata.xml",
			want: RepositoryPath{
				Metadata:   true,
				Group:      "org/scala-lang/scala-library_2.13",
				Coordinate: Coordinate{Target: "maven-metadata.xml"},
			},
		},
		{
			path: "org/example/maven-metadata.xml.sha256",
			want: RepositoryPath{
				Metadata:   true,
				Group:      "org/example",
				Coordinate: Coordinate{Target: "maven-metadata.xml.sha256"},
			},
		},
		{path: "maven-metadata.xml", wantErr: true},
		{path: "demo/1.0/demo-1.0.jar", wantErr: true},
		{path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseRepositoryPath(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCoordinate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
