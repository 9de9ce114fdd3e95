package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactcache "github.com/wolfeidau/artifact-cache"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestFetchArtifact(t *testing.T) {
	root := t.TempDir()
	data := "local jar"
	sha := artifactcache.ComputeDigest([]byte(data), artifactcache.AlgSHA1)
	writeFile(t, root, "org/example/lib/1.0/lib-1.0.jar", data)
	writeFile(t, root, "org/example/lib/1.0/lib-1.0.jar.sha1", sha.Hex+"\n")

	c, err := New(root)
	require.NoError(t, err)

	res, err := c.FetchArtifact(context.Background(), "org.example", "lib", "1.0", "lib-1.0.jar")
	require.NoError(t, err)
	require.NotNil(t, res)
	defer func() { _ = res.Close() }()

	got, err := io.ReadAll(res.Data)
	require.NoError(t, err)
	assert.Equal(t, data, string(got))
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, sha.String(), res.ExpectedHash)
}

func TestFetchArtifactNoChecksum(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "org/example/lib/1.0/lib-1.0.pom", "<project/>")

	c, err := New(root)
	require.NoError(t, err)

	res, err := c.FetchArtifact(context.Background(), "org.example", "lib", "1.0", "lib-1.0.pom")
	require.NoError(t, err)
	require.NotNil(t, res)
	defer func() { _ = res.Close() }()
	assert.Empty(t, res.ExpectedHash)
}

func TestFetchArtifactMissing(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	res, err := c.FetchArtifact(context.Background(), "org.example", "lib", "1.0", "lib-1.0.jar")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFetchArtifactTraversalIsMissing(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	res, err := c.FetchArtifact(context.Background(), "org.example", "..", "..", "passwd")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFetchMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "org/example/lib/maven-metadata.xml", "<metadata/>")

	c, err := New(root)
	require.NoError(t, err)

	res, err := c.FetchMetadata(context.Background(), "org.example.lib", "maven-metadata.xml")
	require.NoError(t, err)
	require.NotNil(t, res)
	defer func() { _ = res.Close() }()

	got, err := io.ReadAll(res.Data)
	require.NoError(t, err)
	assert.Equal(t, "<metadata/>", string(got))
}
