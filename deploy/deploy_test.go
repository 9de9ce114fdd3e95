package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/backend"
)

var jar = artifactcache.Coordinate{
	Group:    "com.example.build",
	Artifact: "service",
	Version:  "2.3.1",
	Target:   "service-2.3.1.jar",
}

func newTestDeployer(t *testing.T, opts ...Option) (*Deployer, string) {
	t.Helper()
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return New(fs, opts...), fs.Root()
}

func TestDeploy(t *testing.T) {
	d, root := newTestDeployer(t)

	key, err := d.Deploy(context.Background(), jar, strings.NewReader("jar bytes"))
	require.NoError(t, err)
	assert.Equal(t, "com/example/build/service/2.3.1/service-2.3.1.jar", key)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "jar bytes", string(data))
}

func TestDeployWithPrefix(t *testing.T) {
	d, root := newTestDeployer(t, WithPrefix("releases"))

	key, err := d.Deploy(context.Background(), jar, strings.NewReader("jar bytes"))
	require.NoError(t, err)
	assert.Equal(t, "releases/com/example/build/service/2.3.1/service-2.3.1.jar", key)
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(key)))
}

func TestDeployReplaces(t *testing.T) {
	d, root := newTestDeployer(t)
	ctx := context.Background()

	_, err := d.Deploy(ctx, jar, strings.NewReader("first"))
	require.NoError(t, err)
	key, err := d.Deploy(ctx, jar, strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestDeployMetadata(t *testing.T) {
	d, root := newTestDeployer(t, WithPrefix("releases"))

	key, err := d.DeployMetadata(context.Background(), "com.example.build", artifactcache.MetadataFile, strings.NewReader("<metadata/>"))
	require.NoError(t, err)
	assert.Equal(t, "releases/com/example/build/maven-metadata.xml", key)
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(key)))
}

func TestDeployInvalid(t *testing.T) {
	d, _ := newTestDeployer(t)
	ctx := context.Background()

	_, err := d.Deploy(ctx, jar.WithTarget(".."), strings.NewReader("x"))
	assert.ErrorIs(t, err, artifactcache.ErrInvalidCoordinate)

	_, err = d.DeployMetadata(ctx, "", artifactcache.MetadataFile, strings.NewReader("x"))
	assert.ErrorIs(t, err, artifactcache.ErrInvalidCoordinate)

	_, err = d.DeployMetadata(ctx, "com.example", "a/b", strings.NewReader("x"))
	assert.ErrorIs(t, err, artifactcache.ErrInvalidCoordinate)
}
