package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/backend"
)

var testCoord = artifactcache.Coordinate{
	Group:    "org.apache.commons",
	Artifact: "commons-lang3",
	Version:  "3.12.0",
	Target:   "commons-lang3-3.12.0.jar",
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := backend.NewFilesystem(root)
	require.NoError(t, err)
	return New(fs), fs.Root()
}

func TestKeyPath(t *testing.T) {
	k := ArtifactKey("release", testCoord)
	assert.Equal(t, "release/org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar", k.Path())
	assert.False(t, k.IsMetadata())

	m := MetadataKey("release", "org.apache.commons", "maven-metadata.xml")
	assert.Equal(t, "release/org/apache/commons/maven-metadata.xml", m.Path())
	assert.True(t, m.IsMetadata())

	sha := k.WithTarget("commons-lang3-3.12.0.jar.sha1")
	assert.Equal(t, "release/org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar.sha1", sha.Path())
}

func TestKeyValidate(t *testing.T) {
	require.NoError(t, ArtifactKey("release", testCoord).Validate())
	require.NoError(t, MetadataKey("release", "org.example", "maven-metadata.xml").Validate())

	bad := []Key{
		ArtifactKey("", testCoord),
		ArtifactKey("..", testCoord),
		ArtifactKey("a/b", testCoord),
		ArtifactKey("release", testCoord.WithTarget("../x.jar")),
		MetadataKey("release", "", "maven-metadata.xml"),
		MetadataKey("release", "org.example", ".."),
	}
	for _, k := range bad {
		err := k.Validate()
		require.Error(t, err, k.Path())
		assert.ErrorIs(t, err, artifactcache.ErrInvalidCoordinate)
	}
}

func TestLookupNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Lookup(context.Background(), ArtifactKey("release", testCoord))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPublishLookup(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()
	key := ArtifactKey("release", testCoord)
	data := []byte("jar bytes")

	n, err := s.Publish(ctx, key, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(key.Path())))
	require.NoError(t, err)

	e, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	defer func() { _ = e.Data.Close() }()

	got, err := io.ReadAll(e.Data)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), e.Size)

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPublishPoliciesAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Publish(ctx, ArtifactKey("release", testCoord), strings.NewReader("release"))
	require.NoError(t, err)

	_, err = s.Lookup(ctx, ArtifactKey("snapshot", testCoord))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPublishFailedCopyLeavesNothing(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()
	key := ArtifactKey("release", testCoord)

	r := io.MultiReader(strings.NewReader("partial"), errReader{errors.New("upstream reset")})
	_, err := s.Publish(ctx, key, r)
	require.Error(t, err)

	_, err = s.Lookup(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	assertNoFiles(t, root)
}

func TestPublishCancelled(t *testing.T) {
	s, root := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Publish(ctx, ArtifactKey("release", testCoord), strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)
	assertNoFiles(t, root)
}

func TestStageDiscardNotVisible(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()
	key := ArtifactKey("release", testCoord)

	st, err := s.Stage(ctx, key)
	require.NoError(t, err)
	_, err = st.Write([]byte("rejected"))
	require.NoError(t, err)

	rc, err := st.Discard()
	require.NoError(t, err)

	_, err = s.Lookup(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "rejected", string(got))
	require.NoError(t, rc.Close())

	assertNoFiles(t, root)
}

func TestWithLockSerializesSameKey(t *testing.T) {
	s, _ := newTestStore(t)
	key := ArtifactKey("release", testCoord)

	var active, maxActive int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return s.WithLock(ctx, key, func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxActive)
	assert.Zero(t, s.lockCount())
}

func TestWithLockDifferentKeysDoNotContend(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a := ArtifactKey("release", testCoord)
	b := ArtifactKey("release", testCoord.WithTarget("commons-lang3-3.12.0.pom"))

	err := s.WithLock(ctx, a, func() error {
		done := make(chan error, 1)
		go func() {
			done <- s.WithLock(ctx, b, func() error { return nil })
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("lock on a different key blocked")
		}
	})
	require.NoError(t, err)
}

func TestWithLockHonoursCancellation(t *testing.T) {
	s, _ := newTestStore(t)
	key := ArtifactKey("release", testCoord)

	err := s.WithLock(context.Background(), key, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		return s.WithLock(ctx, key, func() error {
			return errors.New("acquired a held lock")
		})
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, s.lockCount())
}

func TestWithLockReturnsFnError(t *testing.T) {
	s, _ := newTestStore(t)
	want := errors.New("boom")
	err := s.WithLock(context.Background(), ArtifactKey("release", testCoord), func() error { return want })
	require.ErrorIs(t, err, want)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func assertNoFiles(t *testing.T, root string) {
	t.Helper()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			t.Errorf("unexpected file %s", path)
		}
		return nil
	})
	require.NoError(t, err)
}
