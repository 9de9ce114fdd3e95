package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	artifactcache "github.com/wolfeidau/artifact-cache"
)

const tempPrefix = artifactcache.TempFilePrefix

// Filesystem implements Backend using the local filesystem.
// Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root string
}

// NewFilesystem creates a new filesystem backend rooted at the given path.
// The directory will be created if it does not exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Write stores data at the given key using atomic write.
func (fs *Filesystem) Write(ctx context.Context, key string, r io.Reader) error {
	st, err := fs.Stage(ctx, key)
	if err != nil {
		return err
	}
	if _, err := CopyContext(ctx, st, r); err != nil {
		_ = st.Abort()
		return fmt.Errorf("writing data: %w", err)
	}
	return st.Commit()
}

// Read retrieves data at the given key.
func (fs *Filesystem) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.keyToPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Delete removes data at the given key.
func (fs *Filesystem) Delete(ctx context.Context, key string) error {
	path, err := fs.keyToPath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// Exists checks if a key exists.
func (fs *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.keyToPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking file: %w", err)
}

// List returns all keys with the given prefix.
func (fs *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	dir := fs.root
	if prefix != "" {
		var err error
		if dir, err = fs.keyToPath(prefix); err != nil {
			return nil, err
		}
	}

	// Check if the path exists
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}

	// If it's a file, return just that key
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var keys []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip temp files
		if strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(fs.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return keys, nil
}

// Size returns the size of the data at the given key.
func (fs *Filesystem) Size(ctx context.Context, key string) (int64, error) {
	path, err := fs.keyToPath(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return 0, ErrNotFound
	}
	return info.Size(), nil
}

// Stage creates a temp file next to the destination. Temp files are
// skipped by List and never match a key.
func (fs *Filesystem) Stage(ctx context.Context, key string) (Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fs.keyToPath(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return &stagedFile{
		f:       tmp,
		tmpPath: tmp.Name(),
		dstPath: path,
	}, nil
}

// keyToPath converts a key to a filesystem path, rejecting keys that
// escape the root.
func (fs *Filesystem) keyToPath(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, '\\') {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean("/" + key)
	if clean == "/" || clean != "/"+strings.TrimSuffix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(clean[1:], "/") {
		if strings.HasPrefix(seg, tempPrefix) {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return filepath.Join(fs.root, filepath.FromSlash(clean[1:])), nil
}

// stagedFile is a temp file awaiting commit.
type stagedFile struct {
	f       *os.File
	tmpPath string
	dstPath string
	n       int64
	done    bool
}

// Write implements io.Writer.
func (s *stagedFile) Write(p []byte) (int, error) {
	if s.done {
		return 0, os.ErrClosed
	}
	n, err := s.f.Write(p)
	s.n += int64(n)
	return n, err
}

func (s *stagedFile) Size() int64 {
	return s.n
}

// Commit syncs the temp file and renames it into place.
func (s *stagedFile) Commit() error {
	if s.done {
		return os.ErrClosed
	}
	s.done = true

	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		_ = os.Remove(s.tmpPath)
		return fmt.Errorf("syncing file: %w", err)
	}

	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(s.tmpPath, s.dstPath); err != nil {
		_ = os.Remove(s.tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// Abort cancels the write and removes the temp file.
func (s *stagedFile) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.f.Close()
	if err := os.Remove(s.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing temp file: %w", err)
	}
	return nil
}

// Discard rewinds the temp file and hands it to the caller. The file is
// unlinked on Close.
func (s *stagedFile) Discard() (io.ReadCloser, error) {
	if s.done {
		return nil, os.ErrClosed
	}
	s.done = true
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		_ = s.f.Close()
		_ = os.Remove(s.tmpPath)
		return nil, fmt.Errorf("rewinding temp file: %w", err)
	}
	return &discardedFile{File: s.f, path: s.tmpPath}, nil
}

type discardedFile struct {
	*os.File
	path string
}

func (d *discardedFile) Close() error {
	err := d.File.Close()
	if rmErr := os.Remove(d.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// CopyContext copies src to dst, checking ctx between reads so a
// cancelled caller stops a long transfer.
func CopyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

// Compile-time interface checks
var (
	_ Backend          = (*Filesystem)(nil)
	_ SizeAwareBackend = (*Filesystem)(nil)
	_ StagingBackend   = (*Filesystem)(nil)
)
