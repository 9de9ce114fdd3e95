package cache

import (
	"context"
	"fmt"
	"io"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/store"
)

// maxDigestFileSize bounds how much of a cached digest file is read.
const maxDigestFileSize = 1024

// expectation is a digest the fetched content must match. raw is parsed at
// verification time so an unparseable value rejects the content.
type expectation struct {
	source string
	alg    artifactcache.Algorithm // required algorithm, empty to infer
	raw    string
}

func (e expectation) parse() (artifactcache.Digest, error) {
	d, err := artifactcache.ParseDigest(e.raw)
	if err != nil {
		return artifactcache.Digest{}, err
	}
	if e.alg != "" && d.Alg != e.alg {
		return artifactcache.Digest{}, fmt.Errorf("expected %s digest, got %s", e.alg, d.Alg)
	}
	return d, nil
}

// verify checks content digested by d against the declared size and every
// expectation. It returns nil when all checks pass.
func verify(key store.Key, d *artifactcache.Digester, n, declaredSize int64, expected []expectation) *artifactcache.HashMismatchError {
	if declaredSize > 0 && n != declaredSize {
		return &artifactcache.HashMismatchError{
			Key:      key.Path(),
			Expected: fmt.Sprintf("size:%d", declaredSize),
			Actual:   fmt.Sprintf("size:%d", n),
		}
	}

	for _, e := range expected {
		want, err := e.parse()
		if err != nil {
			return &artifactcache.HashMismatchError{
				Key:      key.Path(),
				Expected: fmt.Sprintf("%s %q (%v)", e.source, e.raw, err),
				Actual:   d.Sum(artifactcache.AlgSHA1).String(),
			}
		}
		if !d.Verify(want) {
			return &artifactcache.HashMismatchError{
				Key:      key.Path(),
				Expected: want.String(),
				Actual:   d.Sum(want.Alg).String(),
			}
		}
	}
	return nil
}

// verifyDigestFile checks that the content of a digest file is a digest
// of alg. A digest file that cannot be read back as one would reject its
// artifact on every tracked fetch.
func verifyDigestFile(key store.Key, alg artifactcache.Algorithm, head []byte, n int64) *artifactcache.HashMismatchError {
	mismatch := func(reason string) *artifactcache.HashMismatchError {
		return &artifactcache.HashMismatchError{
			Key:      key.Path(),
			Expected: string(alg) + " digest file",
			Actual:   reason,
		}
	}
	if n > maxDigestFileSize {
		return mismatch(fmt.Sprintf("%d bytes", n))
	}
	d, err := artifactcache.ParseDigest(string(head))
	if err != nil {
		return mismatch(err.Error())
	}
	if d.Alg != alg {
		return mismatch(string(d.Alg) + " digest")
	}
	return nil
}

// prefixWriter keeps the first limit bytes written to it.
type prefixWriter struct {
	buf   []byte
	limit int
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		w.buf = append(w.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

// siblingDigests reads every digest file already cached beside key.
func (f *Facade) siblingDigests(ctx context.Context, key store.Key) []expectation {
	var expected []expectation
	for _, alg := range artifactcache.Algorithms {
		sibling := key.WithTarget(key.Target + alg.Suffix())
		entry, err := f.store.Lookup(ctx, sibling)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(entry.Data, maxDigestFileSize))
		_ = entry.Data.Close()
		if err != nil {
			f.logger.Warn("reading cached digest", "key", sibling.Path(), "error", err)
			continue
		}
		expected = append(expected, expectation{
			source: sibling.Target,
			alg:    alg,
			raw:    string(data),
		})
	}
	return expected
}
