package artifactcache

import (
	"crypto/md5"  //nolint:gosec // MD5 required for Maven protocol compatibility
	"crypto/sha1" //nolint:gosec // SHA1 is the Maven default checksum
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm identifies a checksum algorithm used by Maven repositories.
type Algorithm string

const (
	AlgMD5    Algorithm = "md5"
	AlgSHA1   Algorithm = "sha1"
	AlgSHA256 Algorithm = "sha256"
	AlgSHA512 Algorithm = "sha512"
)

// Algorithms lists the checksum algorithms in the order sibling digest
// files are consulted.
var Algorithms = []Algorithm{AlgSHA1, AlgSHA256, AlgSHA512, AlgMD5}

// hexLen returns the hex digest length for an algorithm.
func (a Algorithm) hexLen() int {
	switch a {
	case AlgMD5:
		return md5.Size * 2
	case AlgSHA1:
		return sha1.Size * 2
	case AlgSHA256:
		return sha256.Size * 2
	case AlgSHA512:
		return sha512.Size * 2
	default:
		return 0
	}
}

// Suffix returns the file suffix used for digest files, e.g. ".sha1".
func (a Algorithm) Suffix() string {
	return "." + string(a)
}

// Digest is an expected or computed checksum, combining an algorithm with
// a lowercase hex value.
type Digest struct {
	Alg Algorithm
	Hex string
}

// ParseDigest parses a digest in the form "algorithm:hex" or plain hex.
// Plain hex has its algorithm inferred from its length. Digest files may
// carry "hex  filename"; only the first field is used.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	if s == "" {
		return Digest{}, fmt.Errorf("empty digest")
	}

	algoStr, hexStr, hasPrefix := strings.Cut(s, ":")
	hexStr = strings.ToLower(hexStr)
	if !hasPrefix {
		hexStr = strings.ToLower(algoStr)
		alg, ok := algorithmForLength(len(hexStr))
		if !ok {
			return Digest{}, fmt.Errorf("cannot infer algorithm for %d hex chars in %q", len(hexStr), s)
		}
		algoStr = string(alg)
	}

	alg := Algorithm(strings.ToLower(algoStr))
	if alg.hexLen() == 0 {
		return Digest{}, fmt.Errorf("unsupported algorithm %q in digest %q", algoStr, s)
	}
	if len(hexStr) != alg.hexLen() {
		return Digest{}, fmt.Errorf("invalid %s digest length %d in %q", alg, len(hexStr), s)
	}
	if _, err := hex.DecodeString(hexStr); err != nil {
		return Digest{}, fmt.Errorf("invalid hex in digest %q: %w", s, err)
	}

	return Digest{Alg: alg, Hex: hexStr}, nil
}

// String returns the canonical string form "algorithm:hex".
func (d Digest) String() string {
	return string(d.Alg) + ":" + d.Hex
}

func algorithmForLength(n int) (Algorithm, bool) {
	for _, alg := range Algorithms {
		if alg.hexLen() == n {
			return alg, true
		}
	}
	return "", false
}

// DigestTarget reports whether target names a digest file and, if so,
// returns its algorithm and the target it describes.
//
//	commons-lang3-3.12.0.jar.sha1 -> sha1, commons-lang3-3.12.0.jar, true
func DigestTarget(target string) (Algorithm, string, bool) {
	for _, alg := range Algorithms {
		if base, ok := strings.CutSuffix(target, alg.Suffix()); ok && base != "" {
			return alg, base, true
		}
	}
	return "", "", false
}

// Hash is the BLAKE3 identity of a published file, kept in the entry
// index beside its Maven digests.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 16 hex characters, for logs.
func (h Hash) Short() string {
	return h.String()[:16]
}

// HashBytes returns the BLAKE3 identity of data.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Digester computes every Maven checksum and the BLAKE3 identity of
// content written to it in a single pass.
type Digester struct {
	hashes map[Algorithm]hash.Hash
	blake  *blake3.Hasher
	w      io.Writer
	n      int64
}

// NewDigester creates a Digester.
func NewDigester() *Digester {
	d := &Digester{
		hashes: map[Algorithm]hash.Hash{
			AlgMD5:    md5.New(),
			AlgSHA1:   sha1.New(),
			AlgSHA256: sha256.New(),
			AlgSHA512: sha512.New(),
		},
		blake: blake3.New(),
	}
	writers := []io.Writer{d.blake}
	for _, h := range d.hashes {
		writers = append(writers, h)
	}
	d.w = io.MultiWriter(writers...)
	return d
}

// Write implements io.Writer.
func (d *Digester) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.n += int64(n)
	return n, err
}

// Sum returns the digest of everything written so far for alg.
func (d *Digester) Sum(alg Algorithm) Digest {
	h, ok := d.hashes[alg]
	if !ok {
		return Digest{}
	}
	return Digest{Alg: alg, Hex: hex.EncodeToString(h.Sum(nil))}
}

// Hash returns the BLAKE3 identity of everything written so far.
func (d *Digester) Hash() Hash {
	var h Hash
	d.blake.Sum(h[:0])
	return h
}

// BytesWritten returns the total number of bytes written.
func (d *Digester) BytesWritten() int64 {
	return d.n
}

// Verify compares the computed digest for want's algorithm against want.
func (d *Digester) Verify(want Digest) bool {
	if want.Hex == "" {
		return false
	}
	return d.Sum(want.Alg).Hex == want.Hex
}

// ComputeDigest returns the digest of data for alg.
func ComputeDigest(data []byte, alg Algorithm) Digest {
	d := NewDigester()
	_, _ = d.Write(data)
	return d.Sum(alg)
}
