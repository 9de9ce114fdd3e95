package artifactcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Digest
		wantErr bool
	}{
		{
			name:  "plain sha1",
			input: "a9993e364706816aba3e25717850c26c9cd0d89d",
			want:  Digest{Alg: AlgSHA1, Hex: "a9993e364706816aba3e25717850c26c9cd0d89d"},
		},
		{
			name:  "uppercase sha1 with file name",
			input: "A9993E364706816ABA3E25717850C26C9CD0D89D  abc.jar\n",
			want:  Digest{Alg: AlgSHA1, Hex: "a9993e364706816aba3e25717850c26c9cd0d89d"},
		},
		{
			name:  "plain md5",
			input: "900150983cd24fb0d6963f7d28e17f72",
			want:  Digest{Alg: AlgMD5, Hex: "900150983cd24fb0d6963f7d28e17f72"},
		},
		{
			name:  "prefixed sha256",
			input: "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
			want:  Digest{Alg: AlgSHA256, Hex: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "free text", input: "wrong sha", wantErr: true},
		{name: "unknown algorithm", input: "crc32:00000000", wantErr: true},
		{name: "wrong length for prefix", input: "sha1:900150983cd24fb0d6963f7d28e17f72", wantErr: true},
		{name: "not hex", input: "zz9993e364706816aba3e25717850c26c9cd0d89d"[:40], wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDigest(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigestTarget(t *testing.T) {
	alg, base, ok := DigestTarget("commons-lang3-3.12.0.jar.sha1")
	require.True(t, ok)
	assert.Equal(t, AlgSHA1, alg)
	assert.Equal(t, "commons-lang3-3.12.0.jar", base)

	alg, base, ok = DigestTarget("maven-metadata.xml.sha512")
	require.True(t, ok)
	assert.Equal(t, AlgSHA512, alg)
	assert.Equal(t, "maven-metadata.xml", base)

	_, _, ok = DigestTarget("commons-lang3-3.12.0.jar")
	assert.False(t, ok)

	_, _, ok = DigestTarget(".sha1")
	assert.False(t, ok)
}

func TestDigester(t *testing.T) {
	d := NewDigester()
	_, err := d.Write([]byte("ab"))
	require.NoError(t, err)
	_, err = d.Write([]byte("c"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), d.BytesWritten())
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", d.Sum(AlgMD5).Hex)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", d.Sum(AlgSHA1).Hex)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d.Sum(AlgSHA256).Hex)
	assert.Equal(t, HashBytes([]byte("abc")), d.Hash())

	assert.True(t, d.Verify(Digest{Alg: AlgSHA1, Hex: "a9993e364706816aba3e25717850c26c9cd0d89d"}))
	assert.False(t, d.Verify(Digest{Alg: AlgSHA1, Hex: "0000000000000000000000000000000000000000"}))
	assert.False(t, d.Verify(Digest{}))
}

func TestComputeDigest(t *testing.T) {
	got := ComputeDigest([]byte("abc"), AlgSHA1)
	assert.Equal(t, "sha1:a9993e364706816aba3e25717850c26c9cd0d89d", got.String())
}

func TestHashBytes(t *testing.T) {
	h := HashBytes(nil)
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", h.String())
	assert.Equal(t, "af1349b9f5f9a1a6", h.Short())
}
