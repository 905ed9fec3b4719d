package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressLZ4_RoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("func (n *node) children() []*node {\n"), 200)

	blob := CompressLZ4(src)
	assert.Less(t, len(blob), len(src), "repetitive source should shrink")

	got, err := DecompressLZ4(blob)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestCompressLZ4_IncompressibleStoredRaw(t *testing.T) {
	src := randBytes(t, 20, 4<<10)

	blob := CompressLZ4(src)
	require.Equal(t, byte(blobRaw), blob[4])

	got, err := DecompressLZ4(blob)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestCompressLZ4_Empty(t *testing.T) {
	blob := CompressLZ4(nil)
	got, err := DecompressLZ4(blob)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCompressZstd_RoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("let mut total = 0usize;\n"), 500)

	for name, compress := range map[string]func([]byte) []byte{
		"default": CompressZstd,
		"best":    CompressZstdBest,
	} {
		blob := compress(src)
		assert.Less(t, len(blob), len(src), "%s level should shrink repetitive source", name)

		got, err := DecompressZstd(blob)
		require.NoError(t, err, name)
		assert.Equal(t, src, got, name)
	}
}

func TestCompressZstd_Empty(t *testing.T) {
	blob := CompressZstd(nil)
	got, err := DecompressZstd(blob)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecompress_RejectsCorruptBlobs(t *testing.T) {
	src := bytes.Repeat([]byte("match arm => expr,\n"), 300)

	cases := map[string][]byte{
		"empty":     {},
		"short":     {1, 0, 0},
		"bad flag":  {4, 0, 0, 0, 9, 'a', 'b', 'c', 'd'},
		"truncated": CompressLZ4(src)[:8],
	}
	cut := CompressLZ4(src)
	cases["cut payload"] = cut[:len(cut)-3]

	lied := CompressLZ4(src)
	lied[0] ^= 0x01 // header now claims the wrong raw length
	cases["wrong length"] = lied

	for name, blob := range cases {
		_, err := DecompressLZ4(blob)
		assert.ErrorIs(t, err, ErrCorruptBlob, "lz4 %s", name)
	}

	zblob := CompressZstd(src)
	zblob[len(zblob)-1] ^= 0xff
	_, err := DecompressZstd(zblob)
	assert.ErrorIs(t, err, ErrCorruptBlob, "zstd tampered payload")

	_, err = DecompressZstd([]byte{0xff})
	assert.ErrorIs(t, err, ErrCorruptBlob, "zstd short")
}
