package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrCorruptBlob is wrapped by the decompressors for any blob they cannot
// decode. Callers treat it as a hard miss on that payload and fall back to
// re-parsing.
var ErrCorruptBlob = errors.New("corrupt compressed blob")

// maxBlobSize caps the decompressed size a blob may claim, guarding
// against corrupt length prefixes.
const maxBlobSize = 1 << 30

// Blob layout: 4-byte little-endian raw length, 1 flag byte (0 = stored
// raw, 1 = compressed), payload.
const (
	blobRaw        = 0
	blobCompressed = 1
	blobHeaderSize = 5
)

// Shared zstd coders. EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdFast *zstd.Encoder // Cold tier: speed over ratio
	zstdBest *zstd.Encoder // Frozen tier: ratio over speed
	zstdDec  *zstd.Decoder
)

func init() {
	var err error
	if zstdFast, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(err)
	}
	if zstdBest, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression)); err != nil {
		panic(err)
	}
	if zstdDec, err = zstd.NewReader(nil); err != nil {
		panic(err)
	}
}

// CompressLZ4 compresses src as one LZ4 block. Incompressible input is
// stored raw behind the same header, so decompression is uniform.
func CompressLZ4(src []byte) []byte {
	buf := make([]byte, blobHeaderSize+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(buf, uint32(len(src)))

	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf[blobHeaderSize:])
	if err != nil || n == 0 || n >= len(src) {
		out := make([]byte, blobHeaderSize+len(src))
		binary.LittleEndian.PutUint32(out, uint32(len(src)))
		out[4] = blobRaw
		copy(out[blobHeaderSize:], src)
		return out
	}
	buf[4] = blobCompressed
	return buf[:blobHeaderSize+n]
}

// DecompressLZ4 reverses CompressLZ4.
func DecompressLZ4(blob []byte) ([]byte, error) {
	rawLen, payload, err := splitBlob(blob)
	if err != nil {
		return nil, err
	}
	if blob[4] == blobRaw {
		if len(payload) != rawLen {
			return nil, fmt.Errorf("%w: raw payload %d bytes, header says %d", ErrCorruptBlob, len(payload), rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, payload)
		return out, nil
	}
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptBlob, err)
	}
	if n != rawLen {
		return nil, fmt.Errorf("%w: lz4 yielded %d bytes, header says %d", ErrCorruptBlob, n, rawLen)
	}
	return out, nil
}

// CompressZstd compresses src at the Cold tier's speed-oriented level.
func CompressZstd(src []byte) []byte {
	return appendZstd(zstdFast, src)
}

// CompressZstdBest compresses src at the Frozen tier's ratio-oriented
// level. Frozen writes happen on the background sweep, so the extra CPU is
// off every latency path.
func CompressZstdBest(src []byte) []byte {
	return appendZstd(zstdBest, src)
}

func appendZstd(enc *zstd.Encoder, src []byte) []byte {
	buf := make([]byte, blobHeaderSize, blobHeaderSize+len(src)/2)
	binary.LittleEndian.PutUint32(buf, uint32(len(src)))
	buf[4] = blobCompressed
	return enc.EncodeAll(src, buf)
}

// DecompressZstd reverses CompressZstd and CompressZstdBest.
func DecompressZstd(blob []byte) ([]byte, error) {
	rawLen, payload, err := splitBlob(blob)
	if err != nil {
		return nil, err
	}
	if blob[4] == blobRaw {
		if len(payload) != rawLen {
			return nil, fmt.Errorf("%w: raw payload %d bytes, header says %d", ErrCorruptBlob, len(payload), rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, payload)
		return out, nil
	}
	out, err := zstdDec.DecodeAll(payload, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptBlob, err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("%w: zstd yielded %d bytes, header says %d", ErrCorruptBlob, len(out), rawLen)
	}
	return out, nil
}

// RawLen reports the uncompressed size a blob's header claims, without
// decompressing. Returns 0 for blobs too short to carry a header.
func RawLen(blob []byte) int {
	if len(blob) < blobHeaderSize {
		return 0
	}
	n := binary.LittleEndian.Uint32(blob)
	if n > maxBlobSize {
		return 0
	}
	return int(n)
}

// splitBlob validates the blob header and returns the claimed raw length
// and the payload.
func splitBlob(blob []byte) (int, []byte, error) {
	if len(blob) < blobHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptBlob, len(blob))
	}
	rawLen := binary.LittleEndian.Uint32(blob)
	if rawLen > maxBlobSize {
		return 0, nil, fmt.Errorf("%w: claimed size %d exceeds limit", ErrCorruptBlob, rawLen)
	}
	if flag := blob[4]; flag != blobRaw && flag != blobCompressed {
		return 0, nil, fmt.Errorf("%w: unknown flag %d", ErrCorruptBlob, flag)
	}
	return int(rawLen), blob[blobHeaderSize:], nil
}
