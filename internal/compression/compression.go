// Package compression implements the codecs selectable through a .bdb
// container header's compression byte.
//
// The header carries a 1-byte compression type; when it is non-zero,
// sstable/valuecodec.go runs each log entry's value bytes through the
// matching codec before they are appended to the entry stream, prefixing
// the compressed bytes with a varint-encoded original length so a codec
// that needs its output size up front (LZ4's block format) always has it.
// NoCompression is the identity codec and the container format's default,
// per its allowance to leave compression unexercised.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// errIncompressible is returned by the LZ4 codec when the block compressor
// could not shrink the input; a caller should fall back to storing the
// value uncompressed (NoCompression) rather than surfacing this as a write
// failure.
var errIncompressible = errors.New("compression: lz4 block did not shrink input")

// Type identifies one of the value codecs a .bdb file's header may select.
type Type uint8

const (
	// NoCompression is the identity codec and the container format's
	// default.
	NoCompression Type = 0x0
	// SnappyCompression uses Google's Snappy codec.
	SnappyCompression Type = 0x1
	// ZlibCompression stores raw DEFLATE output (no zlib header): the
	// container already frames every value with its own length and CRC,
	// so a second self-describing header would be redundant bytes.
	ZlibCompression Type = 0x2
	// LZ4Compression uses LZ4's raw block format, for the same reason
	// ZlibCompression avoids zlib's header: no frame magic needed.
	LZ4Compression Type = 0x3
	// ZstdCompression uses Zstandard.
	ZstdCompression Type = 0x4
)

// String returns the name used in log lines and the bdbdump inspection
// tool's output.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case ZlibCompression:
		return "Zlib"
	case LZ4Compression:
		return "LZ4"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsSupported reports whether t is one of the codecs this package knows how
// to run.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, ZlibCompression, LZ4Compression, ZstdCompression:
		return true
	default:
		return false
	}
}

// Compress runs data through t's codec.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case ZlibCompression:
		return compressRawDeflate(data)
	case LZ4Compression:
		return compressLZ4(data)
	case ZstdCompression:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func compressRawDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("compression: raw deflate writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression: raw deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: raw deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst, ht[:])
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 compress block: %w", err)
	}
	if n == 0 {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	return encoder.EncodeAll(data, nil), nil
}

// Decompress reverses Compress for codecs that carry their own length (all
// but LZ4). Use DecompressWithSize for LZ4.
func Decompress(t Type, data []byte) ([]byte, error) {
	return DecompressWithSize(t, data, 0)
}

// DecompressWithSize reverses Compress. expectedSize is the original,
// uncompressed length; sstable/valuecodec.go always supplies it (it is
// stored as a varint prefix ahead of every compressed value), since LZ4's
// raw block decoder has no other way to size its output buffer. Codecs
// whose format carries its own length ignore expectedSize.
func DecompressWithSize(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case ZlibCompression:
		return decompressRawDeflate(data)
	case LZ4Compression:
		return decompressLZ4(data, expectedSize)
	case ZstdCompression:
		return decompressZstd(data)
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

func decompressRawDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err == nil {
		return out, nil
	}
	// Tolerate a value written by a zlib-header-carrying encoder rather
	// than our own header-less writer, in case a file was produced by a
	// future revision of this package that changes that choice.
	zr, zerr := zlib.NewReader(bytes.NewReader(data))
	if zerr != nil {
		return nil, fmt.Errorf("compression: raw deflate decompress: %w", err)
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}

func decompressLZ4(data []byte, expectedSize int) ([]byte, error) {
	if expectedSize <= 0 {
		return nil, errors.New("compression: lz4 decompress requires the original size")
	}
	dst := make([]byte, expectedSize)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 uncompress block: %w", err)
	}
	return dst[:n], nil
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decoder: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
