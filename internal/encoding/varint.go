// Package encoding provides the binary primitives shared by the .bdb
// container codec: little-endian fixed-width integers and LEB128-style
// unsigned varints.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarintLen64 is the maximum number of bytes a 64-bit varint can occupy
// (10 groups of 7 bits covers 64 bits with six bits to spare).
const MaxVarintLen64 = 10

// ErrVarIntTooLarge is returned when a varint does not terminate within
// MaxVarintLen64 bytes.
var ErrVarIntTooLarge = errors.New("encoding: varint too large")

// ErrBufferTooSmall is returned when a buffer is too short to contain the
// value a length prefix claims it does.
var ErrBufferTooSmall = errors.New("encoding: buffer too small")

// PutFixed64 writes v as 8 little-endian bytes into dst.
// REQUIRES: len(dst) >= 8.
func PutFixed64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

// Fixed64 reads 8 little-endian bytes from src as a uint64.
// REQUIRES: len(src) >= 8.
func Fixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// PutFixed32 writes v as 4 little-endian bytes into dst.
func PutFixed32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

// Fixed32 reads 4 little-endian bytes from src as a uint32.
func Fixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// AppendVarint appends v to dst as an unsigned LEB128 varint (7 bits of
// value per byte, MSB set on every byte but the last) and returns the
// extended slice.
func AppendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// VarintLen returns the number of bytes AppendVarint would emit for v.
func VarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// DecodeVarint decodes an unsigned LEB128 varint from the front of src.
// It returns the value and the number of bytes consumed. If no terminating
// byte (one with the continuation bit clear) appears within
// MaxVarintLen64 bytes, it returns ErrVarIntTooLarge. If src runs out of
// bytes first, it returns ErrBufferTooSmall.
func DecodeVarint(src []byte) (value uint64, n int, err error) {
	var shift uint
	for n = 0; n < MaxVarintLen64; n++ {
		if n >= len(src) {
			return 0, 0, ErrBufferTooSmall
		}
		b := src[n]
		if b < 0x80 {
			value |= uint64(b) << shift
			return value, n + 1, nil
		}
		value |= uint64(b&0x7f) << shift
		shift += 7
	}
	return 0, 0, ErrVarIntTooLarge
}
