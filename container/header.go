package container

import (
	"github.com/browserdb/browserdb/internal/checksum"
	"github.com/browserdb/browserdb/internal/encoding"
	"github.com/browserdb/browserdb/internal/errs"
)

// Magic identifies a .bdb file. It is written verbatim as the first 8 bytes.
var Magic = []byte("BROWSERDB")[:8]

// CurrentVersion is the only version this codec writes. Readers accept any
// version <= CurrentVersion and reject anything newer.
const CurrentVersion uint8 = 1

// HeaderSize is the fixed on-disk size of a header, including its CRC32.
const HeaderSize = 46

// Flag bits stored in the header's flags field. None are defined by the
// format yet; the field exists so future revisions can add them without
// changing HeaderSize.
const (
	flagsReserved uint32 = 0
)

// Header is the fixed-layout prefix of every .bdb file.
type Header struct {
	Version     uint8
	CreatedAt   int64
	ModifiedAt  int64
	Flags       uint32
	TableType   TableType
	Compression uint8
	Encryption  uint8
}

// NewHeader builds a header for a freshly created file of the given table
// type and compression codec. Encryption is left at 0 (none): the engine
// does not implement at-rest encryption, see SPEC_FULL.md.
func NewHeader(tableType TableType, compression uint8, createdAtMillis int64) Header {
	return Header{
		Version:     CurrentVersion,
		CreatedAt:   createdAtMillis,
		ModifiedAt:  createdAtMillis,
		Flags:       flagsReserved,
		TableType:   tableType,
		Compression: compression,
		Encryption:  0,
	}
}

// Encode serializes h into a HeaderSize-byte slice, computing and appending
// the header CRC32 over every preceding byte.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	off += copy(buf[off:], Magic)
	buf[off] = h.Version
	off++
	encoding.PutFixed64(buf[off:], uint64(h.CreatedAt))
	off += 8
	encoding.PutFixed64(buf[off:], uint64(h.ModifiedAt))
	off += 8
	encoding.PutFixed32(buf[off:], h.Flags)
	off += 4
	encoding.PutFixed32(buf[off:], flagsReserved) // reserved
	off += 4
	buf[off] = uint8(h.TableType)
	off++
	buf[off] = h.Compression
	off++
	buf[off] = h.Encryption
	off++
	off += 6 // padding, left zero

	crc := checksum.IEEE(buf[:off])
	encoding.PutFixed32(buf[off:], crc)
	off += 4
	if off != HeaderSize {
		panic("container: header encoder size mismatch")
	}
	return buf
}

// DecodeHeader parses a HeaderSize-byte slice into a Header, verifying the
// magic and the header CRC32.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errs.Wrap(errs.KindIncompleteEntry, "header", errs.ErrTruncated)
	}
	off := 0
	if string(buf[off:off+8]) != string(Magic) {
		return Header{}, errs.New(errs.KindInvalidHeader, "bad magic")
	}
	off += 8

	crcWant := encoding.Fixed32(buf[HeaderSize-4 : HeaderSize])
	if !checksum.Verify(buf[:HeaderSize-4], crcWant) {
		return Header{}, errs.New(errs.KindHeaderCRCMismatch, "header checksum mismatch")
	}

	var h Header
	h.Version = buf[off]
	off++
	if h.Version > CurrentVersion {
		return Header{}, errs.New(errs.KindVersionTooNew, "unsupported container version")
	}
	if h.Version == 0 {
		return Header{}, errs.New(errs.KindInvalidHeader, "version must be >= 1")
	}

	h.CreatedAt = int64(encoding.Fixed64(buf[off:]))
	off += 8
	h.ModifiedAt = int64(encoding.Fixed64(buf[off:]))
	off += 8
	h.Flags = encoding.Fixed32(buf[off:])
	off += 4
	off += 4 // reserved
	tt := TableType(buf[off])
	off++
	if !tt.IsValid() {
		return Header{}, errs.New(errs.KindInvalidHeader, "unknown table type")
	}
	h.TableType = tt
	h.Compression = buf[off]
	off++
	h.Encryption = buf[off]
	off++

	return h, nil
}
