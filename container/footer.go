package container

import (
	"github.com/browserdb/browserdb/internal/checksum"
	"github.com/browserdb/browserdb/internal/encoding"
	"github.com/browserdb/browserdb/internal/errs"
)

// FooterSize is the fixed on-disk size of a footer, including its CRC32.
const FooterSize = 52

// Footer is the fixed-layout statistics block written at the end of every
// .bdb file, reflecting the file's actual content as of its last
// successful close.
type Footer struct {
	EntryCount           uint64
	FileSize             uint64
	DataOffset           uint64 // equals HeaderSize
	MaxEntrySize         uint32
	TotalKeySize         uint64
	TotalValueSize       uint64
	CompressionRatioX100 uint16 // compression ratio * 100, e.g. 4250 = 42.50%
}

// Encode serializes f into a FooterSize-byte slice, appending the file
// CRC32. The caller is responsible for the file CRC covering
// [DataOffset, FileSize - FooterSize) of the file itself; Encode only
// frames that pre-computed value into the footer's own checksum field.
func (f Footer) Encode(fileCRC uint32) []byte {
	buf := make([]byte, FooterSize)
	off := 0
	encoding.PutFixed64(buf[off:], f.EntryCount)
	off += 8
	encoding.PutFixed64(buf[off:], f.FileSize)
	off += 8
	encoding.PutFixed64(buf[off:], f.DataOffset)
	off += 8
	encoding.PutFixed32(buf[off:], f.MaxEntrySize)
	off += 4
	encoding.PutFixed64(buf[off:], f.TotalKeySize)
	off += 8
	encoding.PutFixed64(buf[off:], f.TotalValueSize)
	off += 8
	buf[off] = byte(f.CompressionRatioX100)
	buf[off+1] = byte(f.CompressionRatioX100 >> 8)
	off += 2
	off += 2 // padding, left zero

	encoding.PutFixed32(buf[off:], fileCRC)
	off += 4
	if off != FooterSize {
		panic("container: footer encoder size mismatch")
	}
	return buf
}

// DecodeFooter parses a FooterSize-byte slice into a Footer and the file
// CRC32 it carries. It does not verify the file CRC itself: that requires
// the data region bytes, which the caller supplies separately.
func DecodeFooter(buf []byte) (Footer, uint32, error) {
	if len(buf) < FooterSize {
		return Footer{}, 0, errs.Wrap(errs.KindTruncated, "footer", errs.ErrTruncated)
	}
	var f Footer
	off := 0
	f.EntryCount = encoding.Fixed64(buf[off:])
	off += 8
	f.FileSize = encoding.Fixed64(buf[off:])
	off += 8
	f.DataOffset = encoding.Fixed64(buf[off:])
	off += 8
	f.MaxEntrySize = encoding.Fixed32(buf[off:])
	off += 4
	f.TotalKeySize = encoding.Fixed64(buf[off:])
	off += 8
	f.TotalValueSize = encoding.Fixed64(buf[off:])
	off += 8
	f.CompressionRatioX100 = uint16(buf[off]) | uint16(buf[off+1])<<8
	off += 2
	off += 2 // padding

	fileCRC := encoding.Fixed32(buf[off:])
	off += 4
	if off != FooterSize {
		panic("container: footer decoder size mismatch")
	}
	return f, fileCRC, nil
}

// VerifyFileCRC reports whether dataRegion's IEEE CRC32 matches want. The
// caller passes the bytes from [DataOffset, FileSize - FooterSize).
func VerifyFileCRC(dataRegion []byte, want uint32) bool {
	return checksum.Verify(dataRegion, want)
}
