package container

import (
	"github.com/browserdb/browserdb/internal/checksum"
	"github.com/browserdb/browserdb/internal/encoding"
	"github.com/browserdb/browserdb/internal/errs"
)

// Kind tags a log entry. Update and Insert are semantically equivalent to
// the engine (last write wins by timestamp); the distinction exists for
// audit trails only. BatchStart/BatchEnd bracket the entries produced by a
// single flush or sstable build, so a reader can detect a truncated batch.
type Kind uint8

const (
	Insert Kind = iota + 1
	Update
	Delete
	BatchStart
	BatchEnd
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	case BatchStart:
		return "BatchStart"
	case BatchEnd:
		return "BatchEnd"
	default:
		return "Unknown"
	}
}

// IsMarker reports whether k is a batch boundary marker rather than a
// record-carrying entry.
func (k Kind) IsMarker() bool { return k == BatchStart || k == BatchEnd }

// MaxKeyOrValueLen is the largest key or value length the format allows;
// entries exceeding it fail with EntryTooLarge rather than being written.
const MaxKeyOrValueLen = 1 << 20 // 1 MiB

// Entry is one decoded record from the log entry stream.
type Entry struct {
	Kind      Kind
	Key       []byte
	Value     []byte
	Timestamp int64
}

// Marker builds a BatchStart or BatchEnd entry, which carries no key or
// value.
func Marker(k Kind, timestamp int64) Entry {
	return Entry{Kind: k, Timestamp: timestamp}
}

// Encode appends e's wire representation to dst and returns the extended
// slice. Layout: kind (1B), key-length (varint), value-length (varint),
// key bytes, value bytes, timestamp (8B LE), entry CRC32 (4B). The CRC
// covers the kind byte, key bytes, value bytes, and timestamp bytes (not
// the length prefixes).
func (e Entry) Encode(dst []byte) ([]byte, error) {
	if len(e.Key) > MaxKeyOrValueLen || len(e.Value) > MaxKeyOrValueLen {
		return dst, errs.New(errs.KindEntryTooLarge, "key or value exceeds 1 MiB")
	}

	start := len(dst)
	dst = append(dst, byte(e.Kind))
	dst = encoding.AppendVarint(dst, uint64(len(e.Key)))
	dst = encoding.AppendVarint(dst, uint64(len(e.Value)))

	// The CRC covers {kind, key, value, timestamp}, not the length
	// prefixes, so it is computed separately below rather than over the
	// whole encoded record.
	kindByte := dst[start]
	dst = append(dst, e.Key...)
	dst = append(dst, e.Value...)

	var tsBuf [8]byte
	encoding.PutFixed64(tsBuf[:], uint64(e.Timestamp))
	dst = append(dst, tsBuf[:]...)

	crc := crc32Entry(kindByte, e.Key, e.Value, tsBuf[:])
	var crcBuf [4]byte
	encoding.PutFixed32(crcBuf[:], crc)
	dst = append(dst, crcBuf[:]...)

	return dst, nil
}

// crc32Entry computes the entry CRC32 over the kind byte, key bytes, value
// bytes, and timestamp bytes without requiring them to be contiguous in
// memory.
func crc32Entry(kind byte, key, value, tsBuf []byte) uint32 {
	buf := make([]byte, 0, 1+len(key)+len(value)+len(tsBuf))
	buf = append(buf, kind)
	buf = append(buf, key...)
	buf = append(buf, value...)
	buf = append(buf, tsBuf...)
	return checksum.IEEE(buf)
}

// DecodeEntry parses one entry from the front of src, returning the entry,
// the number of bytes consumed, and an error. It is used by both sstable
// construction (reading from a staging buffer) and recovery (streaming an
// on-disk entry region).
func DecodeEntry(src []byte) (Entry, int, error) {
	if len(src) < 1 {
		return Entry{}, 0, errs.Wrap(errs.KindIncompleteEntry, "kind byte", errs.ErrTruncated)
	}
	kind := Kind(src[0])
	off := 1

	keyLen, n, err := encoding.DecodeVarint(src[off:])
	if err != nil {
		return Entry{}, 0, wrapVarintErr(err)
	}
	off += n

	valLen, n, err := encoding.DecodeVarint(src[off:])
	if err != nil {
		return Entry{}, 0, wrapVarintErr(err)
	}
	off += n

	if keyLen > MaxKeyOrValueLen || valLen > MaxKeyOrValueLen {
		return Entry{}, 0, errs.New(errs.KindEntryTooLarge, "key or value exceeds 1 MiB")
	}

	need := int(keyLen) + int(valLen) + 8 + 4
	if len(src)-off < need {
		return Entry{}, 0, errs.Wrap(errs.KindIncompleteEntry, "entry body", errs.ErrTruncated)
	}

	key := src[off : off+int(keyLen)]
	off += int(keyLen)
	value := src[off : off+int(valLen)]
	off += int(valLen)

	tsBuf := src[off : off+8]
	timestamp := int64(encoding.Fixed64(tsBuf))
	off += 8

	crcWant := encoding.Fixed32(src[off : off+4])
	off += 4

	if crc32Entry(byte(kind), key, value, tsBuf) != crcWant {
		return Entry{}, 0, errs.New(errs.KindEntryCRCMismatch, "entry checksum mismatch")
	}

	keyCopy := append([]byte(nil), key...)
	var valueCopy []byte
	if valLen > 0 {
		valueCopy = append([]byte(nil), value...)
	}

	return Entry{Kind: kind, Key: keyCopy, Value: valueCopy, Timestamp: timestamp}, off, nil
}

func wrapVarintErr(err error) error {
	if err == encoding.ErrVarIntTooLarge {
		return errs.Wrap(errs.KindVarIntTooLarge, "length prefix", err)
	}
	return errs.Wrap(errs.KindIncompleteEntry, "length prefix", err)
}
