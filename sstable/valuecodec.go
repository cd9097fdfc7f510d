package sstable

import (
	"github.com/browserdb/browserdb/internal/compression"
	"github.com/browserdb/browserdb/internal/encoding"
	"github.com/browserdb/browserdb/internal/errs"
)

// encodeValue applies ctype to value before it is handed to the container
// builder. NoCompression stores the value unchanged, matching the format's
// allowance to leave compression unexercised. Any other codec is framed as
// varint(original length) + compressed bytes, since LZ4's raw block codec
// needs the uncompressed size back to decompress.
func encodeValue(ctype compression.Type, value []byte) ([]byte, error) {
	if ctype == compression.NoCompression || len(value) == 0 {
		return value, nil
	}
	compressed, err := compression.Compress(ctype, value)
	if err != nil {
		return nil, errs.Wrap(errs.KindWriteFailed, "compress value", err)
	}
	out := encoding.AppendVarint(nil, uint64(len(value)))
	out = append(out, compressed...)
	return out, nil
}

// decodeValue reverses encodeValue.
func decodeValue(ctype compression.Type, stored []byte) ([]byte, error) {
	if ctype == compression.NoCompression || len(stored) == 0 {
		return stored, nil
	}
	origLen, n, err := encoding.DecodeVarint(stored)
	if err != nil {
		return nil, errs.Wrap(errs.KindReadFailed, "decode value length prefix", err)
	}
	value, err := compression.DecompressWithSize(ctype, stored[n:], int(origLen))
	if err != nil {
		return nil, errs.Wrap(errs.KindReadFailed, "decompress value", err)
	}
	return value, nil
}
