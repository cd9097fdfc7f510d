package container

import (
	"github.com/browserdb/browserdb/internal/checksum"
	"github.com/browserdb/browserdb/internal/errs"
)

// Builder assembles a complete .bdb file in memory: header, a BatchStart
// marker, a stream of record entries, a BatchEnd marker, and a footer.
// Callers (sstable construction) feed it records in the order they want
// written and record the returned offsets in their own index.
type Builder struct {
	header         Header
	buf            []byte
	entryCount     uint64
	maxEntrySize   uint32
	totalKeySize   uint64
	totalValueSize uint64
}

// NewBuilder starts a file build with h already encoded at the front of
// the buffer.
func NewBuilder(h Header) *Builder {
	return &Builder{header: h, buf: h.Encode()}
}

// Offset returns the current length of the in-progress file buffer, i.e.
// the byte offset the next WriteEntry or End call will write at. Callers
// use it to compute an index entry's exact size without waiting for End.
func (b *Builder) Offset() int { return len(b.buf) }

// Begin writes the BatchStart marker that brackets the entry stream.
func (b *Builder) Begin(timestamp int64) error {
	return b.appendMarker(BatchStart, timestamp)
}

// End writes the BatchEnd marker and returns the completed file bytes with
// a valid footer appended.
func (b *Builder) End(timestamp int64) ([]byte, error) {
	if err := b.appendMarker(BatchEnd, timestamp); err != nil {
		return nil, err
	}

	dataOffset := uint64(HeaderSize)
	fileCRC := checksum.IEEE(b.buf[dataOffset:])

	footer := Footer{
		EntryCount:     b.entryCount,
		DataOffset:     dataOffset,
		MaxEntrySize:   b.maxEntrySize,
		TotalKeySize:   b.totalKeySize,
		TotalValueSize: b.totalValueSize,
	}
	footer.FileSize = uint64(len(b.buf)) + FooterSize
	if footer.TotalKeySize+footer.TotalValueSize > 0 {
		footer.CompressionRatioX100 = 10000 // no compression applied at this layer yet
	}

	b.buf = append(b.buf, footer.Encode(fileCRC)...)
	return b.buf, nil
}

// WriteEntry appends a record entry (Insert, Update, or Delete) and
// returns its byte offset within the file, for the sstable index.
func (b *Builder) WriteEntry(e Entry) (offset int, err error) {
	offset = len(b.buf)
	b.buf, err = e.Encode(b.buf)
	if err != nil {
		return 0, err
	}
	size := len(b.buf) - offset
	if uint32(size) > b.maxEntrySize {
		b.maxEntrySize = uint32(size)
	}
	b.entryCount++
	b.totalKeySize += uint64(len(e.Key))
	b.totalValueSize += uint64(len(e.Value))
	return offset, nil
}

func (b *Builder) appendMarker(k Kind, timestamp int64) error {
	var err error
	b.buf, err = Marker(k, timestamp).Encode(b.buf)
	if err != nil {
		return err
	}
	b.entryCount++
	return nil
}

// ParsedFile is the result of streaming a complete .bdb file: its header,
// footer, and every non-marker entry in on-disk order.
type ParsedFile struct {
	Header  Header
	Footer  Footer
	Entries []Entry
}

// ParseFile validates and decodes a complete .bdb file's bytes: header CRC
// and magic, the entry stream between BatchStart and BatchEnd, the footer,
// and the whole-file CRC over the data region. A file missing its BatchEnd
// marker (truncated mid-batch) is reported as Truncated.
func ParseFile(data []byte) (ParsedFile, error) {
	if len(data) < HeaderSize+FooterSize {
		return ParsedFile{}, errs.Wrap(errs.KindTruncated, "file shorter than header+footer", errs.ErrTruncated)
	}

	header, err := DecodeHeader(data[:HeaderSize])
	if err != nil {
		return ParsedFile{}, err
	}

	footerBuf := data[len(data)-FooterSize:]
	footer, fileCRC, err := DecodeFooter(footerBuf)
	if err != nil {
		return ParsedFile{}, err
	}

	dataRegion := data[HeaderSize : len(data)-FooterSize]
	if !VerifyFileCRC(dataRegion, fileCRC) {
		return ParsedFile{}, errs.New(errs.KindFileCRCMismatch, "file checksum mismatch")
	}

	entries := make([]Entry, 0, footer.EntryCount)
	off := 0
	sawBatchStart := false
	sawBatchEnd := false
	for off < len(dataRegion) {
		e, n, err := DecodeEntry(dataRegion[off:])
		if err != nil {
			return ParsedFile{}, err
		}
		off += n

		switch e.Kind {
		case BatchStart:
			sawBatchStart = true
		case BatchEnd:
			sawBatchEnd = true
		default:
			entries = append(entries, e)
		}
	}

	if !sawBatchStart || !sawBatchEnd {
		return ParsedFile{}, errs.Wrap(errs.KindTruncated, "file ended mid-batch", errs.ErrTruncated)
	}

	return ParsedFile{Header: header, Footer: footer, Entries: entries}, nil
}
