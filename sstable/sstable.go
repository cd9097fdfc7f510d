// Package sstable implements the immutable, sealed .bdb file plus its
// in-memory index that backs every on-disk level of the LSM engine.
package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/browserdb/browserdb/bloom"
	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/internal/compression"
	"github.com/browserdb/browserdb/internal/errs"
	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/memtable"
	"github.com/browserdb/browserdb/mmapfile"
)

// IndexEntry locates one record within the file's entry stream.
type IndexEntry struct {
	Key       []byte
	Offset    int
	Size      int
	Timestamp int64
}

// Table is an immutable sealed sstable: a memory-mapped .bdb file plus its
// sorted in-memory index and bloom filter.
type Table struct {
	path   string
	mf     *mmapfile.File
	header container.Header
	footer container.Footer
	index  []IndexEntry // sorted by Key ascending
	filter *bloom.Filter
	level       int
	meta        Meta
	compression compression.Type

	corruption atomic.Int64
	logger     logging.Logger
}

// BloomFPRate is the default target false-positive rate used to size a
// new table's bloom filter absent an explicit override.
const BloomFPRate = 0.01

// Build writes a sealed sstable for records (already sorted and
// deduplicated, e.g. by memtable.DrainSorted or a compaction merge) into
// dir at the given level, and returns the opened Table.
//
// Per the file-layout contract, the file is written under a .tmp suffix
// and renamed into place only after the whole file, footer included, has
// been written. Neither the file nor its directory is fsynced.
func Build(dir string, tableType container.TableType, level int, records []memtable.Record, creationMs int64, logger logging.Logger) (*Table, error) {
	return BuildWithOptions(dir, tableType, level, records, creationMs, BloomFPRate, compression.NoCompression, logger)
}

// BuildWithFPRate is Build with an explicit bloom filter false-positive
// rate, for tests and for callers tuning memory/accuracy tradeoffs.
func BuildWithFPRate(dir string, tableType container.TableType, level int, records []memtable.Record, creationMs int64, bloomFPRate float64, logger logging.Logger) (*Table, error) {
	return BuildWithOptions(dir, tableType, level, records, creationMs, bloomFPRate, compression.NoCompression, logger)
}

// BuildWithOptions is Build with explicit bloom false-positive rate and
// value compression codec. The codec applies to every record's value bytes
// before they reach the container builder; the choice is recorded in the
// file's header so Load and Get/Range can reverse it.
func BuildWithOptions(dir string, tableType container.TableType, level int, records []memtable.Record, creationMs int64, bloomFPRate float64, ctype compression.Type, logger logging.Logger) (*Table, error) {
	logger = logging.OrDefault(logger)

	header := container.NewHeader(tableType, uint8(ctype), creationMs)
	b := container.NewBuilder(header)
	if err := b.Begin(creationMs); err != nil {
		return nil, err
	}

	index := make([]IndexEntry, 0, len(records))
	filterBuilder := bloom.NewBuilder(max(len(records), 1), bloomFPRate)

	for _, r := range records {
		kind := r.Kind
		if kind != container.Delete && kind != container.Insert && kind != container.Update {
			kind = container.Insert
		}
		storedValue, err := encodeValue(ctype, r.Value)
		if err != nil {
			return nil, err
		}
		entry := container.Entry{Kind: kind, Key: r.Key, Value: storedValue, Timestamp: r.Timestamp}
		offset, err := b.WriteEntry(entry)
		if err != nil {
			return nil, err
		}
		index = append(index, IndexEntry{Key: r.Key, Offset: offset, Timestamp: r.Timestamp})
		filterBuilder.Add(r.Key)
	}

	lastEntryEnd := b.Offset() // before the BatchEnd marker is written

	data, err := b.End(creationMs)
	if err != nil {
		return nil, err
	}

	// Back-fill each index entry's byte size now that the following
	// entry's offset (or the end of the entry stream) is known.
	fillIndexSizes(index, lastEntryEnd)

	finalName := Name(tableType, level, creationMs, uint64(len(records)))
	finalPath := filepath.Join(dir, finalName)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return nil, errs.Wrap(errs.KindWriteFailed, tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, errs.Wrap(errs.KindWriteFailed, "rename into place", err)
	}

	mf, err := mmapfile.Open(finalPath, true)
	if err != nil {
		return nil, err
	}

	parsedFooter, _, err := container.DecodeFooter(data[len(data)-container.FooterSize:])
	if err != nil {
		_ = mf.Close()
		return nil, err
	}

	t := &Table{
		path:        finalPath,
		mf:          mf,
		header:      header,
		footer:      parsedFooter,
		index:       index,
		filter:      filterBuilder.Finish(),
		level:       level,
		meta:        Meta{TableType: tableType, Level: level, CreationMs: creationMs, EntryCount: uint64(len(records))},
		compression: ctype,
		logger:      logger,
	}
	return t, nil
}

// fillIndexSizes computes each entry's on-disk size as the gap to the
// next entry's offset, with the last entry's size reaching to
// dataRegionEnd (the BatchEnd marker's offset).
func fillIndexSizes(index []IndexEntry, dataRegionEnd int) {
	for i := range index {
		if i+1 < len(index) {
			index[i].Size = index[i+1].Offset - index[i].Offset
		} else {
			index[i].Size = dataRegionEnd - index[i].Offset
		}
	}
}

// Load opens an existing sstable file, rebuilding its index by streaming
// the entry region and its bloom filter by replaying every key.
//
// Load validates the filename contract against the file's own header
// table type, per §4.4's requirement that parsers reject a mismatch.
func Load(path string, logger logging.Logger) (*Table, error) {
	logger = logging.OrDefault(logger)

	meta, err := ParseName(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	mf, err := mmapfile.Open(path, true)
	if err != nil {
		return nil, err
	}

	raw, err := mf.Read(0, mf.Len())
	if err != nil {
		_ = mf.Close()
		return nil, err
	}

	parsed, err := container.ParseFile(raw)
	if err != nil {
		_ = mf.Close()
		return nil, err
	}
	if !meta.MatchesHeader(parsed.Header.TableType) {
		_ = mf.Close()
		return nil, errs.New(errs.KindInvalidHeader, fmt.Sprintf("filename table type %s does not match header table type %s", meta.TableType, parsed.Header.TableType))
	}

	index, filterBuilder, err := reindex(raw)
	if err != nil {
		_ = mf.Close()
		return nil, err
	}

	t := &Table{
		path:        path,
		mf:          mf,
		header:      parsed.Header,
		footer:      parsed.Footer,
		index:       index,
		filter:      filterBuilder.Finish(),
		level:       meta.Level,
		meta:        meta,
		compression: compression.Type(parsed.Header.Compression),
		logger:      logger,
	}
	return t, nil
}

// reindex streams the entry region of an already-validated file, building
// the sorted index and a freshly trained bloom filter.
func reindex(raw []byte) ([]IndexEntry, *bloom.Builder, error) {
	dataRegion := raw[container.HeaderSize : len(raw)-container.FooterSize]

	index := make([]IndexEntry, 0)
	off := 0
	for off < len(dataRegion) {
		e, n, err := container.DecodeEntry(dataRegion[off:])
		if err != nil {
			return nil, nil, err
		}
		if !e.Kind.IsMarker() {
			index = append(index, IndexEntry{Key: e.Key, Offset: container.HeaderSize + off, Size: n, Timestamp: e.Timestamp})
		}
		off += n
	}

	fb := bloom.NewBuilder(max(len(index), 1), BloomFPRate)
	for _, e := range index {
		fb.Add(e.Key)
	}
	return index, fb, nil
}

// Get looks up key: a negative bloom test short-circuits to a miss;
// otherwise the index is binary-searched and the on-disk entry's CRC is
// re-verified before the value is returned. A CRC failure is treated as a
// miss and increments the corruption counter.
func (t *Table) Get(key []byte) (memtable.Record, bool) {
	if !t.filter.MightContain(key) {
		return memtable.Record{}, false
	}

	i := sort.Search(len(t.index), func(i int) bool { return bytes.Compare(t.index[i].Key, key) >= 0 })
	if i >= len(t.index) || !bytes.Equal(t.index[i].Key, key) {
		return memtable.Record{}, false
	}

	return t.readAt(t.index[i])
}

// readAt re-reads and CRC-verifies the entry at idx's recorded offset.
func (t *Table) readAt(idx IndexEntry) (memtable.Record, bool) {
	raw, err := t.mf.Read(idx.Offset, idx.Size)
	if err != nil {
		t.corruption.Add(1)
		t.logger.Warnf("sstable %s: read at offset %d failed: %v", t.path, idx.Offset, err)
		return memtable.Record{}, false
	}
	entry, _, err := container.DecodeEntry(raw)
	if err != nil {
		t.corruption.Add(1)
		t.logger.Warnf("sstable %s: entry at offset %d failed CRC: %v", t.path, idx.Offset, err)
		return memtable.Record{}, false
	}
	value, err := decodeValue(t.compression, entry.Value)
	if err != nil {
		t.corruption.Add(1)
		t.logger.Warnf("sstable %s: entry at offset %d failed to decompress: %v", t.path, idx.Offset, err)
		return memtable.Record{}, false
	}
	return memtable.Record{Key: entry.Key, Value: value, Kind: entry.Kind, Timestamp: entry.Timestamp}, true
}

// Range returns every record with verified CRC whose key falls in
// [low, high], in index (key ascending) order. CRC failures are skipped
// and logged rather than aborting the scan.
func (t *Table) Range(low, high []byte) []memtable.Record {
	start := sort.Search(len(t.index), func(i int) bool { return bytes.Compare(t.index[i].Key, low) >= 0 })

	out := make([]memtable.Record, 0)
	for i := start; i < len(t.index); i++ {
		if bytes.Compare(t.index[i].Key, high) > 0 {
			break
		}
		if r, ok := t.readAt(t.index[i]); ok {
			out = append(out, r)
		}
	}
	return out
}

// All returns every record in the table with verified CRC, in index (key
// ascending) order. Used by compaction to build a merged iterator over a
// whole input file without needing to know its key range up front.
func (t *Table) All() []memtable.Record {
	out := make([]memtable.Record, 0, len(t.index))
	for _, idx := range t.index {
		if r, ok := t.readAt(idx); ok {
			out = append(out, r)
		}
	}
	return out
}

// EntryCount returns the number of live records (excluding batch
// markers).
func (t *Table) EntryCount() int { return len(t.index) }

// SizeBytes returns the file's total size as recorded in its footer.
func (t *Table) SizeBytes() int64 { return int64(t.footer.FileSize) }

// Level returns the LSM level this table belongs to.
func (t *Table) Level() int { return t.level }

// CreationTime returns the table's creation timestamp in milliseconds.
func (t *Table) CreationTime() int64 { return t.header.CreatedAt }

// TableType returns the table's table type.
func (t *Table) TableType() container.TableType { return t.header.TableType }

// Path returns the table's on-disk path.
func (t *Table) Path() string { return t.path }

// Header and Footer expose the table's decoded header and footer verbatim,
// for inspection tooling (cmd/bdbdump) that needs to print them; nothing in
// the read/write path itself needs these beyond the fields already
// accessed through the other methods on Table.
func (t *Table) Header() container.Header { return t.header }
func (t *Table) Footer() container.Footer { return t.footer }

// Compression returns the value codec this table's entries were written
// with.
func (t *Table) Compression() compression.Type { return t.compression }

// MinKey and MaxKey return the table's key range, used by compaction and
// range-read planning to decide file overlap without opening the file.
func (t *Table) MinKey() []byte {
	if len(t.index) == 0 {
		return nil
	}
	return t.index[0].Key
}

func (t *Table) MaxKey() []byte {
	if len(t.index) == 0 {
		return nil
	}
	return t.index[len(t.index)-1].Key
}

// CorruptionCount returns the number of CRC failures observed since Load
// or Build.
func (t *Table) CorruptionCount() int64 { return t.corruption.Load() }

// Close unmaps the backing file.
func (t *Table) Close() error { return t.mf.Close() }
