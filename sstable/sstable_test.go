package sstable

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/internal/compression"
	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/memtable"
	"github.com/browserdb/browserdb/mmapfile"
)

func buildSample(t *testing.T, dir string, n int) *Table {
	t.Helper()
	records := make([]memtable.Record, n)
	for i := range n {
		records[i] = memtable.Record{
			Key:       []byte(fmt.Sprintf("k%04d", i)),
			Value:     []byte(fmt.Sprintf("v%04d", i)),
			Kind:      container.Insert,
			Timestamp: int64(i),
		}
	}
	tbl, err := Build(dir, container.Cache, 0, records, 1_700_000_000_000, logging.Discard)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func TestBuildAndGetAllKeys(t *testing.T) {
	dir := t.TempDir()
	tbl := buildSample(t, dir, 200)

	for i := range 200 {
		key := []byte(fmt.Sprintf("k%04d", i))
		r, ok := tbl.Get(key)
		if !ok {
			t.Fatalf("Get(%s) not found", key)
		}
		want := []byte(fmt.Sprintf("v%04d", i))
		if !bytes.Equal(r.Value, want) {
			t.Fatalf("Get(%s).Value = %q, want %q", key, r.Value, want)
		}
	}
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	tbl := buildSample(t, dir, 50)

	if _, ok := tbl.Get([]byte("not-present")); ok {
		t.Fatalf("Get(not-present) should miss")
	}
}

func TestRangeReturnsKeysInOrder(t *testing.T) {
	dir := t.TempDir()
	tbl := buildSample(t, dir, 100)

	got := tbl.Range([]byte("k0010"), []byte("k0015"))
	if len(got) != 6 {
		t.Fatalf("Range returned %d records, want 6", len(got))
	}
	for i, r := range got {
		want := fmt.Sprintf("k%04d", 10+i)
		if string(r.Key) != want {
			t.Fatalf("Range[%d].Key = %q, want %q", i, r.Key, want)
		}
	}
}

func TestFilenameContract(t *testing.T) {
	dir := t.TempDir()
	tbl := buildSample(t, dir, 10)

	meta, err := ParseName(fmt.Sprintf("%s.bdb", trimBase(tbl.Path())))
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if meta.TableType != container.Cache {
		t.Fatalf("parsed table type = %v, want Cache", meta.TableType)
	}
	if meta.Level != 0 {
		t.Fatalf("parsed level = %d, want 0", meta.Level)
	}
	if meta.EntryCount != 10 {
		t.Fatalf("parsed entry count = %d, want 10", meta.EntryCount)
	}
}

func TestLoadRebuildsIndexAndServesReads(t *testing.T) {
	dir := t.TempDir()
	built := buildSample(t, dir, 64)
	path := built.Path()

	loaded, err := Load(path, logging.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	if loaded.EntryCount() != 64 {
		t.Fatalf("loaded EntryCount() = %d, want 64", loaded.EntryCount())
	}
	r, ok := loaded.Get([]byte("k0032"))
	if !ok || string(r.Value) != "v0032" {
		t.Fatalf("loaded Get(k0032) = %+v, %v", r, ok)
	}
}

func TestLoadRejectsFilenameTableTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	tbl := buildSample(t, dir, 5)
	path := tbl.Path()
	tbl.Close()

	// Rename to claim a different table type than the header actually
	// carries.
	mismatched := dir + "/history_0_1_5.bdb"
	if err := os.Rename(path, mismatched); err != nil {
		t.Fatalf("rename: %v", err)
	}

	_, err := Load(mismatched, logging.Discard)
	if err == nil {
		t.Fatalf("Load should reject a filename/header table-type mismatch")
	}
}

func TestCorruptionCounterIncrementsOnFlippedByte(t *testing.T) {
	dir := t.TempDir()
	built := buildSample(t, dir, 20)
	path := built.Path()
	key := []byte("k0005")

	idx := -1
	for i, e := range built.index {
		if bytes.Equal(e.Key, key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatalf("index entry for %s not found", key)
	}
	// Flip a byte inside the entry's 8-byte timestamp (six bytes before the
	// entry's end, ahead of its 4-byte CRC, well past the kind byte and the
	// length varints) so the entry's framing survives and only its
	// CRC check fails, isolating the read-time corruption path from the
	// whole-file recovery validation path.
	corruptOffset := built.index[idx].Offset + built.index[idx].Size - 6

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[corruptOffset] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Re-point built's mapping at the now-corrupted bytes on disk by
	// closing and reopening the mmap, but keep reusing its already-built
	// in-memory index: this isolates "a byte rotted under an otherwise
	// valid index" from "the file failed whole-file recovery validation".
	if err := built.remapForTest(); err != nil {
		t.Fatalf("remapForTest: %v", err)
	}

	if _, ok := built.Get(key); ok {
		t.Fatalf("Get should miss on a corrupted entry")
	}
	if built.CorruptionCount() != 1 {
		t.Fatalf("CorruptionCount() = %d, want 1", built.CorruptionCount())
	}
}

// remapForTest closes and reopens t's memory mapping from disk, without
// touching its in-memory index, so a test can simulate a bit flipping
// under an already-built table.
func (t *Table) remapForTest() error {
	if err := t.mf.Close(); err != nil {
		return err
	}
	reopened, err := mmapfile.Open(t.path, true)
	if err != nil {
		return err
	}
	t.mf = reopened
	return nil
}

func TestBuildWithOptionsCompressesAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	records := []memtable.Record{
		{Key: []byte("k1"), Value: bytes.Repeat([]byte("abc"), 200), Kind: container.Insert, Timestamp: 1},
		{Key: []byte("k2"), Value: nil, Kind: container.Delete, Timestamp: 2},
	}
	tbl, err := BuildWithOptions(dir, container.Cache, 0, records, 1_700_000_000_000, BloomFPRate, compression.ZstdCompression, logging.Discard)
	if err != nil {
		t.Fatalf("BuildWithOptions: %v", err)
	}
	defer tbl.Close()

	r, ok := tbl.Get([]byte("k1"))
	if !ok {
		t.Fatalf("Get(k1) not found")
	}
	if !bytes.Equal(r.Value, records[0].Value) {
		t.Fatalf("Get(k1).Value mismatch after zstd round trip")
	}

	r2, ok := tbl.Get([]byte("k2"))
	if !ok || !r2.Deleted() {
		t.Fatalf("Get(k2) should return a tombstone")
	}

	loaded, err := Load(tbl.Path(), logging.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()
	r3, ok := loaded.Get([]byte("k1"))
	if !ok || !bytes.Equal(r3.Value, records[0].Value) {
		t.Fatalf("loaded Get(k1) mismatch after zstd round trip")
	}
}

func trimBase(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1 : len(path)-len(".bdb")]
}
