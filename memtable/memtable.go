// Package memtable holds writes in memory before they are flushed to a
// Level-0 sstable.
//
// Unlike a skiplist-backed memtable keyed by an internal (user-key + seqno)
// trailer, this memtable keeps an ordered append-only slice of records plus
// a map from user key to that record's current slot, since the container
// format's per-entry timestamp (not a monotonic sequence number) is what
// breaks last-write-wins ties.
package memtable

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/browserdb/browserdb/container"
)

// ErrOutOfCapacity is returned by Put when accepting the write would push
// the memtable's accounted byte size past its configured maximum.
var ErrOutOfCapacity = errors.New("memtable: out of capacity")

// flushThreshold is the fraction of MaxBytes at which ShouldFlush reports
// true, per the memtable lifecycle: grow until 80% full, then freeze.
const flushThreshold = 0.8

// heatIncrement is added to a key's in-memtable heat score on Put.
const heatIncrement = 0.1

// heatMultiplier scales a key's in-memtable heat score on a Get hit.
const heatMultiplier = 1.1

const maxHeat = 1.0

// Record is one live entry in the memtable: a key, its value (empty and
// ignored for tombstones), the kind that produced it, and the timestamp
// used to break ties during a later merge.
type Record struct {
	Key       []byte
	Value     []byte
	Kind      container.Kind
	Timestamp int64
}

// Deleted reports whether r is a tombstone.
func (r Record) Deleted() bool { return r.Kind == container.Delete }

// MemTable is an ordered sequence of records accumulated for a single
// table, plus a key -> slot map index for O(1) lookup and in-place
// overwrite.
type MemTable struct {
	mu       sync.Mutex
	records  []Record
	index    map[string]int // user key -> slot in records
	heat     map[string]float64
	size     int64 // accounted bytes: sum of len(key)+len(value) over live records
	maxBytes int64
}

// New creates an empty memtable bounded by maxBytes accounted size.
func New(maxBytes int64) *MemTable {
	return &MemTable{
		index:    make(map[string]int),
		heat:     make(map[string]float64),
		maxBytes: maxBytes,
	}
}

// Put inserts or overwrites the record for key. If key already has a live
// record, its accounted size delta is applied in place; otherwise a new
// record is appended. Put fails with ErrOutOfCapacity without mutating
// state if the resulting accounted size would exceed maxBytes.
func (m *MemTable) Put(key, value []byte, kind container.Kind, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newRecordSize := int64(len(key) + len(value))
	k := string(key)

	if slot, ok := m.index[k]; ok {
		oldSize := int64(len(m.records[slot].Key) + len(m.records[slot].Value))
		delta := newRecordSize - oldSize
		if m.size+delta > m.maxBytes {
			return ErrOutOfCapacity
		}
		m.records[slot] = Record{Key: append([]byte(nil), key...), Value: copyValue(value), Kind: kind, Timestamp: timestamp}
		m.size += delta
	} else {
		if m.size+newRecordSize > m.maxBytes {
			return ErrOutOfCapacity
		}
		m.records = append(m.records, Record{Key: append([]byte(nil), key...), Value: copyValue(value), Kind: kind, Timestamp: timestamp})
		m.index[k] = len(m.records) - 1
		m.size += newRecordSize
	}

	h := m.heat[k] + heatIncrement
	if h > maxHeat {
		h = maxHeat
	}
	m.heat[k] = h
	return nil
}

// Get returns the latest non-tombstone record for key, or false if the key
// is absent or its latest record is a tombstone. A hit multiplies the
// key's heat score by heatMultiplier, capped at maxHeat.
func (m *MemTable) Get(key []byte) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	slot, ok := m.index[k]
	if !ok {
		return Record{}, false
	}
	r := m.records[slot]
	if r.Deleted() {
		return Record{}, false
	}

	h := m.heat[k] * heatMultiplier
	if h > maxHeat {
		h = maxHeat
	}
	m.heat[k] = h

	return r, true
}

// Lookup returns the raw record for key, tombstone or not, without
// affecting heat. Unlike Get (which filters tombstones so memtable reads
// behave like a value lookup), Lookup lets the engine's read path tell
// "no record here, keep searching deeper levels" apart from "a tombstone
// here, stop: the key is deleted" — the distinction Get's (Record{}, false)
// alone cannot make.
func (m *MemTable) Lookup(key []byte) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.index[string(key)]
	if !ok {
		return Record{}, false
	}
	return m.records[slot], true
}

// Range returns every live record (tombstones included, for the caller to
// suppress after merging with sstable sources) whose key falls in
// [low, high], without draining the memtable. Records are not accumulated
// in sorted order internally, so this is a linear scan; acceptable given
// the memtable's bounded size.
func (m *MemTable) Range(low, high []byte) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range m.records {
		if bytes.Compare(r.Key, low) >= 0 && bytes.Compare(r.Key, high) <= 0 {
			out = append(out, r)
		}
	}
	return out
}

// Delete records a tombstone for key through Put, so a live record for key
// already in the memtable is overwritten in place rather than kept. The
// tombstone shadows any older record for the same key in the sstable
// levels until a compaction reaches the deepest level holding it.
func (m *MemTable) Delete(key []byte, timestamp int64) error {
	return m.Put(key, nil, container.Delete, timestamp)
}

// ShouldFlush reports whether the memtable's accounted size has reached
// flushThreshold (80%) of its configured maximum.
func (m *MemTable) ShouldFlush() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.size) >= flushThreshold*float64(m.maxBytes)
}

// Size returns the current accounted byte size.
func (m *MemTable) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Len returns the number of live (key-deduplicated) records.
func (m *MemTable) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// DrainSorted returns every live record sorted by (key asc, timestamp
// desc) and clears the memtable. Tombstones are preserved in the output so
// a subsequent compaction can honor them; only one record per key is ever
// present at a time, since Put overwrites in place, but the explicit
// timestamp tiebreak in the sort keeps the contract well-defined even if
// a future caller feeds DrainSorted a record set with duplicates.
func (m *MemTable) DrainSorted() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)

	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Key, out[j].Key); c != 0 {
			return c < 0
		}
		return out[i].Timestamp > out[j].Timestamp
	})

	m.records = nil
	m.index = make(map[string]int)
	m.heat = make(map[string]float64)
	m.size = 0

	return out
}

func copyValue(v []byte) []byte {
	if len(v) == 0 {
		return nil
	}
	return append([]byte(nil), v...)
}
