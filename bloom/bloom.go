// Package bloom implements the per-sstable Bloom filter that gates Get and
// Range lookups before they touch the index or the mapped file.
//
// Sizing follows the standard formulas for expected element count n and
// target false-positive rate p: m = ceil(-n*ln(p) / (ln 2)^2) bits, k =
// max(1, ceil((m/n)*ln 2)) hash functions. Rather than RocksDB's
// cache-line-local FastLocalBloom layout, this is a classic flat bit
// array: the container format has no filter-block framing to stay
// compatible with, so the simpler layout is preferred. Probes are derived
// from a single 64-bit github.com/zeebo/xxh3 hash via Kirsch-Mitzenmacher
// double hashing, which the filter's own spec explicitly allows in place
// of k independently seeded hash functions.
package bloom

import (
	"math"

	"github.com/zeebo/xxh3"
)

// Filter is an immutable, built Bloom filter: a bit array plus the probe
// count used to test membership.
type Filter struct {
	bits   []byte
	numBits uint64
	k      int
}

// Builder accumulates keys and produces a Filter sized for the expected
// element count and false-positive rate given at construction.
type Builder struct {
	n        int
	p        float64
	keys     [][]byte
}

// NewBuilder starts a filter build targeting n expected elements and a
// false-positive rate of p (e.g. 0.01 for 1%).
func NewBuilder(n int, p float64) *Builder {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	return &Builder{n: n, p: p, keys: make([][]byte, 0, n)}
}

// Add records a key to be inserted into the filter on Finish.
func (b *Builder) Add(key []byte) {
	b.keys = append(b.keys, key)
}

// sizeBits returns m, the bit-array size, per the formula
// m = ceil(-n*ln(p) / (ln 2)^2), then rounded up to a whole number of
// bytes as the format requires.
func sizeBits(n int, p float64) uint64 {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	bits := uint64(m)
	if bits < 8 {
		bits = 8
	}
	return ((bits + 7) / 8) * 8
}

// numHashes returns k = max(1, ceil((m/n)*ln 2)).
func numHashes(m uint64, n int) int {
	k := int(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}

// Finish builds the Filter from every key added via Add.
func (b *Builder) Finish() *Filter {
	m := sizeBits(max(b.n, len(b.keys)), b.p)
	k := numHashes(m, max(b.n, len(b.keys)))

	f := &Filter{
		bits:    make([]byte, (m+7)/8),
		numBits: m,
		k:       k,
	}
	for _, key := range b.keys {
		f.add(key)
	}
	return f
}

// probes derives k probe positions from key via Kirsch-Mitzenmacher double
// hashing: a single 64-bit hash is split into two 32-bit halves h1, h2,
// and probe i is (h1 + i*h2) mod numBits.
func (f *Filter) probes(key []byte) []uint64 {
	h := xxh3.Hash(key)
	h1 := h >> 32
	h2 := h & 0xFFFFFFFF
	if h2 == 0 {
		h2 = 1 // avoid degenerating to a single fixed probe when h2 == 0
	}

	out := make([]uint64, f.k)
	for i := 0; i < f.k; i++ {
		out[i] = (h1 + uint64(i)*h2) % f.numBits
	}
	return out
}

func (f *Filter) add(key []byte) {
	for _, bit := range f.probes(key) {
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MightContain returns false only when some tested bit is zero, i.e. key
// is definitely absent; a true result may be a false positive.
func (f *Filter) MightContain(key []byte) bool {
	if f == nil || len(f.bits) == 0 {
		return true // an empty/unbuilt filter makes no claims either way
	}
	for _, bit := range f.probes(key) {
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Bytes returns the filter's serialized bit array, for embedding in an
// sstable's metadata region.
func (f *Filter) Bytes() []byte { return f.bits }

// NumHashes returns k, the number of probes per key.
func (f *Filter) NumHashes() int { return f.k }

// NumBits returns m, the size of the bit array in bits.
func (f *Filter) NumBits() uint64 { return f.numBits }

// Load reconstructs a Filter from its serialized bits, bit count, and
// probe count, as read back from an sstable's metadata region.
func Load(bits []byte, numBits uint64, k int) *Filter {
	return &Filter{bits: bits, numBits: numBits, k: k}
}
