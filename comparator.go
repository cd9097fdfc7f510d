package browserdb

// comparator.go names the key ordering the engine relies on throughout:
// lsm.Engine.Range's merge-sort and sstable's index both assume
// byte-lexicographic key order. No custom comparator is configurable per
// spec.md's [MODULE] blocks; this exists as a single named place to point at
// should that ever change, rather than scattering bytes.Compare calls with
// no shared contract.

import "bytes"

// Comparator defines a total ordering over keys.
type Comparator interface {
	// Compare returns a value < 0 if a < b, 0 if a == b, > 0 if a > b.
	Compare(a, b []byte) int

	// Name identifies the comparator, so a database accidentally opened with
	// a mismatched comparator can be diagnosed.
	Name() string
}

// BytewiseComparator is the only comparator this engine uses: keys compare
// lexicographically by byte value.
type BytewiseComparator struct{}

func (BytewiseComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (BytewiseComparator) Name() string            { return "browserdb.BytewiseComparator" }

// DefaultComparator returns the engine's bytewise comparator.
func DefaultComparator() Comparator { return BytewiseComparator{} }
