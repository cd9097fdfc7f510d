// Package heat tracks per-key access heat so the engine can surface hot
// keys and let the hot cache prioritize what it keeps resident.
//
// Heat only ever grows from direct access (Tracker.Record); Decay is the
// one path that reduces it, run only when the owning engine's DecayHeat is
// called rather than on every access, so read/write latency never pays for
// decay math.
package heat

import (
	"math"
	"sort"
	"sync"
)

// AccessKind classifies the operation that touched a key, since each kind
// contributes a different amount of heat.
type AccessKind int

const (
	Read AccessKind = iota
	Write
	Delete
	Compact
)

// increment returns the heat added for one access of the given kind.
func (k AccessKind) increment() uint32 {
	switch k {
	case Read:
		return 1
	case Write:
		return 2
	case Delete:
		return 3
	case Compact:
		return 4
	default:
		return 0
	}
}

// DefaultDecayFactor is the fraction of heat retained per elapsed 60s
// decay cycle absent an explicit configuration.
const DefaultDecayFactor = 0.95

// DecayCycleSeconds is the period, in seconds, over which DecayFactor is
// applied once.
const DecayCycleSeconds = 60.0

// EvictionThreshold is the effective heat below which an entry is
// evicted on the next decay pass.
const EvictionThreshold = 1.0

// entry is a key's live heat-tracking state. heat is stored as a float so
// the decay multiplier composes cleanly; u32 in the source material is a
// storage-size hint, not a reason to lose fractional heat between decays.
type entry struct {
	heat         float64
	accessCount  uint32
	lastAccessMs int64
	createdAtMs  int64
	patternHash  uint64
}

// Tracker is the heat tracker for one table: a per-key map protected by a
// mutex, since concurrent Get calls (under the engine's shared read lock)
// record accesses at the same time, and Decay may run from whichever
// goroutine calls the engine's DecayHeat.
type Tracker struct {
	mu          sync.Mutex
	entries     map[string]*entry
	decayFactor float64
}

// NewTracker creates a heat tracker with the given decay factor (use
// DefaultDecayFactor absent an explicit override).
func NewTracker(decayFactor float64) *Tracker {
	if decayFactor <= 0 || decayFactor >= 1 {
		decayFactor = DefaultDecayFactor
	}
	return &Tracker{entries: make(map[string]*entry), decayFactor: decayFactor}
}

// Record registers an access of kind against key at nowMs, saturating the
// heat add against overflow of the underlying counter.
func (t *Tracker) Record(key []byte, kind AccessKind, nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := string(key)
	e, ok := t.entries[k]
	if !ok {
		e = &entry{createdAtMs: nowMs}
		t.entries[k] = e
	}

	e.heat = saturatingAdd(e.heat, float64(kind.increment()))
	if e.accessCount != ^uint32(0) {
		e.accessCount++
	}
	e.lastAccessMs = nowMs
	e.patternHash = rollingPatternHash(e.patternHash, kind, nowMs)
}

// rollingPatternHash folds the access kind and timestamp into a
// continuously updated FNV-1a-style hash, giving each key a fingerprint
// of its access sequence that two keys with the same total heat but
// different access patterns will not share.
func rollingPatternHash(prev uint64, kind AccessKind, nowMs int64) uint64 {
	const fnvPrime = 1099511628211
	h := prev
	if h == 0 {
		h = 14695981039346656037 // FNV offset basis
	}
	h ^= uint64(kind)
	h *= fnvPrime
	h ^= uint64(nowMs)
	h *= fnvPrime
	return h
}

// saturatingAdd adds inc to heat without an upper bound defined by the
// heat tracker itself (unlike the memtable's 0..1 heat score, tracker heat
// is an unbounded accumulator that only decay brings back down); it only
// guards against overflowing into +Inf/NaN territory, which float64 won't
// hit at any realistic access count.
func saturatingAdd(heat, inc float64) float64 {
	if heat > math.MaxFloat64-inc {
		return math.MaxFloat64
	}
	return heat + inc
}

// Decay multiplies every live entry's heat by decayFactor raised to the
// number of 60s cycles elapsed since lastDecayMs (fractional cycles
// included, so a 30s gap applies half a cycle's decay), then evicts
// entries whose resulting heat falls below EvictionThreshold. It returns
// the number of entries evicted.
func (t *Tracker) Decay(nowMs, lastDecayMs int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsedSeconds := float64(nowMs-lastDecayMs) / 1000.0
	if elapsedSeconds <= 0 {
		return 0
	}
	cycles := elapsedSeconds / DecayCycleSeconds
	multiplier := math.Pow(t.decayFactor, cycles)

	evicted := 0
	for k, e := range t.entries {
		e.heat *= multiplier
		if e.heat < EvictionThreshold {
			delete(t.entries, k)
			evicted++
		}
	}
	return evicted
}

// Heat returns the current (last-computed) effective heat for key, or 0
// if the key has no tracked entry.
func (t *Tracker) Heat(key []byte) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[string(key)]; ok {
		return e.heat
	}
	return 0
}

// HotKeys returns the n keys with highest effective heat, descending. Ties
// are broken by key for deterministic output.
func (t *Tracker) HotKeys(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type kv struct {
		key  string
		heat float64
	}
	all := make([]kv, 0, len(t.entries))
	for k, e := range t.entries {
		all = append(all, kv{k, e.heat})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].heat != all[j].heat {
			return all[i].heat > all[j].heat
		}
		return all[i].key < all[j].key
	})

	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	for i := range n {
		out[i] = all[i].key
	}
	return out
}

// AccessCount returns the number of recorded accesses for key, or 0 if
// untracked.
func (t *Tracker) AccessCount(key []byte) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[string(key)]; ok {
		return e.accessCount
	}
	return 0
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
