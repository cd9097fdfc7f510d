package lsm

import (
	"github.com/browserdb/browserdb/compaction"
	"github.com/browserdb/browserdb/internal/compression"
	"github.com/browserdb/browserdb/internal/logging"
)

// Options configures an Engine at Open and is never mutated afterward.
// Every field has a documented default; DefaultOptions returns them all.
type Options struct {
	// MemtableMaxBytes bounds a table's memtable before it is frozen and
	// flushed to a Level-0 sstable. Default 64 MiB.
	MemtableMaxBytes int64
	// LevelCount is the number of logical levels, 0..LevelCount-1. Default
	// 10.
	LevelCount int
	// LevelSizeMultiplier is the factor by which each level's target size
	// grows over the one above it. Default 10. It is passed through to
	// compaction.Config, but compaction planning does not read it: levels
	// are bounded only by the file counts L0FileTarget and DeeperFileTarget.
	LevelSizeMultiplier int
	// L0FileTarget is the Level-0 file count that triggers compaction.
	// Default 4.
	L0FileTarget int
	// DeeperFileTarget is the file count target for levels below 0.
	// Default 10.
	DeeperFileTarget int
	// MaxConcurrentCompactions bounds the compaction worker pool. Default
	// 4.
	MaxConcurrentCompactions int
	// BloomFPRate is the target false-positive rate for new sstables'
	// bloom filters. Default 0.01.
	BloomFPRate float64
	// HotCacheEntries bounds the hot cache's size. Default 1024.
	HotCacheEntries int
	// HeatDecayFactor is the fraction of heat retained per elapsed 60s
	// decay cycle. Default 0.95.
	HeatDecayFactor float64
	// HotThreshold is the effective heat at or above which a read-path hit
	// is considered worth admitting into the hot cache. Default 10.
	HotThreshold float64
	// Strategy selects the compaction strategy used by Compact and by
	// automatic compaction triggered from Flush. Default Leveled.
	Strategy compaction.Strategy
	// Compression is the value codec new sstables are built with. Default
	// NoCompression, matching the container format's identity-codec
	// allowance.
	Compression compression.Type
	// Logger receives structured log lines tagged by component. Default
	// logging.DefaultLogger at WARN level.
	Logger logging.Logger
}

// DefaultOptions returns the configuration documented in spec.md §6.
func DefaultOptions() Options {
	return Options{
		MemtableMaxBytes:         64 << 20,
		LevelCount:               10,
		LevelSizeMultiplier:      10,
		L0FileTarget:             4,
		DeeperFileTarget:         10,
		MaxConcurrentCompactions: 4,
		BloomFPRate:              0.01,
		HotCacheEntries:          1024,
		HeatDecayFactor:          0.95,
		HotThreshold:             10,
		Strategy:                 compaction.Leveled,
		Compression:              compression.NoCompression,
		Logger:                   logging.NewDefaultLogger(logging.LevelWarn),
	}
}

// withDefaults fills any zero-valued field in o with DefaultOptions' value,
// so callers can pass a partially populated Options without every field
// collapsing to its zero value.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MemtableMaxBytes <= 0 {
		o.MemtableMaxBytes = d.MemtableMaxBytes
	}
	if o.LevelCount <= 0 {
		o.LevelCount = d.LevelCount
	}
	if o.LevelSizeMultiplier <= 0 {
		o.LevelSizeMultiplier = d.LevelSizeMultiplier
	}
	if o.L0FileTarget <= 0 {
		o.L0FileTarget = d.L0FileTarget
	}
	if o.DeeperFileTarget <= 0 {
		o.DeeperFileTarget = d.DeeperFileTarget
	}
	if o.MaxConcurrentCompactions <= 0 {
		o.MaxConcurrentCompactions = d.MaxConcurrentCompactions
	}
	if o.BloomFPRate <= 0 {
		o.BloomFPRate = d.BloomFPRate
	}
	if o.HotCacheEntries <= 0 {
		o.HotCacheEntries = d.HotCacheEntries
	}
	if o.HeatDecayFactor <= 0 || o.HeatDecayFactor >= 1 {
		o.HeatDecayFactor = d.HeatDecayFactor
	}
	if o.HotThreshold <= 0 {
		o.HotThreshold = d.HotThreshold
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}
