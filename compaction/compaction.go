// Package compaction implements the merge engine that reduces sstable file
// count and reclaims space shadowed by overwrites and deletes: selecting
// input files by strategy, merging them into deduplicated output files at
// the next level, and reporting what changed so the owning engine can swap
// its level lists under the writer lock.
package compaction

import (
	"github.com/browserdb/browserdb/internal/compression"
)

// Strategy selects how SelectInputs picks files to merge at a level.
type Strategy int

const (
	// Leveled picks the oldest files at a level plus every overlapping
	// file one level deeper, matching a classic LSM leveled-compaction
	// policy: bounded per-level size, write amplification traded for
	// read amplification.
	Leveled Strategy = iota
	// SizeTiered groups files of similar size within one level and merges
	// them together, favoring write-heavy workloads that would otherwise
	// re-merge the same small files repeatedly under Leveled.
	SizeTiered
	// Hybrid switches between Leveled and SizeTiered per level based on
	// size variance and a caller-supplied workload signal.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case Leveled:
		return "Leveled"
	case SizeTiered:
		return "SizeTiered"
	case Hybrid:
		return "Hybrid"
	default:
		return "Unknown"
	}
}

// Workload is a caller-supplied hint used only by Hybrid to decide, per
// level, whether to behave like Leveled (read-heavy: keep ranges disjoint)
// or SizeTiered (write-heavy: favor merging same-size files cheaply).
type Workload int

const (
	WorkloadMixed Workload = iota
	WorkloadWriteHeavy
	WorkloadReadHeavy
)

// Config bundles the tunables the compaction engine needs, mirroring the
// engine-wide options so a single struct can be threaded through planning
// and execution without depending on the lsm package's Options type.
type Config struct {
	// LevelSizeMultiplier is the factor by which each level's target size
	// grows over the one above it. SelectInputs does not read it; levels are
	// bounded only by the file counts L0FileTarget and DeeperFileTarget.
	LevelSizeMultiplier int
	// L0FileTarget is the Level-0 file count that triggers compaction.
	L0FileTarget int
	// DeeperFileTarget is the file count target for levels below 0.
	DeeperFileTarget int
	// MaxConcurrentCompactions bounds the worker pool (see pool.go).
	MaxConcurrentCompactions int
	// TargetFileBytes splits compaction output into multiple files once
	// a single output would exceed this size.
	TargetFileBytes int64
	// SizeTierRatioThreshold is the max/min size ratio under which two
	// files are considered "similar size" for SizeTiered grouping.
	SizeTierRatioThreshold float64
	// BloomFPRate is the false-positive rate for output sstables' bloom
	// filters.
	BloomFPRate float64
	// Compression is the value codec applied to output sstables.
	Compression compression.Type
	// DeepestLevel is the last configured level index; a compaction
	// whose output level equals DeepestLevel drops tombstones entirely
	// instead of preserving them, since no level exists below it where
	// an older Insert could still be shadowed correctly.
	DeepestLevel int
}

// DefaultConfig returns the configuration documented in the engine's
// options: level size multiplier 10, L0 target 4 files, deeper-level
// target 10 files, up to 4 concurrent compactions, 2 MiB output files,
// a 1.5x size-tiered grouping ratio, and a 1% bloom false-positive rate.
func DefaultConfig() Config {
	return Config{
		LevelSizeMultiplier:       10,
		L0FileTarget:              4,
		DeeperFileTarget:          10,
		MaxConcurrentCompactions: 4,
		TargetFileBytes:           2 << 20,
		SizeTierRatioThreshold:    1.5,
		BloomFPRate:               0.01,
		Compression:               compression.NoCompression,
		DeepestLevel:              9,
	}
}
