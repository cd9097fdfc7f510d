package compaction

import (
	"bytes"
	"sort"

	"github.com/browserdb/browserdb/sstable"
)

// Plan is one compaction's inputs and its destination level.
type Plan struct {
	Strategy    Strategy
	SourceLevel int
	OutputLevel int
	Inputs      []*sstable.Table // from SourceLevel
	Overlapping []*sstable.Table // from OutputLevel, only for Leveled
}

// AllInputs returns every table the compaction reads from, across both
// levels.
func (p Plan) AllInputs() []*sstable.Table {
	out := make([]*sstable.Table, 0, len(p.Inputs)+len(p.Overlapping))
	out = append(out, p.Inputs...)
	out = append(out, p.Overlapping...)
	return out
}

// SelectInputs builds a compaction Plan for level, given that level's files
// (sourceFiles) and the next level's files (outputLevelFiles), following
// cfg.L0FileTarget/DeeperFileTarget/SizeTierRatioThreshold and the requested
// strategy. Hybrid resolves to Leveled or SizeTiered using workload and the
// level's size variance.
func SelectInputs(strategy Strategy, level int, sourceFiles, outputLevelFiles []*sstable.Table, workload Workload, cfg Config) Plan {
	resolved := strategy
	if strategy == Hybrid {
		resolved = resolveHybrid(sourceFiles, workload)
	}

	switch resolved {
	case SizeTiered:
		return Plan{
			Strategy:    strategy,
			SourceLevel: level,
			OutputLevel: level + 1,
			Inputs:      sizeTieredGroup(sourceFiles, cfg.SizeTierRatioThreshold),
		}
	default: // Leveled
		inputs := oldestN(sourceFiles, inputCountForLevel(level, cfg))
		overlap := overlappingRange(inputs, outputLevelFiles)
		return Plan{
			Strategy:    strategy,
			SourceLevel: level,
			OutputLevel: level + 1,
			Inputs:      inputs,
			Overlapping: overlap,
		}
	}
}

// resolveHybrid picks SizeTiered when the level's files vary widely in
// size (a sign of bursty, write-heavy flushes worth cheaply compacting
// together) and the caller hasn't signaled a read-heavy workload; it picks
// Leveled otherwise, favoring disjoint ranges for fast point lookups.
func resolveHybrid(files []*sstable.Table, workload Workload) Strategy {
	if workload == WorkloadReadHeavy {
		return Leveled
	}
	if workload == WorkloadWriteHeavy {
		return SizeTiered
	}
	if sizeVariance(files) > 2.0 {
		return SizeTiered
	}
	return Leveled
}

// sizeVariance returns the ratio of the largest to the smallest file size
// among files, or 1.0 if there are fewer than two.
func sizeVariance(files []*sstable.Table) float64 {
	if len(files) < 2 {
		return 1.0
	}
	minSize, maxSize := files[0].SizeBytes(), files[0].SizeBytes()
	for _, f := range files[1:] {
		if s := f.SizeBytes(); s < minSize {
			minSize = s
		} else if s > maxSize {
			maxSize = s
		}
	}
	if minSize <= 0 {
		return 1.0
	}
	return float64(maxSize) / float64(minSize)
}

// inputCountForLevel picks how many of a level's oldest files to compact
// at once: half the level's file target, at least 2 (a single file has
// nothing to merge into).
func inputCountForLevel(level int, cfg Config) int {
	target := cfg.DeeperFileTarget
	if level == 0 {
		target = cfg.L0FileTarget
	}
	if target < 2 {
		target = 2
	}
	n := target / 2
	if n < 2 {
		n = 2
	}
	return n
}

// oldestN returns the n oldest files by creation time, ascending.
func oldestN(files []*sstable.Table, n int) []*sstable.Table {
	sorted := append([]*sstable.Table(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreationTime() < sorted[j].CreationTime() })
	if n > len(sorted) {
		n = len(sorted)
	}
	if n < 1 && len(sorted) > 0 {
		n = 1
	}
	return sorted[:n]
}

// overlappingRange returns every file in candidates whose key range
// intersects the union of inputs' key ranges.
func overlappingRange(inputs, candidates []*sstable.Table) []*sstable.Table {
	if len(inputs) == 0 {
		return nil
	}
	lo, hi := inputs[0].MinKey(), inputs[0].MaxKey()
	for _, in := range inputs[1:] {
		if bytes.Compare(in.MinKey(), lo) < 0 {
			lo = in.MinKey()
		}
		if bytes.Compare(in.MaxKey(), hi) > 0 {
			hi = in.MaxKey()
		}
	}

	out := make([]*sstable.Table, 0)
	for _, c := range candidates {
		if bytes.Compare(c.MinKey(), hi) <= 0 && bytes.Compare(c.MaxKey(), lo) >= 0 {
			out = append(out, c)
		}
	}
	return out
}

// sizeTieredGroup returns the largest subset of files whose sizes fall
// within ratio of each other, sorted by size ascending. If no group of at
// least two files qualifies, it returns nil (nothing to compact yet).
func sizeTieredGroup(files []*sstable.Table, ratio float64) []*sstable.Table {
	sorted := append([]*sstable.Table(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SizeBytes() < sorted[j].SizeBytes() })

	bestStart, bestLen := 0, 0
	start := 0
	for i := range sorted {
		if sorted[start].SizeBytes() <= 0 {
			start = i
			continue
		}
		for float64(sorted[i].SizeBytes())/float64(sorted[start].SizeBytes()) > ratio {
			start++
		}
		if i-start+1 > bestLen {
			bestStart, bestLen = start, i-start+1
		}
	}
	if bestLen < 2 {
		return nil
	}
	return sorted[bestStart : bestStart+bestLen]
}
