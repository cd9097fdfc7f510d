package compaction

import (
	"bytes"
	"context"
	"os"
	"sort"

	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/memtable"
	"github.com/browserdb/browserdb/sstable"
)

// Result describes what a completed compaction produced, so the caller
// (the lsm engine) can install it: add Outputs to OutputLevel, then remove
// every table in Inputs from SourceLevel (and Overlapping from
// OutputLevel), backing each up first.
type Result struct {
	SourceLevel int
	OutputLevel int
	Outputs     []*sstable.Table
	Inputs      []*sstable.Table
	Overlapping []*sstable.Table
	RecordsIn   int
	RecordsOut  int
}

// Merge executes plan: reads every input table in full, merges their
// records in (key asc, timestamp desc) order, deduplicates to one record
// per key, drops shadowed tombstones when isDeepest is true, and writes
// the result into one or more sealed sstables at plan.OutputLevel under
// dir. tableType and creationMs stamp the output files' headers and
// names.
func Merge(ctx context.Context, dir string, tableType container.TableType, plan Plan, creationMs int64, isDeepest bool, cfg Config, logger logging.Logger) (Result, error) {
	logger = logging.OrDefault(logger)

	// Newest input file first, so mergeAndDedup's stable sort resolves
	// records with equal timestamps in favour of the newer file.
	inputs := append([]*sstable.Table(nil), plan.Inputs...)
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].CreationTime() > inputs[j].CreationTime() })
	all := append(inputs, plan.Overlapping...)
	recordsIn := 0
	sources := make([][]memtable.Record, 0, len(all))
	for _, t := range all {
		recs := t.All()
		recordsIn += len(recs)
		sources = append(sources, recs)
	}

	merged := mergeAndDedup(sources, isDeepest)

	outputs, err := writeOutputs(ctx, dir, tableType, plan.OutputLevel, merged, creationMs, cfg, logger)
	if err != nil {
		return Result{}, err
	}

	return Result{
		SourceLevel: plan.SourceLevel,
		OutputLevel: plan.OutputLevel,
		Outputs:     outputs,
		Inputs:      plan.Inputs,
		Overlapping: plan.Overlapping,
		RecordsIn:   recordsIn,
		RecordsOut:  len(merged),
	}, nil
}

// mergeAndDedup merges every source's records (each individually already
// key-ordered within its own file, but not necessarily across files) into
// one (key asc, timestamp desc) sequence, then keeps only the newest
// record per key. A tombstone is dropped entirely instead of kept when
// isDeepest is true, since no deeper level remains where an older Insert
// could need its shadow.
func mergeAndDedup(sources [][]memtable.Record, isDeepest bool) []memtable.Record {
	total := 0
	for _, s := range sources {
		total += len(s)
	}
	all := make([]memtable.Record, 0, total)
	for _, s := range sources {
		all = append(all, s...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if c := bytes.Compare(all[i].Key, all[j].Key); c != 0 {
			return c < 0
		}
		return all[i].Timestamp > all[j].Timestamp
	})

	out := make([]memtable.Record, 0, total)
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && bytes.Equal(all[j].Key, all[i].Key) {
			j++
		}
		newest := all[i] // newest-timestamp-first within each key run
		if !(isDeepest && newest.Deleted()) {
			out = append(out, newest)
		}
		i = j
	}
	return out
}

// writeOutputs splits merged into one or more sstables at level, sealing a
// file as soon as its accumulated key+value bytes reach cfg.TargetFileBytes
// (so a file holds at least that much unless it is the last one; the exact
// on-disk size depends on the container codec).
func writeOutputs(ctx context.Context, dir string, tableType container.TableType, level int, merged []memtable.Record, creationMs int64, cfg Config, logger logging.Logger) ([]*sstable.Table, error) {
	if len(merged) == 0 {
		return nil, nil
	}

	var outputs []*sstable.Table
	start := 0
	accumulated := int64(0)
	for i, r := range merged {
		accumulated += int64(len(r.Key) + len(r.Value))
		last := i == len(merged)-1
		if accumulated >= cfg.TargetFileBytes || last {
			if err := ctx.Err(); err != nil {
				// Cancelled at a file boundary: discard every output
				// sealed so far too, since the compaction as a whole is
				// installed atomically or not at all.
				for _, o := range outputs {
					_ = o.Close()
					_ = os.Remove(o.Path())
				}
				return nil, err
			}
			chunk := merged[start : i+1]
			// Offset creationMs by the output index so multiple files from
			// one compaction (same base timestamp) never collide under
			// the {type}_{level}_{creation-ms}_{entry-count} filename
			// contract even when two chunks happen to hold the same
			// entry count.
			fileCreationMs := creationMs + int64(len(outputs))
			tbl, err := sstable.BuildWithOptions(dir, tableType, level, chunk, fileCreationMs, cfg.BloomFPRate, cfg.Compression, logger)
			if err != nil {
				for _, o := range outputs {
					_ = o.Close()
				}
				return nil, err
			}
			outputs = append(outputs, tbl)
			start = i + 1
			accumulated = 0
		}
	}
	return outputs, nil
}
