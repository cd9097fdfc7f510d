// Package lsm implements the engine API table façades call through: a
// per-table handle composing a memtable, a leveled set of sstables, a heat
// tracker, a hot cache, and a compaction engine behind a single-writer,
// multi-reader lock.
package lsm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/browserdb/browserdb/compaction"
	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/heat"
	"github.com/browserdb/browserdb/hotcache"
	"github.com/browserdb/browserdb/internal/errs"
	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/memtable"
	"github.com/browserdb/browserdb/sstable"
)

// Engine is an open handle on one table's directory: the Engine API's
// open/put/get/delete/range/flush/compact/stats/close surface.
type Engine struct {
	// mu serializes writers (Put/Delete/Flush/Compact install) and guards
	// the levels slice; reads take RLock to snapshot the current file
	// list, per spec.md §5's single-writer/multi-reader model.
	mu     sync.RWMutex
	dir    string
	tt     container.TableType
	opts   Options
	logger logging.Logger

	mem    *memtable.MemTable
	levels [][]*sstable.Table

	heatTracker *heat.Tracker
	hotCache    *hotcache.Cache
	pool        *compaction.Pool

	corruption  atomic.Int64
	quarantined atomic.Int64
	lastDecayMs atomic.Int64
	fileSeq     atomic.Int64
	closed      atomic.Bool
}

// Open opens (creating if necessary) the .bdb table-type database rooted
// at dir: it scans for existing files, validates and loads each one,
// quarantining any that fail recovery, and returns a ready Engine.
func Open(dir string, tableType container.TableType, opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindOpenFailed, "create database directory", err)
	}

	pool, err := compaction.NewPool(opts.MaxConcurrentCompactions)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:         dir,
		tt:          tableType,
		opts:        opts,
		logger:      opts.Logger,
		mem:         memtable.New(opts.MemtableMaxBytes),
		levels:      make([][]*sstable.Table, opts.LevelCount),
		heatTracker: heat.NewTracker(opts.HeatDecayFactor),
		hotCache:    hotcache.New(opts.HotCacheEntries),
		pool:        pool,
	}
	e.lastDecayMs.Store(nowMs())

	if err := e.recover(); err != nil {
		return nil, err
	}
	return e, nil
}

// Dir returns the directory this Engine was opened against, so a caller can
// point a file-level tool (backup, inspection) at the same namespace without
// the engine needing to expose its internal file handles.
func (e *Engine) Dir() string { return e.dir }

func nowMs() int64 { return time.Now().UnixMilli() }

// nextCreationMs returns a millisecond timestamp guaranteed to be unique
// across this Engine's own file creations, avoiding filename collisions
// under the {type}_{level}_{creation-ms}_{entry-count}.bdb contract when
// two flushes land in the same wall-clock millisecond.
func (e *Engine) nextCreationMs() int64 {
	seq := e.fileSeq.Add(1)
	return nowMs() + seq
}

// Put writes key=value, recording a Write access and triggering a flush if
// the memtable has crossed its threshold.
func (e *Engine) Put(key, value []byte) error {
	if len(key) > container.MaxKeyOrValueLen || len(value) > container.MaxKeyOrValueLen {
		return errs.New(errs.KindKeyOrValueTooLarge, "key or value exceeds 1 MiB")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return errs.New(errs.KindNotInitialized, "engine is closed")
	}

	e.heatTracker.Record(key, heat.Write, nowMs())
	if err := e.mem.Put(key, value, container.Insert, nowMs()); err != nil {
		return errs.Wrap(errs.KindMemtableFull, "memtable put", err)
	}
	e.hotCache.Invalidate(key)
	if e.mem.ShouldFlush() {
		return e.flushLocked()
	}
	return nil
}

// Delete appends a tombstone for key, shadowing any older record until a
// compaction reaches the deepest level holding it.
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return errs.New(errs.KindNotInitialized, "engine is closed")
	}

	e.heatTracker.Record(key, heat.Delete, nowMs())
	if err := e.mem.Delete(key, nowMs()); err != nil {
		return errs.Wrap(errs.KindMemtableFull, "memtable delete", err)
	}
	e.hotCache.Invalidate(key)
	if e.mem.ShouldFlush() {
		return e.flushLocked()
	}
	return nil
}

// Get returns key's value, checking the hot cache, then the memtable, then
// each level's sstables newest-first, short-circuiting on the first match
// (including a tombstone, which reports a miss). A cache-worthy hit (heat
// at or above HotThreshold) is admitted into the hot cache.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return nil, false, errs.New(errs.KindNotInitialized, "engine is closed")
	}

	now := nowMs()

	if v, ok := e.hotCache.Get(key, now); ok {
		e.heatTracker.Record(key, heat.Read, now)
		return v, true, nil
	}

	if rec, ok := e.mem.Lookup(key); ok {
		e.heatTracker.Record(key, heat.Read, now)
		if rec.Deleted() {
			return nil, false, nil
		}
		e.maybeCache(key, rec.Value, now)
		return rec.Value, true, nil
	}

	for level := 0; level < len(e.levels); level++ {
		files := e.levels[level]
		for i := len(files) - 1; i >= 0; i-- { // newest file first within a level
			rec, ok := files[i].Get(key)
			if !ok {
				continue
			}
			e.heatTracker.Record(key, heat.Read, now)
			if rec.Deleted() {
				return nil, false, nil
			}
			e.maybeCache(key, rec.Value, now)
			return rec.Value, true, nil
		}
	}

	return nil, false, nil
}

// maybeCache admits value into the hot cache when key's tracked heat has
// reached HotThreshold, per the heat tracker remaining the source of truth
// for cache admission (spec.md §9's resolved open question).
func (e *Engine) maybeCache(key, value []byte, now int64) {
	h := e.heatTracker.Heat(key)
	if h >= e.opts.HotThreshold {
		e.hotCache.Put(key, value, h, now)
	}
}

// rangeResult is an internal (key, value, timestamp, deleted) tuple used
// while merging range sources before the public KV-only result is built.
type rangeResult struct {
	key     []byte
	value   []byte
	ts      int64
	deleted bool
}

// Range returns every live key in [low, high], merged across the memtable
// and every intersecting sstable, newest-timestamp-wins on duplicate keys,
// tombstones suppressed, sorted by key ascending.
func (e *Engine) Range(low, high []byte) ([]container.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return nil, errs.New(errs.KindNotInitialized, "engine is closed")
	}

	var all []rangeResult
	for _, r := range e.mem.Range(low, high) {
		all = append(all, rangeResult{key: r.Key, value: r.Value, ts: r.Timestamp, deleted: r.Deleted()})
	}
	for level := 0; level < len(e.levels); level++ {
		for _, f := range e.levels[level] {
			if !keyRangeOverlaps(f, low, high) {
				continue
			}
			for _, r := range f.Range(low, high) {
				all = append(all, rangeResult{key: r.Key, value: r.Value, ts: r.Timestamp, deleted: r.Deleted()})
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if c := bytes.Compare(all[i].key, all[j].key); c != 0 {
			return c < 0
		}
		return all[i].ts > all[j].ts
	})

	out := make([]container.Entry, 0, len(all))
	i := 0
	for i < len(all) {
		j := i
		for j < len(all) && bytes.Equal(all[j].key, all[i].key) {
			j++
		}
		newest := all[i]
		if !newest.deleted {
			out = append(out, container.Entry{Kind: container.Insert, Key: newest.key, Value: newest.value, Timestamp: newest.ts})
		}
		i = j
	}
	return out, nil
}

func keyRangeOverlaps(f *sstable.Table, low, high []byte) bool {
	return bytes.Compare(f.MinKey(), high) <= 0 && bytes.Compare(f.MaxKey(), low) >= 0
}

// Flush drains the memtable into a new Level-0 sstable, regardless of
// whether the 80% threshold has been reached.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return errs.New(errs.KindNotInitialized, "engine is closed")
	}
	return e.flushLocked()
}

// flushLocked drains the memtable and writes it as a new Level-0 sstable.
// Caller must hold mu.
func (e *Engine) flushLocked() error {
	records := e.mem.DrainSorted()
	if len(records) == 0 {
		return nil
	}

	tbl, err := sstable.BuildWithOptions(e.dir, e.tt, 0, records, e.nextCreationMs(), e.opts.BloomFPRate, e.opts.Compression, e.logger)
	if err != nil {
		return err
	}
	e.levels[0] = append(e.levels[0], tbl)
	e.logger.Infof("[flush] wrote %s with %d records", filepath.Base(tbl.Path()), tbl.EntryCount())

	if len(e.levels[0]) > e.opts.L0FileTarget && len(e.levels) > 1 {
		if err := e.compactLocked(e.opts.Strategy, 0); err != nil {
			e.logger.Warnf("[compact] background compaction of level 0 failed: %v", err)
		}
	}
	return nil
}

// Compact runs one compaction pass at level using strategy, synchronously
// (the public entry point), installing results under the writer lock that
// Compact already holds.
func (e *Engine) Compact(strategy compaction.Strategy, level int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return errs.New(errs.KindNotInitialized, "engine is closed")
	}
	if level < 0 || level >= len(e.levels)-1 {
		return errs.New(errs.KindInvalidLevel, "level has no level below it to compact into")
	}
	return e.compactLocked(strategy, level)
}

// compactLocked plans one compaction at level, hands the merge itself to
// the compaction pool with mu released (so readers are never blocked for
// the duration of a merge), then reacquires mu to install the result and
// recursively compact the destination level if it is now over target.
// Caller must hold mu on entry and on return.
func (e *Engine) compactLocked(strategy compaction.Strategy, level int) error {
	if level+1 >= len(e.levels) {
		return nil
	}
	cfg := compaction.Config{
		LevelSizeMultiplier:      e.opts.LevelSizeMultiplier,
		L0FileTarget:             e.opts.L0FileTarget,
		DeeperFileTarget:         e.opts.DeeperFileTarget,
		MaxConcurrentCompactions: e.opts.MaxConcurrentCompactions,
		TargetFileBytes:          2 << 20,
		SizeTierRatioThreshold:   1.5,
		BloomFPRate:              e.opts.BloomFPRate,
		Compression:              e.opts.Compression,
		DeepestLevel:             len(e.levels) - 1,
	}

	plan := compaction.SelectInputs(strategy, level, e.levels[level], e.levels[level+1], compaction.WorkloadMixed, cfg)
	if len(plan.Inputs) < 2 {
		return nil // nothing worth merging
	}

	isDeepest := plan.OutputLevel == cfg.DeepestLevel
	creationMs := e.nextCreationMs()

	// The merge reads only plan's already-selected *sstable.Table pointers
	// and writes new files under e.dir; it touches no Engine-owned state,
	// so it can run with mu released. Submit's Job signature drops the
	// Result on its error channel, so the job stashes it in result via
	// closure instead.
	var result compaction.Result
	job := func(ctx context.Context) (compaction.Result, error) {
		r, mergeErr := compaction.Merge(ctx, e.dir, e.tt, plan, creationMs, isDeepest, cfg, e.logger)
		if mergeErr == nil {
			result = r
		}
		return r, mergeErr
	}

	e.mu.Unlock()
	err := <-e.pool.Submit(context.Background(), job)
	e.mu.Lock()
	if err != nil {
		return err
	}

	if e.closed.Load() {
		// The engine closed while this merge was running off the lock; its
		// output files are already on disk but there is no live level set
		// left to install them into.
		return nil
	}
	if !tablesPresent(e.levels[result.SourceLevel], result.Inputs) {
		// Another writer already installed a compaction touching the same
		// inputs while this one was running unlocked; skip rather than
		// double-remove tables that are no longer there.
		e.logger.Warnf("[compact] level %d -> %d: inputs no longer present, discarding result", result.SourceLevel, result.OutputLevel)
		for _, o := range result.Outputs {
			_ = o.Close()
			_ = os.Remove(o.Path())
		}
		return nil
	}

	e.installLocked(result)
	e.logger.Infof("[compact] level %d -> %d: %d records in, %d out, %d output file(s)",
		result.SourceLevel, result.OutputLevel, result.RecordsIn, result.RecordsOut, len(result.Outputs))

	if len(e.levels[result.OutputLevel]) > e.targetForLevel(result.OutputLevel) && result.OutputLevel < len(e.levels)-1 {
		return e.compactLocked(strategy, result.OutputLevel)
	}
	return nil
}

// tablesPresent reports whether every table in want is still an element of
// level, by pointer identity.
func tablesPresent(level []*sstable.Table, want []*sstable.Table) bool {
	have := make(map[*sstable.Table]bool, len(level))
	for _, t := range level {
		have[t] = true
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

func (e *Engine) targetForLevel(level int) int {
	if level == 0 {
		return e.opts.L0FileTarget
	}
	return e.opts.DeeperFileTarget
}

// installLocked removes result's input tables from their levels (backing
// each up to compaction_backup/ first, best-effort) and appends its
// outputs to the destination level. Caller must hold mu.
func (e *Engine) installLocked(result compaction.Result) {
	e.levels[result.SourceLevel] = removeTables(e.levels[result.SourceLevel], result.Inputs)
	if len(result.Overlapping) > 0 {
		e.levels[result.OutputLevel] = removeTables(e.levels[result.OutputLevel], result.Overlapping)
	}
	for _, t := range append(result.Inputs, result.Overlapping...) {
		e.backupAndRemove(t, "compaction_backup")
	}
	e.levels[result.OutputLevel] = append(e.levels[result.OutputLevel], result.Outputs...)
}

func removeTables(level []*sstable.Table, remove []*sstable.Table) []*sstable.Table {
	dead := make(map[*sstable.Table]bool, len(remove))
	for _, t := range remove {
		dead[t] = true
	}
	out := level[:0:0]
	for _, t := range level {
		if !dead[t] {
			out = append(out, t)
		}
	}
	return out
}

// Stats returns a point-in-time snapshot of the engine's state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	levels := make([]LevelStats, len(e.levels))
	for i, files := range e.levels {
		var size int64
		for _, f := range files {
			size += f.SizeBytes()
		}
		levels[i] = LevelStats{Level: i, FileCount: len(files), SizeBytes: size}
	}

	return Stats{
		MemtableBytes:    e.mem.Size(),
		MemtableRecords:  e.mem.Len(),
		Levels:           levels,
		CorruptionEvents: e.corruption.Load() + e.sumTableCorruption(),
		QuarantinedFiles: int(e.quarantined.Load()),
		HotKeys:          e.heatTracker.HotKeys(10),
	}
}

func (e *Engine) sumTableCorruption() int64 {
	var n int64
	for _, files := range e.levels {
		for _, f := range files {
			n += f.CorruptionCount()
		}
	}
	return n
}

// DecayHeat runs one heat-decay pass if at least one decay cycle has
// elapsed since the last pass (a call sooner than that does nothing and
// returns 0), evicting entries whose decayed heat falls
// below the eviction threshold. Callers (e.g. a background ticker owned by
// the embedding process) are expected to call this periodically; the
// engine itself starts no goroutines, per spec.md §9's "no global state is
// required" design note.
func (e *Engine) DecayHeat() int {
	now := nowMs()
	last := e.lastDecayMs.Load()
	if float64(now-last) < heat.DecayCycleSeconds*1000 {
		return 0
	}
	if !e.lastDecayMs.CompareAndSwap(last, now) {
		return 0
	}
	return e.heatTracker.Decay(now, last)
}

// Close flushes the memtable, writes pending footers (sstables are already
// sealed at build time, so Close's own work is limited to the final drain
// and releasing mmaps), and marks the engine unusable.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Swap(true) {
		return nil
	}

	if err := e.flushLocked(); err != nil {
		e.logger.Errorf("[engine] flush on close failed: %v", err)
	}

	var firstErr error
	for _, files := range e.levels {
		for _, f := range files {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
