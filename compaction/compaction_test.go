package compaction

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/memtable"
	"github.com/browserdb/browserdb/sstable"
)

func buildTable(t *testing.T, dir string, level int, creationMs int64, pairs map[string]string, ts int64) *sstable.Table {
	t.Helper()
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	records := make([]memtable.Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, memtable.Record{
			Key:       []byte(k),
			Value:     []byte(pairs[k]),
			Kind:      container.Insert,
			Timestamp: ts,
		})
	}
	tbl, err := sstable.Build(dir, container.Cache, level, records, creationMs, logging.Discard)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func TestMergeAndDedupKeepsNewestByTimestamp(t *testing.T) {
	dir := t.TempDir()
	older := buildTable(t, dir, 0, 1, map[string]string{"x": "v1"}, 10)
	newer := buildTable(t, dir, 0, 2, map[string]string{"x": "v2"}, 20)

	plan := Plan{SourceLevel: 0, OutputLevel: 1, Inputs: []*sstable.Table{older, newer}}
	cfg := DefaultConfig()

	result, err := Merge(context.Background(), dir, container.Cache, plan, 3, false, cfg, logging.Discard)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.RecordsOut != 1 {
		t.Fatalf("RecordsOut = %d, want 1", result.RecordsOut)
	}
	if len(result.Outputs) != 1 {
		t.Fatalf("len(Outputs) = %d, want 1", len(result.Outputs))
	}
	r, ok := result.Outputs[0].Get([]byte("x"))
	if !ok || string(r.Value) != "v2" {
		t.Fatalf("merged value = %q, %v, want v2, true", r.Value, ok)
	}
}

func TestMergeDropsTombstonesOnlyAtDeepestLevel(t *testing.T) {
	dir := t.TempDir()
	insertTbl := buildTable(t, dir, 0, 1, map[string]string{"x": "v1"}, 10)

	tombstoneRecords := []memtable.Record{{Key: []byte("x"), Kind: container.Delete, Timestamp: 20}}
	tombTbl, err := sstable.Build(dir, container.Cache, 0, tombstoneRecords, 2, logging.Discard)
	if err != nil {
		t.Fatalf("Build tombstone table: %v", err)
	}
	defer tombTbl.Close()

	cfg := DefaultConfig()
	plan := Plan{SourceLevel: 0, OutputLevel: 1, Inputs: []*sstable.Table{insertTbl, tombTbl}}

	notDeepest, err := Merge(context.Background(), dir, container.Cache, plan, 3, false, cfg, logging.Discard)
	if err != nil {
		t.Fatalf("Merge (not deepest): %v", err)
	}
	if notDeepest.RecordsOut != 1 {
		t.Fatalf("not-deepest RecordsOut = %d, want 1 (tombstone preserved)", notDeepest.RecordsOut)
	}
	r, ok := notDeepest.Outputs[0].Get([]byte("x"))
	if !ok || !r.Deleted() {
		t.Fatalf("expected a preserved tombstone, got %+v, %v", r, ok)
	}

	deepest, err := Merge(context.Background(), dir, container.Cache, plan, 4, true, cfg, logging.Discard)
	if err != nil {
		t.Fatalf("Merge (deepest): %v", err)
	}
	if deepest.RecordsOut != 0 {
		t.Fatalf("deepest RecordsOut = %d, want 0 (tombstone dropped)", deepest.RecordsOut)
	}
}

func TestSelectInputsLeveledPicksOldestPlusOverlap(t *testing.T) {
	dir := t.TempDir()
	l0a := buildTable(t, dir, 0, 1, map[string]string{"a": "1", "b": "1"}, 1)
	l0b := buildTable(t, dir, 0, 2, map[string]string{"c": "1"}, 2)
	l1Overlap := buildTable(t, dir, 1, 1, map[string]string{"a": "0"}, 0)
	l1NoOverlap := buildTable(t, dir, 1, 1, map[string]string{"z": "0"}, 0)

	cfg := DefaultConfig()
	cfg.L0FileTarget = 2
	plan := SelectInputs(Leveled, 0, []*sstable.Table{l0a, l0b}, []*sstable.Table{l1Overlap, l1NoOverlap}, WorkloadMixed, cfg)

	if len(plan.Inputs) == 0 {
		t.Fatalf("expected at least one selected input")
	}
	foundOverlap := false
	for _, o := range plan.Overlapping {
		if o == l1Overlap {
			foundOverlap = true
		}
		if o == l1NoOverlap {
			t.Fatalf("non-overlapping level-1 file should not be selected")
		}
	}
	if !foundOverlap {
		t.Fatalf("expected l1Overlap to be selected as an overlapping file")
	}
}

func TestSizeTieredGroupsSimilarSizedFiles(t *testing.T) {
	dir := t.TempDir()
	small1 := buildTable(t, dir, 0, 1, map[string]string{"a": "1"}, 1)
	small2 := buildTable(t, dir, 0, 2, map[string]string{"b": "1"}, 1)
	big := buildTable(t, dir, 0, 3, map[string]string{"c": fmt.Sprintf("%0500d", 1)}, 1)

	group := sizeTieredGroup([]*sstable.Table{small1, small2, big}, 1.5)
	if len(group) != 2 {
		t.Fatalf("sizeTieredGroup returned %d files, want 2 (the similar-sized pair)", len(group))
	}
	for _, g := range group {
		if g == big {
			t.Fatalf("the outsized file should not be grouped with the small ones")
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool, err := NewPool(2)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	job := func(ctx context.Context) (Result, error) {
		started <- struct{}{}
		<-release
		return Result{}, nil
	}

	// Submit blocks while the pool is full, so each submission runs in its
	// own goroutine.
	var submitters sync.WaitGroup
	for range 3 {
		submitters.Add(1)
		go func() {
			defer submitters.Done()
			pool.Submit(context.Background(), job)
		}()
	}

	// Only 2 of the 3 jobs should be able to start concurrently.
	<-started
	<-started
	select {
	case <-started:
		t.Fatalf("a third job started before a slot freed")
	default:
	}
	close(release)
	submitters.Wait()
	pool.Wait()
}

func TestNewPoolRejectsNonPositiveConcurrency(t *testing.T) {
	if _, err := NewPool(0); err == nil {
		t.Fatalf("NewPool(0) should fail")
	}
}

func TestMergeAndDedupOrdersByKeyAscending(t *testing.T) {
	sources := [][]memtable.Record{
		{{Key: []byte("b"), Timestamp: 1}, {Key: []byte("a"), Timestamp: 1}},
	}
	out := mergeAndDedup(sources, false)
	if len(out) != 2 || !bytes.Equal(out[0].Key, []byte("a")) || !bytes.Equal(out[1].Key, []byte("b")) {
		t.Fatalf("mergeAndDedup did not sort by key ascending: %+v", out)
	}
}
