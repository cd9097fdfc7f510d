// Command bdbsmoke exercises the engine end-to-end against a temporary
// directory: put, get, delete, range, flush, and compact, printing a summary
// of what happened. It is a runnable demonstration of the Engine API, not a
// stress-test harness: it makes no attempt to drive concurrent load or
// measure throughput.
package main

import (
	"fmt"
	"os"

	"github.com/browserdb/browserdb/compaction"
	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/lsm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bdbsmoke: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "bdbsmoke-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	fmt.Printf("database directory: %s\n", dir)

	opts := lsm.DefaultOptions()
	opts.MemtableMaxBytes = 16 << 10 // small, so this demo actually produces a few Level-0 files
	opts.Logger = logging.NewDefaultLogger(logging.LevelInfo)

	e, err := lsm.Open(dir, container.Cache, opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Close()

	const n = 2000
	fmt.Printf("putting %d records\n", n)
	for i := range n {
		key := []byte(fmt.Sprintf("k%d", i))
		val := []byte(fmt.Sprintf("v%d", i))
		if err := e.Put(key, val); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
	}

	v, ok, err := e.Get([]byte("k500"))
	if err != nil {
		return fmt.Errorf("get k500: %w", err)
	}
	fmt.Printf("get k500 -> %q, found=%v\n", v, ok)

	if err := e.Delete([]byte("k500")); err != nil {
		return fmt.Errorf("delete k500: %w", err)
	}
	_, ok, err = e.Get([]byte("k500"))
	if err != nil {
		return fmt.Errorf("get k500 after delete: %w", err)
	}
	fmt.Printf("get k500 after delete -> found=%v\n", ok)

	entries, err := e.Range([]byte("k498"), []byte("k501"))
	if err != nil {
		return fmt.Errorf("range: %w", err)
	}
	fmt.Printf("range [k498, k501] -> %d live entries\n", len(entries))
	for _, ent := range entries {
		fmt.Printf("  %s -> %s\n", ent.Key, ent.Value)
	}

	if err := e.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	stats := e.Stats()
	fmt.Printf("before compaction: level 0 has %d file(s)\n", stats.Levels[0].FileCount)

	if err := e.Compact(compaction.Leveled, 0); err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	stats = e.Stats()
	for _, l := range stats.Levels {
		if l.FileCount == 0 {
			continue
		}
		fmt.Printf("level %d: %d file(s), %d bytes\n", l.Level, l.FileCount, l.SizeBytes)
	}
	fmt.Printf("corruption events: %d, quarantined files: %d\n", stats.CorruptionEvents, stats.QuarantinedFiles)
	fmt.Printf("hot keys: %v\n", stats.HotKeys)

	return nil
}
