package lsm

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/browserdb/browserdb/sstable"
)

// recover scans e.dir for .bdb files, loads and validates each one, and
// quarantines (moves aside, not deletes) any that fail recovery, per
// spec.md §7: "a partially written file (no valid footer) is quarantined;
// its in-flight operation is treated as not performed." The engine
// proceeds to serve whatever files did load.
func (e *Engine) recover() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil // freshly created directory: nothing to recover
	}

	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".bdb") {
			continue
		}
		path := filepath.Join(e.dir, ent.Name())

		tbl, err := sstable.Load(path, e.logger)
		if err != nil {
			e.logger.Warnf("[recovery] quarantining %s: %v", ent.Name(), err)
			if qerr := e.quarantine(path); qerr != nil {
				e.logger.Errorf("[recovery] failed to quarantine %s: %v", ent.Name(), qerr)
			}
			continue
		}
		if tbl.TableType() != e.tt {
			e.logger.Warnf("[recovery] quarantining %s: table type %s does not match database table type %s", ent.Name(), tbl.TableType(), e.tt)
			_ = tbl.Close()
			if qerr := e.quarantine(path); qerr != nil {
				e.logger.Errorf("[recovery] failed to quarantine %s: %v", ent.Name(), qerr)
			}
			continue
		}

		level := tbl.Level()
		if level < 0 || level >= len(e.levels) {
			level = len(e.levels) - 1
		}
		e.levels[level] = append(e.levels[level], tbl)
	}

	for level := range e.levels {
		sortLevel(level, e.levels[level])
	}
	return nil
}

// sortLevel orders a level's files the way the read path expects: Level 0
// oldest-to-newest (Get then scans it newest-first), deeper levels by
// minimum key ascending, since their ranges are disjoint.
func sortLevel(level int, files []*sstable.Table) {
	if level == 0 {
		sort.Slice(files, func(i, j int) bool { return files[i].CreationTime() < files[j].CreationTime() })
		return
	}
	sort.Slice(files, func(i, j int) bool { return bytes.Compare(files[i].MinKey(), files[j].MinKey()) < 0 })
}

// quarantine moves path into dir/quarantine/, creating the subdirectory if
// needed. Quarantine is advisory and best-effort: a failure to move the
// file is logged by the caller but does not abort recovery.
func (e *Engine) quarantine(path string) error {
	qdir := filepath.Join(e.dir, "quarantine")
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(qdir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return err
	}
	e.quarantined.Add(1)
	return nil
}

// backupAndRemove best-effort copies t's file into dir/subdir/ before
// closing and deleting it, per spec.md §6's backup-before-delete
// discipline for compaction and cleanup. A copy failure is logged but does
// not block the delete: the backup is advisory, the delete of an
// already-merged input is not.
func (e *Engine) backupAndRemove(t *sstable.Table, subdir string) {
	path := t.Path()
	bdir := filepath.Join(e.dir, subdir)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		e.logger.Warnf("[compact] backup directory unavailable: %v", err)
	} else if data, err := os.ReadFile(path); err != nil {
		e.logger.Warnf("[compact] failed to read %s for backup: %v", path, err)
	} else if err := os.WriteFile(filepath.Join(bdir, filepath.Base(path)), data, 0o644); err != nil {
		e.logger.Warnf("[compact] failed to write backup of %s: %v", path, err)
	}

	if err := t.Close(); err != nil {
		e.logger.Warnf("[compact] failed to close %s before removal: %v", path, err)
	}
	if err := os.Remove(path); err != nil {
		e.logger.Warnf("[compact] failed to remove %s after compaction: %v", path, err)
	}
}
