package browserdb

// backup.go implements a single-shot, best-effort backup primitive: copy
// every .bdb file in a database directory into a timestamped subdirectory of
// the backup directory. There is no incremental/shared-file machinery and no
// backup listing or restore orchestration — spec.md places that kind of
// housekeeping outside the engine's concern, leaving only the
// copy-before-delete discipline the engine itself already relies on for
// compaction and quarantine (see lsm/recovery.go). BackupEngine is that same
// primitive exposed for a caller-triggered manual backup, writing into
// manual_backup/ rather than the engine's own compaction_backup/ or
// quarantine/.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/browserdb/browserdb/lsm"
)

// BackupEngine copies a database's .bdb files into a backup directory on
// demand.
type BackupEngine struct {
	db        *lsm.Engine
	backupDir string
}

// BackupInfo describes one completed backup.
type BackupInfo struct {
	Path      string
	Timestamp time.Time
	NumFiles  int
	TotalSize int64
}

// CreateBackupEngine returns a BackupEngine that backs up db's open
// directory into backupDir. backupDir is created if it does not already
// exist.
func CreateBackupEngine(db *lsm.Engine, backupDir string) (*BackupEngine, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("browserdb: create backup directory: %w", err)
	}
	return &BackupEngine{db: db, backupDir: backupDir}, nil
}

// CreateNewBackup copies every .bdb file currently present in the
// database's directory into a new timestamped subdirectory under
// manual_backup/. A read or copy failure on one file is reported in the
// returned error but does not stop the rest from being attempted: a partial
// backup of the files that could be read is more useful than none, and the
// database's own .bdb files remain the sole authoritative state regardless
// of backup outcome.
func (be *BackupEngine) CreateNewBackup() (BackupInfo, error) {
	dbDir := be.db.Dir()
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("browserdb: read database directory: %w", err)
	}

	dest := filepath.Join(be.backupDir, "manual_backup", fmt.Sprintf("%d", time.Now().UnixNano()))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return BackupInfo{}, fmt.Errorf("browserdb: create backup snapshot directory: %w", err)
	}

	info := BackupInfo{Path: dest, Timestamp: time.Now()}
	var failures []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".bdb") {
			continue
		}
		src := filepath.Join(dbDir, ent.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ent.Name(), err))
			continue
		}
		if err := os.WriteFile(filepath.Join(dest, ent.Name()), data, 0o644); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ent.Name(), err))
			continue
		}
		info.NumFiles++
		info.TotalSize += int64(len(data))
	}

	if len(failures) > 0 {
		return info, fmt.Errorf("browserdb: %d file(s) failed to back up: %s", len(failures), strings.Join(failures, "; "))
	}
	return info, nil
}

// Close releases the BackupEngine. There are no held resources today; the
// method exists so callers can defer it symmetrically with CreateBackupEngine
// without caring whether a future revision adds one.
func (be *BackupEngine) Close() error { return nil }
