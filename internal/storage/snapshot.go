package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Paths derives every on-disk artifact name from a data directory and a
// base name. Layout:
//
//	<base>.json              snapshot (strict JSON object key -> value)
//	<base>.log               write-ahead log, one record per line
//	<base>.tmp               in-flight snapshot write; never a source of truth
//	<base>.backup_<stamp>    rotated snapshot backups
type Paths struct {
	Dir  string
	Base string
}

// Nanosecond precision keeps names unique under rapid rotation.
const backupStampLayout = "20060102T150405.000000000Z"

func (p Paths) Snapshot() string { return filepath.Join(p.Dir, p.Base+".json") }
func (p Paths) WAL() string      { return filepath.Join(p.Dir, p.Base+".log") }
func (p Paths) Temp() string     { return filepath.Join(p.Dir, p.Base+".tmp") }

// Backup returns the backup file name for the given moment.
func (p Paths) Backup(t time.Time) string {
	return filepath.Join(p.Dir, p.Base+".backup_"+t.UTC().Format(backupStampLayout))
}

// Backups lists existing backup files, newest first.
func (p Paths) Backups() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(p.Dir, p.Base+".backup_*"))
	if err != nil {
		return nil, fmt.Errorf("glob backups: %w", err)
	}
	// The stamp layout sorts lexicographically; reverse for newest first.
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches, nil
}

// WriteSnapshot atomically replaces the snapshot with a full serialisation
// of data. The write goes to <base>.tmp first; the rename is the commit
// point, so a crash mid-write leaves the previous snapshot intact. A stale
// .tmp from an earlier failed attempt is silently overwritten.
func WriteSnapshot(p Paths, data map[string]any) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.OpenFile(p.Temp(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot tmp: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(p.Temp())
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(p.Temp())
		return fmt.Errorf("sync snapshot tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(p.Temp())
		return fmt.Errorf("close snapshot tmp: %w", err)
	}

	if err := os.Rename(p.Temp(), p.Snapshot()); err != nil {
		return fmt.Errorf("promote snapshot: %w", err)
	}
	return nil
}

// readSnapshotFile parses a snapshot file strictly. Any JSON error is a
// corruption signal for the recovery path.
func readSnapshotFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}
