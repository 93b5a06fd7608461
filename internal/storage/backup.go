package storage

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// RotateBackups copies the current snapshot to a timestamped backup and
// prunes old backups beyond retention (most recent kept). Called before a
// snapshot overwrite so a corrupt write can always fall back one step.
// A missing snapshot is a no-op.
func RotateBackups(p Paths, retention int, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	raw, err := os.ReadFile(p.Snapshot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot for backup: %w", err)
	}

	name := p.Backup(time.Now())
	if err := atomic.WriteFile(name, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	backups, err := p.Backups()
	if err != nil {
		return err
	}
	if retention < 1 {
		retention = 1
	}
	for _, stale := range backups[min(retention, len(backups)):] {
		if err := os.Remove(stale); err != nil {
			log.Warn("backup prune failed", zap.String("file", stale), zap.Error(err))
		}
	}
	return nil
}
