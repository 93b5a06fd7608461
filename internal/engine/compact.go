package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/storage"
)

// Compact folds the WAL into a fresh snapshot: backup rotation, atomic
// snapshot write, WAL truncation. Runs inside the writer critical
// section so no append can interleave with the truncate.
func (e *Engine) Compact() error {
	if err := e.readable(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.compactLocked(); err != nil {
		e.bus.emit(Event{Type: EventError, Value: err})
		return err
	}
	return nil
}

func (e *Engine) compactLocked() error {
	if err := storage.RotateBackups(e.paths, e.opts.BackupRetention, e.opts.Logger); err != nil {
		return fmt.Errorf("rotate backups: %w", err)
	}
	if err := storage.WriteSnapshot(e.paths, e.data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := e.wal.Truncate(); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}

	// The snapshot holds values only. Re-log live expiries so a restart
	// before the next compaction still honours them.
	for key, exp := range e.ttl {
		if err := e.wal.Append(storage.NewTTL(key, exp)); err != nil {
			return fmt.Errorf("relog ttl for %q: %w", key, err)
		}
	}

	e.log.Debug("compacted",
		zap.Int("keys", len(e.data)),
		zap.Int("ttls", len(e.ttl)),
	)
	return nil
}
