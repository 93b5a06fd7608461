package storage

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// RecoveredState is the outcome of snapshot loading at startup.
// Degraded means every recovery path failed and the engine starts empty;
// that is surfaced as a warning, not a fatal error.
type RecoveredState struct {
	Data     map[string]any
	Degraded bool
	// RestoredFrom names the backup file promoted to snapshot, if the
	// primary snapshot was unreadable. Empty on the happy path.
	RestoredFrom string
}

// LoadSnapshot reads the snapshot, falling back through backups, newest
// first, when it is corrupt. An intact backup is copied over the snapshot
// so subsequent startups take the fast path.
//
// Error policy (mirrors the reconcile policy of the write path):
//   - absent snapshot: empty store, clean;
//   - unreadable snapshot, intact backup: restored state + warning;
//   - everything unreadable: empty store, Degraded=true + warning.
func LoadSnapshot(p Paths, log *zap.Logger) (RecoveredState, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("recovery")

	data, err := readSnapshotFile(p.Snapshot())
	if err == nil {
		return RecoveredState{Data: data}, nil
	}
	if os.IsNotExist(err) {
		return RecoveredState{Data: make(map[string]any)}, nil
	}
	log.Warn("snapshot unreadable; trying backups", zap.Error(err))

	backups, berr := p.Backups()
	if berr != nil {
		log.Warn("backup listing failed", zap.Error(berr))
	}
	for _, name := range backups {
		data, err := readSnapshotFile(name)
		if err != nil {
			log.Warn("backup unreadable; skipping", zap.String("file", name), zap.Error(err))
			continue
		}
		if raw, rerr := os.ReadFile(name); rerr == nil {
			if werr := atomic.WriteFile(p.Snapshot(), bytes.NewReader(raw)); werr != nil {
				log.Warn("backup promote failed", zap.String("file", name), zap.Error(werr))
			}
		}
		log.Warn("recovered store from backup", zap.String("file", name))
		return RecoveredState{Data: data, RestoredFrom: name}, nil
	}

	log.Warn("all recovery paths failed; starting empty")
	return RecoveredState{Data: make(map[string]any), Degraded: true}, nil
}
