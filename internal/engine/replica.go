package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/replication"
)

// conflictsKey persists the replica's conflict log. Internal prefix:
// node-local, never replicated.
const conflictsKey = "_conflicts"

// ApplyOp applies one replicated mutation on a replica. Re-applying the
// same op is idempotent; an op older than the local last write for the
// key is a conflict, decided by the configured resolver or by
// last-writer-wins with the remote preferred.
func (e *Engine) ApplyOp(op replication.Op) error {
	if err := e.readable(); err != nil {
		return err
	}
	if e.opts.Role != replication.RoleReplica {
		return ErrNotReplica
	}
	if isInternalKey(op.Key) {
		return ErrInternalKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch op.Op {
	case replication.OpSet:
		value := op.Value
		if localTs := e.lastWrite[op.Key]; localTs > op.Ts {
			value = e.resolveConflictLocked(op)
		}
		return e.commitPutLocked(op.Key, value, 0, false, op.Ts, EventSet)
	case replication.OpDelete:
		_, err := e.commitDeleteLocked(op.Key, op.Ts)
		return err
	case replication.OpClear:
		return e.clearLocked()
	default:
		return fmt.Errorf("unknown replication op %q", op.Op)
	}
}

// resolveConflictLocked records the conflict and returns the winning
// value.
func (e *Engine) resolveConflictLocked(op replication.Op) any {
	local := e.data[op.Key]

	strategy := replication.StrategyLWWRemote
	winner := op.Value
	if e.opts.OnConflict != nil {
		strategy = replication.StrategyCustom
		winner = e.opts.OnConflict(local, op.Value, op)
	}

	// Duplicate delivery of an op already logged must not grow the ring.
	for i := len(e.conflicts) - 1; i >= 0; i-- {
		c := e.conflicts[i]
		if c.Key == op.Key && c.RemoteTs == op.Ts && c.NodeID == op.NodeID {
			return winner
		}
	}

	e.conflicts = append(e.conflicts, replication.Conflict{
		Key:      op.Key,
		Strategy: strategy,
		LocalTs:  e.lastWrite[op.Key],
		RemoteTs: op.Ts,
		NodeID:   op.NodeID,
		Local:    local,
		Remote:   op.Value,
		At:       time.Now(),
	})
	if len(e.conflicts) > replication.ConflictLogCap {
		e.conflicts = e.conflicts[len(e.conflicts)-replication.ConflictLogCap:]
	}
	e.persistConflictsLocked()

	e.log.Warn("replication conflict",
		zap.String("key", op.Key),
		zap.String("strategy", strategy),
		zap.String("from", op.NodeID),
	)
	return winner
}

// persistConflictsLocked writes the conflict log under an internal key
// through the normal durable pipeline. Best-effort: a failure costs the
// persisted copy, not the in-memory one.
func (e *Engine) persistConflictsLocked() {
	value := cloneValue(e.conflicts)
	if err := e.commitPutLocked(conflictsKey, value, 0, false, time.Now().UnixMilli(), EventSet); err != nil {
		e.log.Warn("conflict log persist failed", zap.Error(err))
	}
}

// loadConflicts rebuilds the in-memory conflict ring from the persisted
// internal key after recovery.
func (e *Engine) loadConflicts() {
	v, ok := e.data[conflictsKey]
	if !ok {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	var entries []replication.Conflict
	if err := json.Unmarshal(raw, &entries); err != nil {
		e.log.Warn("conflict log unreadable; starting fresh", zap.Error(err))
		return
	}
	e.conflicts = entries
}

// Conflicts returns a copy of the conflict log, oldest first.
func (e *Engine) Conflicts() []replication.Conflict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]replication.Conflict(nil), e.conflicts...)
}

// ReplicationStatus is the status surface: role, identity, follower
// health, conflict count.
func (e *Engine) ReplicationStatus() replication.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := replication.Status{
		Role:      e.opts.Role,
		NodeID:    e.opts.NodeID,
		Conflicts: len(e.conflicts),
	}
	if e.repl != nil {
		st.Followers = e.repl.Health()
	}
	return st
}
