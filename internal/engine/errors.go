package engine

import "errors"

var (
	// ErrNotReady means an operation was attempted before Init.
	ErrNotReady = errors.New("engine not initialised")

	// ErrClosed means the engine has been shut down.
	ErrClosed = errors.New("engine closed")

	// ErrDurability wraps a WAL append failure. The in-memory state was
	// NOT updated; the caller's mutation did not happen.
	ErrDurability = errors.New("durability failure")

	// ErrReplicaReadOnly means a replica rejected a local write through
	// the public API. Replicas mutate only via the replication channel
	// (and node-local `_` keys).
	ErrReplicaReadOnly = errors.New("replica is read-only")

	// ErrNotReplica means ApplyOp was called on a primary.
	ErrNotReplica = errors.New("node is not a replica")

	// ErrInternalKey means a replicated op targeted a reserved `_` key,
	// which is node-local state and never crosses the wire.
	ErrInternalKey = errors.New("internal keys are not replicated")

	// ErrUnknownEvent means a listener was registered for an event type
	// outside the closed taxonomy.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrVetoed means a write interceptor rejected the operation.
	ErrVetoed = errors.New("operation vetoed by interceptor")
)

// internalPrefix marks node-local keys: system metadata, the conflict
// log, and anything else excluded from replication.
const internalPrefix = "_"

func isInternalKey(key string) bool {
	return len(key) > 0 && key[0] == '_'
}
