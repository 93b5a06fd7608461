package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/index"
	"github.com/keelworks/keeldb/internal/query"
	"github.com/keelworks/keeldb/internal/replication"
	"github.com/keelworks/keeldb/internal/storage"
	"github.com/keelworks/keeldb/pkg/dotpath"
)

// indexBuildBatch is the scan batch size for CreateIndex. The lock is
// released between batches so a build on a large store never starves
// writers.
const indexBuildBatch = 1000

// Set stores value under key. WithTTL gives the entry an expiry; a Set
// without TTL clears any existing one. The value is durable (WAL fsync)
// before the in-memory state changes.
func (e *Engine) Set(key string, value any, opts ...SetOption) error {
	if err := e.writable(key); err != nil {
		return err
	}
	var cfg setConfig
	for _, o := range opts {
		o(&cfg)
	}
	event := EventSet
	if _, known := knownEvents[cfg.event]; known {
		event = cfg.event
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.putLocked(key, value, cfg, event)
}

// Get returns the value for key. Expired entries stay visible until the
// next sweep collects them.
func (e *Engine) Get(key string) (any, bool) {
	if e.readable() != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getLocked(key)
}

func (e *Engine) getLocked(key string) (any, bool) {
	if err := e.chain.preRead(key); err != nil {
		e.log.Debug("read vetoed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	e.reads.Add(1)
	if v, ok := e.cache.Get(key); ok {
		e.hits.Add(1)
		return e.chain.postRead(key, v), true
	}
	e.misses.Add(1)
	v, ok := e.data[key]
	if !ok {
		return nil, false
	}
	e.cache.Add(key, v)
	return e.chain.postRead(key, v), true
}

// Has reports whether key is present, without touching cache stats.
func (e *Engine) Has(key string) bool {
	if e.readable() != nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.data[key]
	return ok
}

// Delete removes key. Returns false when the key was absent; an absent
// key writes nothing to the WAL.
func (e *Engine) Delete(key string) (bool, error) {
	if err := e.writable(key); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteLocked(key)
}

// All returns a copy of the live key space. Values are shared
// references into the store; callers must treat them as read-only.
func (e *Engine) All() map[string]any {
	if e.readable() != nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

// Len is the live entry count.
func (e *Engine) Len() int {
	if e.readable() != nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data)
}

// Clear removes every entry, indexes included (registrations survive).
func (e *Engine) Clear() error {
	if err := e.writable(""); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.clearLocked(); err != nil {
		return err
	}
	e.broadcastLocked(replication.Op{
		Op: replication.OpClear, Ts: time.Now().UnixMilli(), NodeID: e.opts.NodeID,
	})
	return nil
}

// GetPath projects a dot-separated path out of the value at key.
func (e *Engine) GetPath(key, path string) (any, bool) {
	v, ok := e.Get(key)
	if !ok {
		return nil, false
	}
	return dotpath.Project(v, path)
}

// SetPath writes value at a dot-separated path inside the entry at key,
// creating the entry and intermediate objects as needed. The whole
// updated value rides the normal write pipeline.
func (e *Engine) SetPath(key, path string, value any) error {
	if err := e.writable(key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Mutate a private copy: the stored tree may be aliased by earlier
	// Get results, and nothing may change before the WAL append lands.
	root := cloneValue(e.data[key])
	updated, err := dotpath.Set(root, path, value)
	if err != nil {
		return fmt.Errorf("set path %q: %w", path, err)
	}
	return e.putLocked(key, updated, setConfig{}, EventSet)
}

// Add atomically adds delta to the numeric value at key. A missing or
// non-numeric value counts as 0. Returns the new value.
func (e *Engine) Add(key string, delta float64) (float64, error) {
	if err := e.writable(key); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := 0.0
	if v, ok := e.data[key]; ok {
		if n, numeric := toNumber(v); numeric {
			cur = n
		}
	}
	next := cur + delta
	if err := e.putLocked(key, next, setConfig{}, EventAdd); err != nil {
		return 0, err
	}
	return next, nil
}

// Push appends item to the array at key, creating the array for a
// missing key. A non-array value is an error.
func (e *Engine) Push(key string, item any) error {
	if err := e.writable(key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var next []any
	if v, ok := e.data[key]; ok {
		cur, isArr := v.([]any)
		if !isArr {
			return fmt.Errorf("push: value at %q is not an array", key)
		}
		next = append(append(make([]any, 0, len(cur)+1), cur...), item)
	} else {
		next = []any{item}
	}
	return e.putLocked(key, next, setConfig{}, EventPush)
}

// Pull removes every element equal to item from the array at key and
// returns the removed count. A missing key removes nothing.
func (e *Engine) Pull(key string, item any) (int, error) {
	if err := e.writable(key); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.data[key]
	if !ok {
		return 0, nil
	}
	cur, isArr := v.([]any)
	if !isArr {
		return 0, fmt.Errorf("pull: value at %q is not an array", key)
	}
	kept := make([]any, 0, len(cur))
	for _, el := range cur {
		if !query.Equal(el, item) {
			kept = append(kept, el)
		}
	}
	removed := len(cur) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := e.putLocked(key, kept, setConfig{}, EventPull); err != nil {
		return 0, err
	}
	return removed, nil
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Reads    int64   `json:"reads"`
	Writes   int64   `json:"writes"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hitRate"`
	Size     int     `json:"size"`
	TTLCount int     `json:"ttlCount"`
}

// Stats reports read/write counters, cache effectiveness and sizes.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	size, ttlCount := len(e.data), len(e.ttl)
	e.mu.RUnlock()

	s := Stats{
		Reads:    e.reads.Load(),
		Writes:   e.writes.Load(),
		Hits:     e.hits.Load(),
		Misses:   e.misses.Load(),
		Size:     size,
		TTLCount: ttlCount,
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}

// Find filters the whole store with an opaque predicate (always a scan).
// pred runs while the engine's read lock is held: it must not call back
// into the engine's write API, or it deadlocks.
func (e *Engine) Find(pred func(key string, value any) bool) (*query.Result, error) {
	if err := e.readable(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exec.Find(pred), nil
}

// Where evaluates field/op/value, through an index when one fits.
func (e *Engine) Where(field, op string, value any) (*query.Result, error) {
	return e.EvalClause(query.Clause{Field: field, Op: op, Value: value})
}

// EvalClause executes a tagged clause. Evaluation holds the engine's
// read lock; see Find for the reentrancy rule.
func (e *Engine) EvalClause(c query.Clause) (*query.Result, error) {
	if err := e.readable(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exec.Eval(c), nil
}

// CreateIndex builds an index over field in batches, releasing the lock
// between batches and honouring ctx cancellation at batch boundaries.
// Writes landing during the build are buffered by the index manager and
// applied before the index becomes visible to queries.
func (e *Engine) CreateIndex(ctx context.Context, field string, kind index.Kind) error {
	if err := e.readable(); err != nil {
		return err
	}

	e.mu.Lock()
	idx, err := e.indexes.Begin(field, kind)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	e.mu.Unlock()

	for start := 0; start < len(keys); start += indexBuildBatch {
		if err := ctx.Err(); err != nil {
			e.mu.Lock()
			e.indexes.Abort(field)
			e.mu.Unlock()
			return fmt.Errorf("index build aborted: %w", err)
		}
		end := min(start+indexBuildBatch, len(keys))
		e.mu.RLock()
		for _, k := range keys[start:end] {
			v, ok := e.data[k]
			if !ok {
				continue // deleted mid-build; the buffered update covers it
			}
			if fv, defined := dotpath.Project(v, field); defined {
				idx.Add(k, fv)
			}
		}
		e.mu.RUnlock()
	}

	e.mu.Lock()
	e.indexes.Publish(field)
	e.mu.Unlock()
	return nil
}

// DropIndex removes a published index.
func (e *Engine) DropIndex(field string) error {
	if err := e.readable(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexes.Drop(field)
}

// ListIndexes describes the published indexes.
func (e *Engine) ListIndexes() []index.Info {
	if e.readable() != nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.indexes.List()
}

// putLocked is the local write pipeline: interceptors, durable commit,
// replication enqueue. Caller holds the write lock.
func (e *Engine) putLocked(key string, value any, cfg setConfig, eventType string) error {
	value, err := e.chain.preWrite(key, value)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var exp int64
	if cfg.has {
		exp = now + cfg.ttl.Milliseconds()
		if cfg.ttl <= 0 {
			exp = now // eligible at the next sweep
		}
	}
	if err := e.commitPutLocked(key, value, exp, cfg.has, now, eventType); err != nil {
		return err
	}
	e.chain.postWrite(key, value)
	e.broadcastLocked(replication.Op{
		Op: replication.OpSet, Key: key, Value: value, Ts: now, NodeID: e.opts.NodeID,
	})
	return nil
}

// commitPutLocked makes one put durable and applies it to memory,
// indexes, events and watchers. Shared by local writes and ApplyOp.
// Nothing in memory changes when the WAL append fails.
func (e *Engine) commitPutLocked(key string, value any, exp int64, hasTTL bool, ts int64, eventType string) error {
	rec, err := storage.NewPut(key, value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	if err := e.wal.Append(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}
	if hasTTL {
		if terr := e.wal.Append(storage.NewTTL(key, exp)); terr != nil {
			// The put record is already durable. Neutralise it, or a
			// restart would materialise a write that reported failure.
			e.compensatePutLocked(key)
			return fmt.Errorf("%w: %v", ErrDurability, terr)
		}
	}

	old, hadOld := e.data[key]
	e.data[key] = value
	e.cache.Add(key, value)
	if hasTTL {
		e.ttl[key] = exp
	} else {
		delete(e.ttl, key)
	}
	e.indexes.Update(key, old, hadOld, value, true)
	if ts > e.lastWrite[key] {
		e.lastWrite[key] = ts
	}
	e.writes.Add(1)

	e.bus.emit(Event{Type: eventType, Key: key, Value: value, Old: old})
	e.watchers.notify(key, old, value)
	return nil
}

// compensatePutLocked re-logs the prior durable state of key after a put
// record landed but its companion ttl record did not. Memory was never
// touched; only the WAL tail holds the orphaned put.
func (e *Engine) compensatePutLocked(key string) {
	var (
		rec storage.Record
		err error
	)
	if old, ok := e.data[key]; ok {
		rec, err = storage.NewPut(key, old)
	} else {
		rec = storage.NewDel(key)
	}
	if err == nil {
		err = e.wal.Append(rec)
	}
	if err != nil {
		e.log.Error("wal compensation failed; replay may resurrect an unacknowledged write",
			zap.String("key", key), zap.Error(err))
		return
	}
	if exp, ok := e.ttl[key]; ok {
		if err := e.wal.Append(storage.NewTTL(key, exp)); err != nil {
			e.log.Error("wal compensation lost a ttl record",
				zap.String("key", key), zap.Error(err))
		}
	}
}

func (e *Engine) deleteLocked(key string) (bool, error) {
	now := time.Now().UnixMilli()
	ok, err := e.commitDeleteLocked(key, now)
	if err != nil || !ok {
		return ok, err
	}
	e.broadcastLocked(replication.Op{
		Op: replication.OpDelete, Key: key, Ts: now, NodeID: e.opts.NodeID,
	})
	return true, nil
}

func (e *Engine) commitDeleteLocked(key string, ts int64) (bool, error) {
	if ts > e.lastWrite[key] {
		e.lastWrite[key] = ts
	}
	old, ok := e.data[key]
	if !ok {
		return false, nil
	}
	if err := e.wal.Append(storage.NewDel(key)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDurability, err)
	}

	delete(e.data, key)
	e.cache.Remove(key)
	delete(e.ttl, key)
	e.indexes.Update(key, old, true, nil, false)
	e.writes.Add(1)

	e.bus.emit(Event{Type: EventDelete, Key: key, Old: old})
	e.watchers.notify(key, old, nil)
	return true, nil
}

func (e *Engine) clearLocked() error {
	if err := e.wal.Append(storage.NewClr()); err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	watched := make(map[string]any)
	for key := range e.watchers.watchers {
		if old, ok := e.data[key]; ok {
			watched[key] = old
		}
	}
	n := len(e.data)
	e.data = make(map[string]any)
	e.ttl = make(map[string]int64)
	e.lastWrite = make(map[string]int64)
	e.conflicts = nil
	e.cache.Purge()
	e.indexes.Clear()
	e.writes.Add(1)

	e.bus.emit(Event{Type: EventClear, Value: n})
	for key, old := range watched {
		e.watchers.notify(key, old, nil)
	}
	return nil
}

// broadcastLocked hands a durable mutation to the replicator. Internal
// keys stay node-local; the enqueue never blocks the writer.
func (e *Engine) broadcastLocked(op replication.Op) {
	if e.repl == nil || isInternalKey(op.Key) {
		return
	}
	e.repl.Enqueue(op)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// cloneValue deep-copies a JSON tree through serialisation. Values that
// fail to marshal pass through unchanged; the WAL append rejects them
// before any state mutates.
func cloneValue(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
