// Package engine is the KeelDB core: an in-memory key/value map made
// durable by a write-ahead log and periodic snapshots, with a hot cache,
// TTL expiry, secondary indexes, events, per-key watchers and optional
// HTTP replication.
//
// Concurrency model: one RWMutex guards the whole store. The writer
// critical section covers the WAL append, the map/cache/TTL/index
// updates, event and watcher delivery and the replication enqueue, so
// every observer sees writes in acknowledgement order. Reads run under
// the read lock.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/index"
	"github.com/keelworks/keeldb/internal/query"
	"github.com/keelworks/keeldb/internal/replication"
	"github.com/keelworks/keeldb/internal/storage"
)

// journal is the engine's view of the WAL. An interface so tests can
// interpose append failures around the durable commit paths.
type journal interface {
	Append(storage.Record) error
	Truncate() error
	Close() error
}

// Engine is one store instance. Create with New, bring online with
// Init, release with Close.
type Engine struct {
	log  *zap.Logger
	opts Options

	mu    sync.RWMutex
	data  map[string]any
	ttl   map[string]int64 // absolute deadline, ms since epoch
	cache *lru.Cache[string, any]

	paths storage.Paths
	wal   journal

	indexes  *index.Manager
	exec     *query.Executor
	bus      *eventBus
	watchers *watchTable
	chain    interceptorChain

	repl      *replication.Broadcaster // primary with followers, else nil
	lastWrite map[string]int64         // per-key ts of the latest applied write
	conflicts []replication.Conflict

	reads  atomic.Int64
	writes atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64

	ready  atomic.Bool
	closed atomic.Bool

	degraded     bool
	restoredFrom string

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds an engine from opts. No I/O happens until Init.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	log := opts.Logger.Named("engine")

	cache, _ := lru.New[string, any](opts.CacheLimit)
	e := &Engine{
		log:       log,
		opts:      opts,
		data:      make(map[string]any),
		ttl:       make(map[string]int64),
		cache:     cache,
		paths:     storage.Paths{Dir: opts.Dir, Base: opts.Base},
		indexes:   index.NewManager(opts.Logger),
		bus:       newEventBus(log),
		watchers:  newWatchTable(log),
		lastWrite: make(map[string]int64),
		done:      make(chan struct{}),
	}
	e.exec = query.NewExecutor((*storeSource)(e), opts.Logger)
	return e
}

// Use appends an interceptor to the read/write chain. Must be called
// before Init; the chain is immutable once the engine is ready.
func (e *Engine) Use(ic Interceptor) error {
	if e.ready.Load() {
		return fmt.Errorf("register interceptors before Init: %w", ErrClosed)
	}
	e.chain = append(e.chain, ic)
	return nil
}

// Init recovers state from disk (snapshot, then WAL replay), opens the
// WAL for append and starts the background loops. Recovery is lenient:
// corruption degrades to the newest intact backup, or to an empty store,
// with warnings rather than failure.
func (e *Engine) Init() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.ready.Load() {
		return nil
	}
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	recovered, err := storage.LoadSnapshot(e.paths, e.opts.Logger)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	e.data = recovered.Data
	e.degraded = recovered.Degraded
	e.restoredFrom = recovered.RestoredFrom

	if err := storage.ReplayWAL(e.paths.WAL(), e.opts.Logger, e.applyReplay); err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}

	e.loadConflicts()

	wal, err := storage.OpenWAL(e.paths.WAL(), e.opts.Logger)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	e.wal = wal

	if e.opts.Role == replication.RolePrimary && len(e.opts.Followers) > 0 {
		e.repl = replication.NewBroadcaster(replication.Config{
			NodeID:         e.opts.NodeID,
			Followers:      e.opts.Followers,
			RequestTimeout: e.opts.RequestTimeout,
			SyncInterval:   e.opts.SyncInterval,
		}, e.opts.Logger)
	}

	e.wg.Add(1)
	go e.sweepLoop()
	if e.opts.SaveInterval > 0 {
		e.wg.Add(1)
		go e.saveLoop()
	}

	e.ready.Store(true)
	e.log.Info("engine ready",
		zap.String("dir", e.opts.Dir),
		zap.String("base", e.opts.Base),
		zap.Int("keys", len(e.data)),
		zap.String("role", string(e.opts.Role)),
		zap.Bool("degraded", e.degraded),
	)

	e.mu.Lock()
	e.bus.emit(Event{Type: EventReady, Value: len(e.data)})
	e.mu.Unlock()
	return nil
}

// applyReplay folds one WAL record into the recovering state. A put
// clears any TTL for the key, matching the live Set semantics; the ttl
// record that follows a TTL'd put restores it. Expired entries are
// collected by the first sweep.
func (e *Engine) applyReplay(rec storage.Record) error {
	switch rec.Op {
	case storage.OpPut:
		var v any
		if err := json.Unmarshal(rec.Val, &v); err != nil {
			return fmt.Errorf("decode put value: %w", err)
		}
		e.data[rec.Key] = v
		delete(e.ttl, rec.Key)
	case storage.OpDel:
		delete(e.data, rec.Key)
		delete(e.ttl, rec.Key)
	case storage.OpClr:
		e.data = make(map[string]any)
		e.ttl = make(map[string]int64)
	case storage.OpTTL:
		if _, ok := e.data[rec.Key]; ok {
			e.ttl[rec.Key] = rec.Exp
		}
	}
	return nil
}

// Close stops the background loops, takes a final snapshot and releases
// the WAL. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	wasReady := e.ready.Swap(false)

	close(e.done)
	e.wg.Wait()
	if e.repl != nil {
		e.repl.Close()
	}
	if !wasReady {
		return nil
	}

	e.mu.Lock()
	e.bus.emit(Event{Type: EventClose})
	if err := e.compactLocked(); err != nil {
		e.log.Warn("final snapshot failed; wal retains the tail", zap.Error(err))
	}
	e.mu.Unlock()

	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("close wal: %w", err)
	}
	e.log.Info("engine closed")
	return nil
}

// Degraded reports that every recovery path failed at Init and the
// engine started empty.
func (e *Engine) Degraded() bool { return e.degraded }

// RestoredFrom names the backup promoted to snapshot during recovery,
// empty on the happy path.
func (e *Engine) RestoredFrom() string { return e.restoredFrom }

// NodeID is this node's replication identity.
func (e *Engine) NodeID() string { return e.opts.NodeID }

// Role is this node's replication role.
func (e *Engine) Role() replication.Role { return e.opts.Role }

func (e *Engine) readable() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// writable gates public writes. Replicas accept only internal (`_`)
// keys locally; everything else arrives through ApplyOp.
func (e *Engine) writable(key string) error {
	if err := e.readable(); err != nil {
		return err
	}
	if e.opts.Role == replication.RoleReplica && !isInternalKey(key) {
		return ErrReplicaReadOnly
	}
	return nil
}

// On registers an event listener and returns a token for Off.
func (e *Engine) On(event string, fn Listener) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bus.subscribe(event, fn)
}

// Off removes the listener registered under id.
func (e *Engine) Off(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bus.unsubscribe(event, id)
}

// Watch observes one key and returns a token for Unwatch.
func (e *Engine) Watch(key string, fn WatchFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watchers.add(key, fn)
}

// Unwatch removes the watcher registered under id.
func (e *Engine) Unwatch(key string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchers.remove(key, id)
}

// UnwatchAll drops every watcher of key.
func (e *Engine) UnwatchAll(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.watchers.watchers, key)
}

// sweepLoop expires TTL'd keys through the full delete path.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) sweep() {
	now := time.Now().UnixMilli()
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []string
	for key, exp := range e.ttl {
		if exp <= now {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		if _, err := e.deleteLocked(key); err != nil {
			e.log.Warn("ttl sweep delete failed", zap.String("key", key), zap.Error(err))
			e.bus.emit(Event{Type: EventError, Key: key, Value: err})
		}
	}
	if len(expired) > 0 {
		e.log.Debug("ttl sweep", zap.Int("expired", len(expired)))
	}
}

// saveLoop compacts on the configured interval.
func (e *Engine) saveLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Compact(); err != nil {
				e.log.Warn("periodic snapshot failed", zap.Error(err))
			}
		case <-e.done:
			return
		}
	}
}
