package engine

import "go.uber.org/zap"

// WatchFunc observes changes to a single key. old is the previous value
// (nil when the key was absent), val the new one (nil on delete).
// Watchers run synchronously inside the writer critical section, in
// registration order, and must not call back into the engine.
type WatchFunc func(key string, old, val any)

// watchTable keeps ordered per-key watcher lists. Unsynchronised; the
// engine serialises access under its own lock.
type watchTable struct {
	log      *zap.Logger
	watchers map[string][]watchEntry
	nextID   uint64
}

type watchEntry struct {
	id uint64
	fn WatchFunc
}

func newWatchTable(log *zap.Logger) *watchTable {
	return &watchTable{
		log:      log.Named("watch"),
		watchers: make(map[string][]watchEntry),
	}
}

// add registers fn for key and returns a token for remove.
func (w *watchTable) add(key string, fn WatchFunc) uint64 {
	w.nextID++
	w.watchers[key] = append(w.watchers[key], watchEntry{id: w.nextID, fn: fn})
	return w.nextID
}

// remove drops the watcher registered under id. Unknown ids are a no-op.
func (w *watchTable) remove(key string, id uint64) {
	entries := w.watchers[key]
	for i, e := range entries {
		if e.id == id {
			w.watchers[key] = append(entries[:i], entries[i+1:]...)
			if len(w.watchers[key]) == 0 {
				delete(w.watchers, key)
			}
			return
		}
	}
}

// notify invokes every watcher of key in registration order. A
// panicking watcher is logged and skipped.
func (w *watchTable) notify(key string, old, val any) {
	for _, entry := range w.watchers[key] {
		w.deliver(entry, key, old, val)
	}
}

func (w *watchTable) deliver(entry watchEntry, key string, old, val any) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("watcher panicked",
				zap.String("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	entry.fn(key, old, val)
}
