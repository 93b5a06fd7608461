package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// Event types form a closed set. Registering a listener for anything
// else fails with ErrUnknownEvent.
const (
	EventReady  = "ready"
	EventError  = "error"
	EventSet    = "set"
	EventDelete = "delete"
	EventClear  = "clear"
	EventClose  = "close"
	EventPush   = "push"
	EventPull   = "pull"
	EventAdd    = "add"
)

var knownEvents = map[string]struct{}{
	EventReady:  {},
	EventError:  {},
	EventSet:    {},
	EventDelete: {},
	EventClear:  {},
	EventClose:  {},
	EventPush:   {},
	EventPull:   {},
	EventAdd:    {},
}

// Event is delivered to listeners for every lifecycle and mutation
// notification. Key/Value/Old are populated per type: mutations carry
// the key and new value, delete carries the removed value in Old,
// error carries the error in Value.
type Event struct {
	Type  string
	Key   string
	Value any
	Old   any
}

// Listener receives events synchronously from inside the engine's
// critical section. It must not call back into the engine.
type Listener func(Event)

// eventBus keeps ordered listener lists per event type. Registration
// order is delivery order. The bus itself is unsynchronised; the engine
// serialises all access under its own lock.
type eventBus struct {
	log       *zap.Logger
	listeners map[string][]busEntry
	nextID    uint64
}

type busEntry struct {
	id uint64
	fn Listener
}

func newEventBus(log *zap.Logger) *eventBus {
	return &eventBus{
		log:       log.Named("events"),
		listeners: make(map[string][]busEntry),
	}
}

// subscribe registers fn for one event type and returns a token for
// unsubscribe.
func (b *eventBus) subscribe(event string, fn Listener) (uint64, error) {
	if _, ok := knownEvents[event]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	b.nextID++
	b.listeners[event] = append(b.listeners[event], busEntry{id: b.nextID, fn: fn})
	return b.nextID, nil
}

func (b *eventBus) unsubscribe(event string, id uint64) {
	entries := b.listeners[event]
	for i, e := range entries {
		if e.id == id {
			b.listeners[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// emit delivers ev to every listener in registration order. A panicking
// listener is logged and skipped; the remaining listeners still run.
func (b *eventBus) emit(ev Event) {
	for _, entry := range b.listeners[ev.Type] {
		b.deliver(entry, ev)
	}
}

func (b *eventBus) deliver(entry busEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked",
				zap.String("event", ev.Type),
				zap.String("key", ev.Key),
				zap.Any("panic", r),
			)
		}
	}()
	entry.fn(ev)
}
