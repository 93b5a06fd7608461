// Package httpapi exposes the engine over HTTP: a REST surface for
// keys, queries, collections and indexes, the replication inbound
// endpoints, and a WebSocket bridge for per-key watchers.
package httpapi

import (
	"sync"

	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/collection"
	"github.com/keelworks/keeldb/internal/engine"
)

// Handler carries the shared state of every route: the engine and the
// lazily-opened collection handles.
type Handler struct {
	log *zap.Logger
	eng *engine.Engine

	mu          sync.Mutex
	collections map[string]*collection.Collection
}

// NewHandler builds the route handler set around one engine.
func NewHandler(log *zap.Logger, eng *engine.Engine) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		log:         log.Named("http"),
		eng:         eng,
		collections: make(map[string]*collection.Collection),
	}
}

// coll returns the collection handle for name, opening it on first use.
func (h *Handler) coll(name string) *collection.Collection {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.collections[name]
	if !ok {
		c = collection.Open(h.eng, name, h.log)
		h.collections[name] = c
	}
	return c
}
