package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps store names to running engines, so host code looks a
// store up by name instead of holding module-level state.
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	stores map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:    log.Named("registry"),
		stores: make(map[string]*Engine),
	}
}

// Open returns the engine registered under name, creating and
// initialising one from opts on first use.
func (r *Registry) Open(name string, opts Options) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.stores[name]; ok {
		return e, nil
	}
	e := New(opts)
	if err := e.Init(); err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	r.stores[name] = e
	r.log.Info("store opened", zap.String("name", name), zap.String("dir", opts.Dir))
	return e, nil
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.stores[name]
	return e, ok
}

// Names lists the registered store names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stores))
	for name := range r.stores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CloseAll closes every registered engine and empties the registry.
// Every close is attempted; errors are joined.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, e := range r.stores {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	r.stores = make(map[string]*Engine)
	return errors.Join(errs...)
}
