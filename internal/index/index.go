// Package index maintains secondary indexes over the store. Indexes are
// mutated only inside the engine's writer critical section and read under
// its read lock, so the types here carry no locking of their own.
package index

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/keelworks/keeldb/pkg/dotpath"
)

// Kind selects the index data structure for a field.
type Kind string

const (
	KindHash  Kind = "hash"  // equality and membership
	KindRange Kind = "range" // ordered comparisons on numbers and strings
	KindText  Kind = "text"  // tokenised substring matching on strings
)

// Comparison operators shared with the query engine.
const (
	OpEq         = "="
	OpNe         = "!="
	OpIn         = "in"
	OpGt         = ">"
	OpGte        = ">="
	OpLt         = "<"
	OpLte        = "<="
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
)

var (
	// ErrIndexExists means an index is already registered for the field.
	ErrIndexExists = errors.New("index already exists")
	// ErrIndexNotFound means no index is registered for the field.
	ErrIndexNotFound = errors.New("index not found")
	// ErrUnsupportedKind means the kind string is not hash, range or text.
	ErrUnsupportedKind = errors.New("unsupported index kind")
)

// Index is one secondary index over a single field path. Add and Remove
// receive the projected field value; type-incompatible values are skipped
// silently so an index update can never fail a write.
type Index interface {
	Kind() Kind
	Field() string
	Add(key string, value any)
	Remove(key string, value any)
	// Supports reports whether the index can serve op. Unsupported
	// operators make the caller fall back to a scan; that is not an error.
	Supports(op string) bool
	// Lookup evaluates a supported op against operand and returns the
	// matching key set. A type-incompatible operand yields an empty set.
	Lookup(op string, operand any) mapset.Set[string]
	Len() int
}

func newIndex(field string, kind Kind) (Index, error) {
	switch kind {
	case KindHash:
		return newHashIndex(field), nil
	case KindRange:
		return newRangeIndex(field), nil
	case KindText:
		return newTextIndex(field), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// Info describes a registered index for the listing surface.
type Info struct {
	Field string `json:"field"`
	Kind  Kind   `json:"kind"`
	Terms int    `json:"terms"`
}

// Manager owns every registered index and keeps them in lockstep with
// store writes. An index under construction is invisible to Select until
// the initial build publishes it; writes arriving during the build are
// buffered and applied at publication.
type Manager struct {
	log       *zap.Logger
	published map[string]Index
	building  map[string]*pendingBuild
}

type pendingBuild struct {
	idx    Index
	buffer []bufferedUpdate
}

type bufferedUpdate struct {
	key      string
	old, new any
	hasOld   bool
	hasNew   bool
}

// NewManager creates an empty index manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:       log.Named("index"),
		published: make(map[string]Index),
		building:  make(map[string]*pendingBuild),
	}
}

// Begin registers an index build for field. The returned index must be
// populated by the caller and then handed to Publish; until then the
// field stays invisible to Select.
func (m *Manager) Begin(field string, kind Kind) (Index, error) {
	if _, ok := m.published[field]; ok {
		return nil, fmt.Errorf("%w: %q", ErrIndexExists, field)
	}
	if _, ok := m.building[field]; ok {
		return nil, fmt.Errorf("%w: %q (build in progress)", ErrIndexExists, field)
	}
	idx, err := newIndex(field, kind)
	if err != nil {
		return nil, err
	}
	m.building[field] = &pendingBuild{idx: idx}
	return idx, nil
}

// Publish applies the updates buffered during the build and makes the
// index visible to queries.
func (m *Manager) Publish(field string) {
	b, ok := m.building[field]
	if !ok {
		return
	}
	for _, u := range b.buffer {
		applyUpdate(b.idx, field, u)
	}
	delete(m.building, field)
	m.published[field] = b.idx
	m.log.Info("index published",
		zap.String("field", field),
		zap.String("kind", string(b.idx.Kind())),
		zap.Int("terms", b.idx.Len()),
	)
}

// Abort discards an unfinished build.
func (m *Manager) Abort(field string) {
	delete(m.building, field)
}

// Drop removes a published index.
func (m *Manager) Drop(field string) error {
	if _, ok := m.published[field]; !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, field)
	}
	delete(m.published, field)
	return nil
}

// List describes the published indexes.
func (m *Manager) List() []Info {
	out := make([]Info, 0, len(m.published))
	for _, idx := range m.published {
		out = append(out, Info{Field: idx.Field(), Kind: idx.Kind(), Terms: idx.Len()})
	}
	return out
}

// Select returns a published index able to serve op on field.
func (m *Manager) Select(field, op string) (Index, bool) {
	idx, ok := m.published[field]
	if !ok || !idx.Supports(op) {
		return nil, false
	}
	return idx, true
}

// Update propagates one store write (or delete) to every index. oldVal
// and newVal are the whole stored values; hasOld/hasNew distinguish
// absence from a stored null.
func (m *Manager) Update(key string, oldVal any, hasOld bool, newVal any, hasNew bool) {
	u := bufferedUpdate{key: key, old: oldVal, new: newVal, hasOld: hasOld, hasNew: hasNew}
	for field, idx := range m.published {
		applyUpdate(idx, field, u)
	}
	for _, b := range m.building {
		b.buffer = append(b.buffer, u)
	}
}

// Clear resets every index (store clear) without dropping registrations.
// An in-progress build restarts from an empty pending index: entries the
// initial scan already added are pre-clear state and must not reach
// Publish. The scan keeps feeding the orphaned index object, which is
// correct — post-clear the scanned keys are gone, and any re-created key
// arrives through the buffer.
func (m *Manager) Clear() {
	for field, idx := range m.published {
		fresh, err := newIndex(field, idx.Kind())
		if err != nil {
			continue
		}
		m.published[field] = fresh
	}
	for field, b := range m.building {
		fresh, err := newIndex(field, b.idx.Kind())
		if err != nil {
			continue
		}
		b.idx = fresh
		b.buffer = nil
	}
}

func applyUpdate(idx Index, field string, u bufferedUpdate) {
	if u.hasOld {
		if v, defined := dotpath.Project(u.old, field); defined {
			idx.Remove(u.key, v)
		}
	}
	if u.hasNew {
		if v, defined := dotpath.Project(u.new, field); defined {
			idx.Add(u.key, v)
		}
	}
}
