package collection

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/engine"
	"github.com/keelworks/keeldb/internal/query"
	"github.com/keelworks/keeldb/pkg/dotpath"
)

// keySep joins the collection name and the document id.
const keySep = "::"

// Collection is a named document namespace over one engine. Ids are
// monotonic per process, seeded from the existing namespace at first
// use; every stored document carries `_id` equal to its full key.
type Collection struct {
	name   string
	prefix string
	eng    *engine.Engine
	log    *zap.Logger

	mu     sync.Mutex
	nextID int64
	seeded bool
	schema *compiledSchema
}

// Open binds a collection name to an engine. No I/O happens until the
// first operation.
func Open(eng *engine.Engine, name string, log *zap.Logger) *Collection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collection{
		name:   name,
		prefix: name + keySep,
		eng:    eng,
		log:    log.Named("collection").With(zap.String("name", name)),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// SetSchema installs (or replaces) the validation schema. Existing
// documents are not revalidated; the schema gates writes from now on.
func (c *Collection) SetSchema(s Schema) error {
	cs, err := compileSchema(s)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.schema = cs
	c.mu.Unlock()
	return nil
}

// Insert validates doc, assigns the next id and stores the document.
// The returned copy carries `_id`.
func (c *Collection) Insert(doc map[string]any) (map[string]any, error) {
	if err := c.validate(doc); err != nil {
		return nil, err
	}
	key, err := c.allocateKey()
	if err != nil {
		return nil, err
	}
	stored := cloneDoc(doc)
	stored["_id"] = key
	if err := c.eng.Set(key, stored, engine.WithEvent(engine.EventAdd)); err != nil {
		return nil, err
	}
	return stored, nil
}

// InsertMany validates every document before storing any, so a bad
// document fails the batch without partial state.
func (c *Collection) InsertMany(docs []map[string]any) ([]map[string]any, error) {
	for _, doc := range docs {
		if err := c.validate(doc); err != nil {
			return nil, err
		}
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		stored, err := c.Insert(doc)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// Get fetches one document by id (bare or full key).
func (c *Collection) Get(id string) (map[string]any, bool) {
	v, ok := c.eng.Get(c.fullKey(id))
	if !ok {
		return nil, false
	}
	doc, isDoc := v.(map[string]any)
	return doc, isDoc
}

// Find returns every document matching filter, in id order. A nil or
// empty filter matches the whole collection.
func (c *Collection) Find(filter Filter) ([]map[string]any, error) {
	return c.matching(filter)
}

// FindOne returns the first document matching filter.
func (c *Collection) FindOne(filter Filter) (map[string]any, bool, error) {
	docs, err := c.matching(filter)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

// Count reports how many documents match filter.
func (c *Collection) Count(filter Filter) (int, error) {
	docs, err := c.matching(filter)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Update applies change to the first document matching filter and
// returns the updated count (0 or 1). A change with a `$set` object
// merges those fields (dot paths allowed); anything else replaces the
// whole document, `_id` excepted.
func (c *Collection) Update(filter Filter, change map[string]any) (int, error) {
	return c.update(filter, change, 1)
}

// UpdateMany applies change to every document matching filter.
func (c *Collection) UpdateMany(filter Filter, change map[string]any) (int, error) {
	return c.update(filter, change, -1)
}

func (c *Collection) update(filter Filter, change map[string]any, limit int) (int, error) {
	docs, err := c.matching(filter)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, doc := range docs {
		if limit >= 0 && updated >= limit {
			break
		}
		next, err := applyChange(doc, change)
		if err != nil {
			return updated, err
		}
		if err := c.validate(next); err != nil {
			return updated, err
		}
		key, _ := doc["_id"].(string)
		if err := c.eng.Set(key, next); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Remove deletes the first document matching filter; returns the
// removed count (0 or 1).
func (c *Collection) Remove(filter Filter) (int, error) {
	return c.remove(filter, 1)
}

// RemoveMany deletes every document matching filter.
func (c *Collection) RemoveMany(filter Filter) (int, error) {
	return c.remove(filter, -1)
}

func (c *Collection) remove(filter Filter, limit int) (int, error) {
	docs, err := c.matching(filter)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if limit >= 0 && removed >= limit {
			break
		}
		key, _ := doc["_id"].(string)
		ok, err := c.eng.Delete(key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Drop deletes every document and resets the id counter. The schema
// survives.
func (c *Collection) Drop() error {
	docs, err := c.matching(nil)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		key, _ := doc["_id"].(string)
		if _, err := c.eng.Delete(key); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.seeded = false
	c.nextID = 0
	c.mu.Unlock()
	c.log.Info("collection dropped", zap.Int("docs", len(docs)))
	return nil
}

// Add adds delta to a numeric field of one document. A missing field
// counts as 0; a present non-numeric field is a validation error.
func (c *Collection) Add(id, field string, delta float64) (float64, error) {
	key := c.fullKey(id)
	doc, ok := c.Get(key)
	if !ok {
		return 0, fmt.Errorf("document %q not found", key)
	}
	cur := 0.0
	if v, defined := dotpath.Project(doc, field); defined {
		n, numeric := toNumber(v)
		if !numeric {
			return 0, &ValidationError{
				Field: field, Rule: "type",
				Detail: fmt.Sprintf("cannot add to %T", v),
			}
		}
		cur = n
	}
	next := cur + delta
	updated, err := c.setField(doc, field, next)
	if err != nil {
		return 0, err
	}
	if err := c.eng.Set(key, updated, engine.WithEvent(engine.EventAdd)); err != nil {
		return 0, err
	}
	return next, nil
}

// Push appends item to an array field of one document, creating the
// array for a missing field.
func (c *Collection) Push(id, field string, item any) error {
	key := c.fullKey(id)
	doc, ok := c.Get(key)
	if !ok {
		return fmt.Errorf("document %q not found", key)
	}
	arr := []any{}
	if v, defined := dotpath.Project(doc, field); defined {
		cur, isArr := v.([]any)
		if !isArr {
			return &ValidationError{
				Field: field, Rule: "type",
				Detail: fmt.Sprintf("cannot push onto %T", v),
			}
		}
		arr = cur
	}
	updated, err := c.setField(doc, field, append(append([]any(nil), arr...), item))
	if err != nil {
		return err
	}
	return c.eng.Set(key, updated, engine.WithEvent(engine.EventPush))
}

// Pull removes every element equal to item from an array field and
// returns the removed count.
func (c *Collection) Pull(id, field string, item any) (int, error) {
	key := c.fullKey(id)
	doc, ok := c.Get(key)
	if !ok {
		return 0, fmt.Errorf("document %q not found", key)
	}
	v, defined := dotpath.Project(doc, field)
	if !defined {
		return 0, nil
	}
	cur, isArr := v.([]any)
	if !isArr {
		return 0, &ValidationError{
			Field: field, Rule: "type",
			Detail: fmt.Sprintf("cannot pull from %T", v),
		}
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
	updated, err := c.setField(doc, field, kept)
	if err != nil {
		return 0, err
	}
	if err := c.eng.Set(key, updated, engine.WithEvent(engine.EventPull)); err != nil {
		return 0, err
	}
	return removed, nil
}

func (c *Collection) setField(doc map[string]any, field string, val any) (map[string]any, error) {
	out := cloneDoc(doc)
	root, err := dotpath.Set(out, field, val)
	if err != nil {
		return nil, fmt.Errorf("set field %q: %w", field, err)
	}
	updated, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("set field %q: document root replaced", field)
	}
	return updated, nil
}

// matching returns the filtered namespace in id order.
func (c *Collection) matching(filter Filter) ([]map[string]any, error) {
	res, err := c.eng.Find(func(key string, _ any) bool {
		return strings.HasPrefix(key, c.prefix)
	})
	if err != nil {
		return nil, err
	}
	matches := res.Matches()
	sort.Slice(matches, func(i, j int) bool {
		return docKeyLess(matches[i].Key, matches[j].Key, c.prefix)
	})
	var docs []map[string]any
	for _, m := range matches {
		doc, isDoc := m.Value.(map[string]any)
		if !isDoc {
			continue
		}
		if filter == nil || matchDoc(doc, filter) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// docKeyLess orders numeric id suffixes numerically, anything else
// lexically.
func docKeyLess(a, b, prefix string) bool {
	ai, aerr := strconv.ParseInt(strings.TrimPrefix(a, prefix), 10, 64)
	bi, berr := strconv.ParseInt(strings.TrimPrefix(b, prefix), 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func (c *Collection) validate(doc map[string]any) error {
	c.mu.Lock()
	cs := c.schema
	c.mu.Unlock()
	if cs == nil {
		return nil
	}
	return cs.validate(doc)
}

// allocateKey reserves the next document key, seeding the counter from
// the existing namespace on first use.
func (c *Collection) allocateKey() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded {
		max := int64(0)
		for key := range c.eng.All() {
			if !strings.HasPrefix(key, c.prefix) {
				continue
			}
			if id, err := strconv.ParseInt(strings.TrimPrefix(key, c.prefix), 10, 64); err == nil && id > max {
				max = id
			}
		}
		c.nextID = max
		c.seeded = true
	}
	c.nextID++
	return c.prefix + strconv.FormatInt(c.nextID, 10), nil
}

func (c *Collection) fullKey(id string) string {
	if strings.HasPrefix(id, c.prefix) {
		return id
	}
	return c.prefix + id
}

// applyChange produces the post-update document. `$set` merges fields
// by dot path; any other change replaces the document, keeping `_id`.
func applyChange(doc, change map[string]any) (map[string]any, error) {
	if setFields, ok := change["$set"].(map[string]any); ok {
		out := cloneDoc(doc)
		for path, v := range setFields {
			root, err := dotpath.Set(out, path, v)
			if err != nil {
				return nil, fmt.Errorf("$set %q: %w", path, err)
			}
			out = root.(map[string]any)
		}
		return out, nil
	}
	out := cloneDoc(change)
	out["_id"] = doc["_id"]
	return out, nil
}

// cloneDoc deep-copies a document through JSON so updates never mutate
// a value the engine still holds.
func cloneDoc(doc map[string]any) map[string]any {
	raw, err := json.Marshal(doc)
	if err != nil {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		out = make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
