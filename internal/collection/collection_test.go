package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/engine"
)

func newTestEngine(t *testing.T, dir string) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{Dir: dir, Logger: zap.NewNop()})
	require.NoError(t, e.Init())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func fptr(v float64) *float64 { return &v }

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "users", nil)

	first, err := c.Insert(map[string]any{"name": "ada"})
	require.NoError(t, err)
	second, err := c.Insert(map[string]any{"name": "brian"})
	require.NoError(t, err)

	assert.Equal(t, "users::1", first["_id"])
	assert.Equal(t, "users::2", second["_id"])

	doc, ok := c.Get("1")
	require.True(t, ok)
	assert.Equal(t, "ada", doc["name"])
	assert.Equal(t, "users::1", doc["_id"], "_id equals the full key")
}

func TestIDCounterReseedsFromNamespace(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	c := Open(e, "users", nil)
	_, err := c.Insert(map[string]any{"name": "ada"})
	require.NoError(t, err)
	_, err = c.Insert(map[string]any{"name": "brian"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2 := newTestEngine(t, dir)
	c2 := Open(e2, "users", nil)
	third, err := c2.Insert(map[string]any{"name": "carol"})
	require.NoError(t, err)
	assert.Equal(t, "users::3", third["_id"], "counter continues past existing ids")
}

func TestFindWithOperatorsAndDotPaths(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "people", nil)
	_, err := c.InsertMany([]map[string]any{
		{"name": "ada", "age": float64(36), "addr": map[string]any{"city": "london"}},
		{"name": "brian", "age": float64(70), "addr": map[string]any{"city": "cambridge"}},
		{"name": "carol", "age": float64(50), "addr": map[string]any{"city": "london"}},
	})
	require.NoError(t, err)

	docs, err := c.Find(Filter{"addr.city": "london"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "ada", docs[0]["name"], "results come back in id order")

	docs, err = c.Find(Filter{"age": map[string]any{"$gt": float64(40), "$lt": float64(60)}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "carol", docs[0]["name"])

	docs, err = c.Find(Filter{"name": map[string]any{"$in": []any{"ada", "brian"}}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = c.Find(Filter{"age": map[string]any{"$ne": float64(36)}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	doc, found, err := c.FindOne(Filter{"name": "brian"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(70), doc["age"])

	_, found, err = c.FindOne(Filter{"name": "nobody"})
	require.NoError(t, err)
	assert.False(t, found)

	n, err := c.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpdateSetAndReplace(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "docs", nil)
	_, err := c.InsertMany([]map[string]any{
		{"kind": "a", "n": float64(1)},
		{"kind": "a", "n": float64(2)},
		{"kind": "b", "n": float64(3)},
	})
	require.NoError(t, err)

	// $set merges, dot paths included, and touches only the first match.
	updated, err := c.Update(Filter{"kind": "a"}, map[string]any{
		"$set": map[string]any{"n": float64(10), "meta.touched": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	doc, _ := c.Get("1")
	assert.Equal(t, float64(10), doc["n"])
	v, ok := doc["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, v["touched"])
	doc2, _ := c.Get("2")
	assert.Equal(t, float64(2), doc2["n"])

	// UpdateMany hits every match.
	updated, err = c.UpdateMany(Filter{"kind": "a"}, map[string]any{
		"$set": map[string]any{"seen": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	// A change without $set replaces the document but keeps _id.
	updated, err = c.Update(Filter{"kind": "b"}, map[string]any{"fresh": true})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	doc3, _ := c.Get("3")
	assert.Equal(t, true, doc3["fresh"])
	assert.Nil(t, doc3["kind"])
	assert.Equal(t, "docs::3", doc3["_id"])
}

func TestRemoveAndDrop(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "docs", nil)
	_, err := c.InsertMany([]map[string]any{
		{"kind": "a"}, {"kind": "a"}, {"kind": "b"},
	})
	require.NoError(t, err)

	removed, err := c.Remove(Filter{"kind": "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = c.RemoveMany(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = c.Insert(map[string]any{"kind": "c"})
	require.NoError(t, err)
	require.NoError(t, c.Drop())
	n, err := c.Count(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Drop resets the counter.
	doc, err := c.Insert(map[string]any{"kind": "d"})
	require.NoError(t, err)
	assert.Equal(t, "docs::1", doc["_id"])
}

func TestSchemaValidation(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "users", nil)
	require.NoError(t, c.SetSchema(Schema{
		"name": {Type: "string", Required: true, Min: fptr(2)},
		"role": {Type: "string", Enum: []any{"admin", "user"}},
		"mail": {Type: "string", Pattern: `^[^@]+@[^@]+$`},
		"age":  {Type: "number", Min: fptr(0), Max: fptr(150)},
	}))

	_, err := c.Insert(map[string]any{"name": "A"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
	assert.Equal(t, "min", verr.Rule)

	_, err = c.Insert(map[string]any{"name": "Al", "role": "root"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "enum", verr.Rule)

	_, err = c.Insert(map[string]any{"role": "user"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Rule)

	_, err = c.Insert(map[string]any{"name": "Al", "mail": "not-an-address"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "pattern", verr.Rule)

	_, err = c.Insert(map[string]any{"name": "Al", "age": float64(200)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "max", verr.Rule)

	_, err = c.Insert(map[string]any{"name": "Al", "age": "old"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Rule)

	doc, err := c.Insert(map[string]any{"name": "Al", "role": "user"})
	require.NoError(t, err)
	assert.Equal(t, doc["_id"], "users::1", "failed inserts burned no ids and left no state")

	n, err := c.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Updates revalidate the post-change document.
	_, err = c.Update(Filter{"name": "Al"}, map[string]any{
		"$set": map[string]any{"role": "root"},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "enum", verr.Rule)
}

func TestInsertManyValidatesUpFront(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "users", nil)
	require.NoError(t, c.SetSchema(Schema{"name": {Required: true}}))

	_, err := c.InsertMany([]map[string]any{
		{"name": "ok"},
		{"oops": true},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	n, err := c.Count(nil)
	require.NoError(t, err)
	assert.Zero(t, n, "a bad document fails the whole batch")
}

func TestFieldOperations(t *testing.T) {
	eng := newTestEngine(t, t.TempDir())
	c := Open(eng, "counters", nil)

	var events []string
	for _, typ := range []string{engine.EventAdd, engine.EventPush, engine.EventPull} {
		_, err := eng.On(typ, func(ev engine.Event) { events = append(events, ev.Type) })
		require.NoError(t, err)
	}

	doc, err := c.Insert(map[string]any{"hits": float64(1), "note": "x"})
	require.NoError(t, err)
	id, _ := doc["_id"].(string)

	n, err := c.Add(id, "hits", 4)
	require.NoError(t, err)
	assert.Equal(t, float64(5), n)

	n, err = c.Add(id, "misses", 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1), n, "missing field counts as 0")

	_, err = c.Add(id, "note", 1)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr, "non-numeric field rejects Add")

	require.NoError(t, c.Push(id, "tags", "a"))
	require.NoError(t, c.Push(id, "tags", "b"))
	require.NoError(t, c.Push(id, "tags", "a"))
	removed, err := c.Pull(id, "tags", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, _ := c.Get(id)
	assert.Equal(t, []any{"b"}, got["tags"])
	assert.Equal(t, float64(5), got["hits"])

	// insert(add) + add + add + 3 pushes + pull
	assert.Equal(t, []string{"add", "add", "add", "push", "push", "push", "pull"}, events)
}

func TestSchemaCompileError(t *testing.T) {
	c := Open(newTestEngine(t, t.TempDir()), "users", nil)
	err := c.SetSchema(Schema{"mail": {Pattern: `([`}})
	assert.Error(t, err)
}
