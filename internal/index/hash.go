package index

import (
	"encoding/json"

	mapset "github.com/deckarep/golang-set/v2"
)

// hashIndex maps a canonical term per value to the set of keys holding
// that value. Stored nulls live in a dedicated bucket so "field is null"
// and "field is absent" stay distinguishable.
type hashIndex struct {
	field   string
	buckets map[string]mapset.Set[string]
	nulls   mapset.Set[string]
}

func newHashIndex(field string) *hashIndex {
	return &hashIndex{
		field:   field,
		buckets: make(map[string]mapset.Set[string]),
		nulls:   mapset.NewThreadUnsafeSet[string](),
	}
}

func (h *hashIndex) Kind() Kind    { return KindHash }
func (h *hashIndex) Field() string { return h.field }
func (h *hashIndex) Len() int      { return len(h.buckets) }

// term canonicalises a value: JSON encoding is deterministic (map keys
// sorted), so structurally equal values share a bucket.
func term(v any) (string, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (h *hashIndex) Add(key string, value any) {
	if value == nil {
		h.nulls.Add(key)
		return
	}
	t, ok := term(value)
	if !ok {
		return
	}
	bucket, ok := h.buckets[t]
	if !ok {
		bucket = mapset.NewThreadUnsafeSet[string]()
		h.buckets[t] = bucket
	}
	bucket.Add(key)
}

func (h *hashIndex) Remove(key string, value any) {
	if value == nil {
		h.nulls.Remove(key)
		return
	}
	t, ok := term(value)
	if !ok {
		return
	}
	if bucket, ok := h.buckets[t]; ok {
		bucket.Remove(key)
		if bucket.Cardinality() == 0 {
			delete(h.buckets, t)
		}
	}
}

func (h *hashIndex) Supports(op string) bool {
	switch op {
	case OpEq, OpNe, OpIn:
		return true
	}
	return false
}

func (h *hashIndex) Lookup(op string, operand any) mapset.Set[string] {
	switch op {
	case OpEq:
		return h.equal(operand)
	case OpNe:
		return h.notEqual(operand)
	case OpIn:
		out := mapset.NewThreadUnsafeSet[string]()
		items, ok := operand.([]any)
		if !ok {
			return out
		}
		for _, item := range items {
			out = out.Union(h.equal(item))
		}
		return out
	}
	return mapset.NewThreadUnsafeSet[string]()
}

func (h *hashIndex) equal(operand any) mapset.Set[string] {
	if operand == nil {
		return h.nulls.Clone()
	}
	t, ok := term(operand)
	if !ok {
		return mapset.NewThreadUnsafeSet[string]()
	}
	if bucket, ok := h.buckets[t]; ok {
		return bucket.Clone()
	}
	return mapset.NewThreadUnsafeSet[string]()
}

func (h *hashIndex) notEqual(operand any) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	skip, _ := term(operand)
	for t, bucket := range h.buckets {
		if operand != nil && t == skip {
			continue
		}
		out = out.Union(bucket)
	}
	if operand != nil {
		out = out.Union(h.nulls)
	}
	return out
}
