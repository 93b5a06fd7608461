package index

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// rangeIndex keeps (value, key) pairs in a single sorted sequence and
// answers ordered comparisons with a binary search for the boundary.
// Only numbers and strings are indexed; numbers order before strings so
// each type class occupies a contiguous region and a typed operand never
// matches across classes.
type rangeIndex struct {
	field   string
	entries []rangeEntry
}

type rangeEntry struct {
	ord ordKey
	key string
}

// ordKey is the comparable form of an indexed value.
type ordKey struct {
	class int // 0 = number, 1 = string
	num   float64
	str   string
}

func ordOf(v any) (ordKey, bool) {
	switch n := v.(type) {
	case float64:
		return ordKey{class: 0, num: n}, true
	case int:
		return ordKey{class: 0, num: float64(n)}, true
	case int64:
		return ordKey{class: 0, num: float64(n)}, true
	case string:
		return ordKey{class: 1, str: n}, true
	}
	return ordKey{}, false
}

// less orders by class, then value within the class.
func (a ordKey) less(b ordKey) bool {
	if a.class != b.class {
		return a.class < b.class
	}
	if a.class == 0 {
		return a.num < b.num
	}
	return a.str < b.str
}

func (a ordKey) equal(b ordKey) bool {
	return a.class == b.class && a.num == b.num && a.str == b.str
}

func newRangeIndex(field string) *rangeIndex {
	return &rangeIndex{field: field}
}

func (r *rangeIndex) Kind() Kind    { return KindRange }
func (r *rangeIndex) Field() string { return r.field }
func (r *rangeIndex) Len() int      { return len(r.entries) }

// lowerBound returns the first position whose ord is >= target.
func (r *rangeIndex) lowerBound(target ordKey) int {
	return sort.Search(len(r.entries), func(i int) bool {
		return !r.entries[i].ord.less(target)
	})
}

// upperBound returns the first position whose ord is > target.
func (r *rangeIndex) upperBound(target ordKey) int {
	return sort.Search(len(r.entries), func(i int) bool {
		return target.less(r.entries[i].ord)
	})
}

// Add keeps at most one entry per (value, key) pair, so replaying an
// update that is already present is a no-op.
func (r *rangeIndex) Add(key string, value any) {
	ord, ok := ordOf(value)
	if !ok {
		return
	}
	for i := r.lowerBound(ord); i < len(r.entries) && r.entries[i].ord.equal(ord); i++ {
		if r.entries[i].key == key {
			return
		}
	}
	at := r.upperBound(ord)
	r.entries = append(r.entries, rangeEntry{})
	copy(r.entries[at+1:], r.entries[at:])
	r.entries[at] = rangeEntry{ord: ord, key: key}
}

func (r *rangeIndex) Remove(key string, value any) {
	ord, ok := ordOf(value)
	if !ok {
		return
	}
	for i := r.lowerBound(ord); i < len(r.entries) && r.entries[i].ord.equal(ord); i++ {
		if r.entries[i].key == key {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *rangeIndex) Supports(op string) bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

func (r *rangeIndex) Lookup(op string, operand any) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	ord, ok := ordOf(operand)
	if !ok {
		return out
	}

	// Bound the walk to the operand's type region. Numbers occupy the
	// front of the sequence, strings the back.
	classLo := 0
	if ord.class == 1 {
		classLo = r.lowerBound(ordKey{class: 1})
	}
	classHi := r.lowerBound(ordKey{class: ord.class + 1})

	var lo, hi int
	switch op {
	case OpGt:
		lo, hi = r.upperBound(ord), classHi
	case OpGte:
		lo, hi = r.lowerBound(ord), classHi
	case OpLt:
		lo, hi = classLo, r.lowerBound(ord)
	case OpLte:
		lo, hi = classLo, r.upperBound(ord)
	default:
		return out
	}
	for i := lo; i < hi; i++ {
		out.Add(r.entries[i].key)
	}
	return out
}
