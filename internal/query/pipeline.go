package query

import (
	"encoding/json"
	"sort"

	"github.com/keelworks/keeldb/pkg/dotpath"
)

// Result is an in-memory ordered sequence of matches supporting chainable
// refinement and aggregation. Operations after the initial match are not
// lazy; result sets are expected to fit comfortably in memory.
type Result struct {
	matches []Match
}

func newResult(matches []Match) *Result {
	if matches == nil {
		matches = []Match{}
	}
	return &Result{matches: matches}
}

// Matches returns the underlying sequence.
func (r *Result) Matches() []Match { return r.matches }

// Keys returns the matched keys in pipeline order.
func (r *Result) Keys() []string {
	out := make([]string, len(r.matches))
	for i, m := range r.matches {
		out[i] = m.Key
	}
	return out
}

// Values returns the matched values in pipeline order.
func (r *Result) Values() []any {
	out := make([]any, len(r.matches))
	for i, m := range r.matches {
		out[i] = m.Value
	}
	return out
}

// Sort orders the result by a dot-path field. Direction is "asc"
// (default) or "desc". The sort is stable; values that do not compare
// (missing field, mixed classes) keep their relative order at the end.
func (r *Result) Sort(field, direction string) *Result {
	desc := direction == "desc"
	sort.SliceStable(r.matches, func(i, j int) bool {
		a, aok := dotpath.Project(r.matches[i].Value, field)
		b, bok := dotpath.Project(r.matches[j].Value, field)
		if !aok || !bok {
			return aok && !bok // defined values first
		}
		c, ok := Compare(a, b)
		if !ok {
			return false
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	return r
}

// SortFunc orders the result with a caller-supplied less function.
func (r *Result) SortFunc(less func(a, b Match) bool) *Result {
	sort.SliceStable(r.matches, func(i, j int) bool {
		return less(r.matches[i], r.matches[j])
	})
	return r
}

// Limit truncates the result to at most n matches.
func (r *Result) Limit(n int) *Result {
	if n >= 0 && n < len(r.matches) {
		r.matches = r.matches[:n]
	}
	return r
}

// Skip drops the first n matches.
func (r *Result) Skip(n int) *Result {
	if n < 0 {
		n = 0
	}
	if n > len(r.matches) {
		n = len(r.matches)
	}
	r.matches = r.matches[n:]
	return r
}

// Filter keeps matches accepted by pred.
func (r *Result) Filter(pred func(Match) bool) *Result {
	kept := r.matches[:0]
	for _, m := range r.matches {
		if pred(m) {
			kept = append(kept, m)
		}
	}
	r.matches = kept
	return r
}

// Map projects every match through fn.
func (r *Result) Map(fn func(Match) any) []any {
	out := make([]any, len(r.matches))
	for i, m := range r.matches {
		out[i] = fn(m)
	}
	return out
}

// First returns the first match.
func (r *Result) First() (Match, bool) {
	if len(r.matches) == 0 {
		return Match{}, false
	}
	return r.matches[0], true
}

// Last returns the last match.
func (r *Result) Last() (Match, bool) {
	if len(r.matches) == 0 {
		return Match{}, false
	}
	return r.matches[len(r.matches)-1], true
}

// Count returns the number of matches.
func (r *Result) Count() int { return len(r.matches) }

// Sum adds the numeric values at field; non-numeric values are skipped.
func (r *Result) Sum(field string) float64 {
	total, _ := r.numericFold(field)
	return total
}

// Avg is Sum over the count of numeric values; 0 when none are numeric.
func (r *Result) Avg(field string) float64 {
	total, n := r.numericFold(field)
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Min returns the smallest numeric value at field.
func (r *Result) Min(field string) (float64, bool) {
	return r.numericExtreme(field, func(candidate, best float64) bool { return candidate < best })
}

// Max returns the largest numeric value at field.
func (r *Result) Max(field string) (float64, bool) {
	return r.numericExtreme(field, func(candidate, best float64) bool { return candidate > best })
}

// GroupBy buckets matches by the canonical string of the value at field.
// Matches without the field group under "".
func (r *Result) GroupBy(field string) map[string][]Match {
	groups := make(map[string][]Match)
	for _, m := range r.matches {
		label := ""
		if v, ok := dotpath.Project(m.Value, field); ok {
			label = groupLabel(v)
		}
		groups[label] = append(groups[label], m)
	}
	return groups
}

func groupLabel(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (r *Result) numericFold(field string) (total float64, n int) {
	for _, m := range r.matches {
		v, ok := dotpath.Project(m.Value, field)
		if !ok {
			continue
		}
		if f, isNum := asNumber(v); isNum {
			total += f
			n++
		}
	}
	return total, n
}

func (r *Result) numericExtreme(field string, better func(candidate, best float64) bool) (float64, bool) {
	var best float64
	found := false
	for _, m := range r.matches {
		v, ok := dotpath.Project(m.Value, field)
		if !ok {
			continue
		}
		f, isNum := asNumber(v)
		if !isNum {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	return best, found
}
