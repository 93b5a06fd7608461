package index

import (
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var tokenSplit = regexp.MustCompile(`\W+`)

// tokenize lowercases s and splits on runs of non-word characters.
func tokenize(s string) []string {
	parts := tokenSplit.Split(strings.ToLower(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// textIndex maps lowercase tokens to key sets. Matching scans the token
// table (O(tokens)), which is fine at the store's target scale.
type textIndex struct {
	field  string
	tokens map[string]mapset.Set[string]
}

func newTextIndex(field string) *textIndex {
	return &textIndex{field: field, tokens: make(map[string]mapset.Set[string])}
}

func (t *textIndex) Kind() Kind    { return KindText }
func (t *textIndex) Field() string { return t.field }
func (t *textIndex) Len() int      { return len(t.tokens) }

func (t *textIndex) Add(key string, value any) {
	s, ok := value.(string)
	if !ok {
		return
	}
	for _, tok := range tokenize(s) {
		bucket, ok := t.tokens[tok]
		if !ok {
			bucket = mapset.NewThreadUnsafeSet[string]()
			t.tokens[tok] = bucket
		}
		bucket.Add(key)
	}
}

func (t *textIndex) Remove(key string, value any) {
	s, ok := value.(string)
	if !ok {
		return
	}
	for _, tok := range tokenize(s) {
		if bucket, ok := t.tokens[tok]; ok {
			bucket.Remove(key)
			if bucket.Cardinality() == 0 {
				delete(t.tokens, tok)
			}
		}
	}
}

func (t *textIndex) Supports(op string) bool {
	switch op {
	case OpContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

func (t *textIndex) Lookup(op string, operand any) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	needle, ok := operand.(string)
	if !ok {
		return out
	}
	needle = strings.ToLower(needle)

	var match func(token string) bool
	switch op {
	case OpContains:
		match = func(tok string) bool { return strings.Contains(tok, needle) }
	case OpStartsWith:
		match = func(tok string) bool { return strings.HasPrefix(tok, needle) }
	case OpEndsWith:
		match = func(tok string) bool { return strings.HasSuffix(tok, needle) }
	default:
		return out
	}

	for tok, bucket := range t.tokens {
		if match(tok) {
			out = out.Union(bucket)
		}
	}
	return out
}
