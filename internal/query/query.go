// Package query compiles field/operator/value clauses into predicates,
// dispatches them to a compatible index when one exists, and wraps the
// matches in a chainable result pipeline.
package query

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/index"
	"github.com/keelworks/keeldb/pkg/dotpath"
)

// predicateCacheSize caps the compiled-predicate cache so ad-hoc query
// churn cannot grow it without bound.
const predicateCacheSize = 256

// Clause is the tagged query AST produced by Where. The executor decides
// between the index path and the scan path from this structure alone; no
// metadata rides on the predicate function.
type Clause struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Source is the store surface the executor reads from. Reads must observe
// a consistent image of the store (the engine serves them under its read
// lock).
type Source interface {
	// Entries returns every live key/value pair.
	Entries() []Match
	// Fetch returns the value for one key.
	Fetch(key string) (any, bool)
	// SelectIndex returns a published index able to serve op on field.
	SelectIndex(field, op string) (index.Index, bool)
	// Size is the live entry count.
	Size() int
}

// Match is one matched entry.
type Match struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Executor evaluates clauses and predicates against a Source.
type Executor struct {
	src   Source
	log   *zap.Logger
	preds *lru.Cache[string, func(any) bool]
}

// NewExecutor builds an executor with a bounded predicate cache.
func NewExecutor(src Source, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	preds, _ := lru.New[string, func(any) bool](predicateCacheSize)
	return &Executor{src: src, log: log.Named("query"), preds: preds}
}

// Find filters the whole store with a caller-supplied predicate over
// (key, value). Always a full scan: an opaque function exposes no index
// metadata.
func (e *Executor) Find(pred func(key string, value any) bool) *Result {
	var matches []Match
	for _, m := range e.src.Entries() {
		if pred(m.Key, m.Value) {
			matches = append(matches, m)
		}
	}
	return newResult(matches)
}

// Where evaluates a single clause. If a compatible index covers the field
// and operator the key set comes from the index and values are hydrated
// from the store; otherwise the clause degrades to a full scan with a
// compiled (and cached) predicate.
func (e *Executor) Where(field, op string, value any) *Result {
	return e.Eval(Clause{Field: field, Op: op, Value: value})
}

// Eval executes a tagged clause.
func (e *Executor) Eval(c Clause) *Result {
	if idx, ok := e.src.SelectIndex(c.Field, c.Op); ok {
		keys := idx.Lookup(c.Op, c.Value).ToSlice()
		matches := make([]Match, 0, len(keys))
		for _, k := range keys {
			if v, ok := e.src.Fetch(k); ok {
				matches = append(matches, Match{Key: k, Value: v})
			}
		}
		return newResult(matches)
	}

	e.log.Debug("no compatible index; scanning",
		zap.String("field", c.Field),
		zap.String("op", c.Op),
	)
	pred, err := e.compile(c)
	if err != nil {
		// Unknown operator: empty result, not an error surface.
		e.log.Warn("clause compile failed", zap.String("op", c.Op), zap.Error(err))
		return newResult(nil)
	}
	var matches []Match
	for _, m := range e.src.Entries() {
		if pred(m.Value) {
			matches = append(matches, m)
		}
	}
	return newResult(matches)
}

// compile turns a clause into a value predicate, consulting the bounded
// cache first. The cache key is field|op|value in canonical JSON.
func (e *Executor) compile(c Clause) (func(any) bool, error) {
	key := cacheKey(c)
	if pred, ok := e.preds.Get(key); ok {
		return pred, nil
	}
	test, err := operatorTest(c.Op, c.Value)
	if err != nil {
		return nil, err
	}
	pred := func(v any) bool {
		fieldVal, defined := dotpath.Project(v, c.Field)
		if !defined {
			return false
		}
		return test(fieldVal)
	}
	e.preds.Add(key, pred)
	return pred, nil
}

func cacheKey(c Clause) string {
	raw, err := json.Marshal(c.Value)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", c.Value))
	}
	var b strings.Builder
	b.WriteString(c.Field)
	b.WriteByte('|')
	b.WriteString(c.Op)
	b.WriteByte('|')
	b.Write(raw)
	return b.String()
}

// operatorTest builds the per-value test for one operator.
func operatorTest(op string, operand any) (func(any) bool, error) {
	switch op {
	case index.OpEq:
		return func(v any) bool { return Equal(v, operand) }, nil
	case index.OpNe:
		return func(v any) bool { return !Equal(v, operand) }, nil
	case index.OpIn:
		items, ok := operand.([]any)
		if !ok {
			return func(any) bool { return false }, nil
		}
		return func(v any) bool {
			for _, item := range items {
				if Equal(v, item) {
					return true
				}
			}
			return false
		}, nil
	case index.OpGt:
		return orderedTest(operand, func(c int) bool { return c > 0 }), nil
	case index.OpGte:
		return orderedTest(operand, func(c int) bool { return c >= 0 }), nil
	case index.OpLt:
		return orderedTest(operand, func(c int) bool { return c < 0 }), nil
	case index.OpLte:
		return orderedTest(operand, func(c int) bool { return c <= 0 }), nil
	case index.OpContains:
		return stringTest(operand, strings.Contains), nil
	case index.OpStartsWith:
		return stringTest(operand, strings.HasPrefix), nil
	case index.OpEndsWith:
		return stringTest(operand, strings.HasSuffix), nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func orderedTest(operand any, accept func(int) bool) func(any) bool {
	return func(v any) bool {
		c, ok := Compare(v, operand)
		return ok && accept(c)
	}
}

func stringTest(operand any, match func(s, needle string) bool) func(any) bool {
	needle, ok := operand.(string)
	return func(v any) bool {
		if !ok {
			return false
		}
		s, isStr := v.(string)
		return isStr && match(strings.ToLower(s), strings.ToLower(needle))
	}
}
