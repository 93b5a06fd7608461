package engine

import (
	"github.com/keelworks/keeldb/internal/index"
	"github.com/keelworks/keeldb/internal/query"
)

// storeSource adapts the engine to the query executor. Methods do no
// locking of their own: the engine holds its read lock across the whole
// evaluation, so the executor sees one consistent image of the store.
type storeSource Engine

func (s *storeSource) Entries() []query.Match {
	e := (*Engine)(s)
	out := make([]query.Match, 0, len(e.data))
	for k, v := range e.data {
		out = append(out, query.Match{Key: k, Value: v})
	}
	return out
}

func (s *storeSource) Fetch(key string) (any, bool) {
	v, ok := (*Engine)(s).data[key]
	return v, ok
}

func (s *storeSource) SelectIndex(field, op string) (index.Index, bool) {
	return (*Engine)(s).indexes.Select(field, op)
}

func (s *storeSource) Size() int {
	return len((*Engine)(s).data)
}
