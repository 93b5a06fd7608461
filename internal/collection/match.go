package collection

import (
	"strings"

	"github.com/keelworks/keeldb/internal/query"
	"github.com/keelworks/keeldb/pkg/dotpath"
)

// Filter is a mongo-flavoured match document: scalar values compare by
// equality, operator objects ({"$gt": 5, "$lt": 10}) AND their clauses,
// and field names may be dot paths.
type Filter map[string]any

// matchDoc reports whether doc satisfies every clause of filter. A
// field that is undefined in the document fails its clause.
func matchDoc(doc map[string]any, filter Filter) bool {
	for field, cond := range filter {
		val, defined := dotpath.Project(doc, field)
		if ops, isOps := cond.(map[string]any); isOps && hasOperators(ops) {
			if !defined || !matchOperators(val, ops) {
				return false
			}
			continue
		}
		if !defined || !query.Equal(val, cond) {
			return false
		}
	}
	return true
}

func hasOperators(cond map[string]any) bool {
	for k := range cond {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOperators(val any, ops map[string]any) bool {
	for op, operand := range ops {
		if !matchOperator(val, op, operand) {
			return false
		}
	}
	return true
}

func matchOperator(val any, op string, operand any) bool {
	switch op {
	case "$ne":
		return !query.Equal(val, operand)
	case "$in":
		items, ok := operand.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if query.Equal(val, item) {
				return true
			}
		}
		return false
	case "$gt":
		c, ok := query.Compare(val, operand)
		return ok && c > 0
	case "$gte":
		c, ok := query.Compare(val, operand)
		return ok && c >= 0
	case "$lt":
		c, ok := query.Compare(val, operand)
		return ok && c < 0
	case "$lte":
		c, ok := query.Compare(val, operand)
		return ok && c <= 0
	}
	return false // unknown operator matches nothing
}
