// Package collection layers a namespaced document model with optional
// schema validation over the key/value engine. Documents of collection
// `users` live under keys `users::<id>`; `_id` always equals the full
// key.
package collection

import (
	"fmt"
	"regexp"

	"github.com/keelworks/keeldb/internal/query"
)

// Schema maps field paths to validation rules.
type Schema map[string]Rule

// Rule validates one field. Min/Max apply to the numeric value for
// numbers and to the length for strings and arrays.
type Rule struct {
	Type     string   `json:"type,omitempty"` // string, number, boolean, array, object
	Required bool     `json:"required,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
}

// ValidationError reports which field failed which rule. Validation
// always runs before any store write, so a failed document leaves no
// partial state.
type ValidationError struct {
	Field  string
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q (%s): %s", e.Field, e.Rule, e.Detail)
}

// compiledSchema pairs the rules with their pre-compiled patterns.
type compiledSchema struct {
	rules    Schema
	patterns map[string]*regexp.Regexp
}

func compileSchema(s Schema) (*compiledSchema, error) {
	cs := &compiledSchema{rules: s, patterns: make(map[string]*regexp.Regexp)}
	for field, rule := range s {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern for field %q: %w", field, err)
		}
		cs.patterns[field] = re
	}
	return cs, nil
}

func (cs *compiledSchema) validate(doc map[string]any) error {
	for field, rule := range cs.rules {
		val, defined := doc[field]
		if !defined {
			if rule.Required {
				return &ValidationError{Field: field, Rule: "required", Detail: "field is missing"}
			}
			continue
		}
		if err := cs.validateField(field, rule, val); err != nil {
			return err
		}
	}
	return nil
}

func (cs *compiledSchema) validateField(field string, rule Rule, val any) error {
	if rule.Type != "" && !typeMatches(rule.Type, val) {
		return &ValidationError{
			Field: field, Rule: "type",
			Detail: fmt.Sprintf("expected %s, got %T", rule.Type, val),
		}
	}
	if rule.Min != nil || rule.Max != nil {
		size, measurable := measure(val)
		if measurable {
			if rule.Min != nil && size < *rule.Min {
				return &ValidationError{
					Field: field, Rule: "min",
					Detail: fmt.Sprintf("%v is below %v", size, *rule.Min),
				}
			}
			if rule.Max != nil && size > *rule.Max {
				return &ValidationError{
					Field: field, Rule: "max",
					Detail: fmt.Sprintf("%v is above %v", size, *rule.Max),
				}
			}
		}
	}
	if len(rule.Enum) > 0 {
		found := false
		for _, allowed := range rule.Enum {
			if query.Equal(val, allowed) {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{
				Field: field, Rule: "enum",
				Detail: fmt.Sprintf("%v is not an allowed value", val),
			}
		}
	}
	if re, ok := cs.patterns[field]; ok {
		s, isStr := val.(string)
		if !isStr || !re.MatchString(s) {
			return &ValidationError{
				Field: field, Rule: "pattern",
				Detail: fmt.Sprintf("value does not match %s", re.String()),
			}
		}
	}
	return nil
}

func typeMatches(want string, val any) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	}
	return false
}

// measure yields the comparable size of a value: the value itself for
// numbers, the length for strings and arrays.
func measure(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		return float64(len(v)), true
	case []any:
		return float64(len(v)), true
	}
	return 0, false
}
