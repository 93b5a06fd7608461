package query

import "encoding/json"

// Equal reports structural equality between two decoded JSON values.
// Numbers compare numerically regardless of the Go integer/float type the
// caller handed in.
func Equal(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	// Composite values: canonical JSON encoding (map keys sorted).
	ar, aerr := json.Marshal(a)
	br, berr := json.Marshal(b)
	return aerr == nil && berr == nil && string(ar) == string(br)
}

// Compare orders a against b: -1, 0 or +1. ok is false when the two are
// not mutually comparable (different classes, or not number/string).
func Compare(a, b any) (int, bool) {
	if an, aok := asNumber(a); aok {
		bn, bok := asNumber(b)
		if !bok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	}
	return 0, true
}

// asNumber widens any numeric Go representation to float64. Decoded JSON
// is always float64; the other cases cover values set through the
// embedded API.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
