// Package dotpath resolves dot-separated paths over decoded JSON trees
// (map[string]any, []any, scalars). A purely numeric segment indexes into
// an array; any other segment looks up an object property.
package dotpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Project walks v along path and returns the value at the leaf.
// The second return is false when any segment is missing or the
// intermediate value is not traversable.
func Project(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes val at path inside root, creating intermediate objects for
// missing segments. Array segments must already exist and be in range.
// Returns the (possibly replaced) root.
func Set(root any, path string, val any) (any, error) {
	if path == "" {
		return val, nil
	}
	segs := strings.Split(path, ".")

	obj, ok := root.(map[string]any)
	if root == nil {
		obj, ok = map[string]any{}, true
	}
	if ok {
		if err := setInMap(obj, segs, val); err != nil {
			return nil, err
		}
		return obj, nil
	}
	if arr, isArr := root.([]any); isArr {
		if err := setInSlice(arr, segs, val); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("cannot set path %q on scalar value", path)
}

func setInMap(node map[string]any, segs []string, val any) error {
	head, rest := segs[0], segs[1:]
	if len(rest) == 0 {
		node[head] = val
		return nil
	}
	child, exists := node[head]
	if !exists || child == nil {
		child = map[string]any{}
		node[head] = child
	}
	return descend(child, head, rest, val)
}

func setInSlice(node []any, segs []string, val any) error {
	head, rest := segs[0], segs[1:]
	i, err := strconv.Atoi(head)
	if err != nil || i < 0 || i >= len(node) {
		return fmt.Errorf("array index %q out of range", head)
	}
	if len(rest) == 0 {
		node[i] = val
		return nil
	}
	return descend(node[i], head, rest, val)
}

func descend(child any, seg string, rest []string, val any) error {
	switch c := child.(type) {
	case map[string]any:
		return setInMap(c, rest, val)
	case []any:
		return setInSlice(c, rest, val)
	default:
		return fmt.Errorf("segment %q is not an object or array", seg)
	}
}
