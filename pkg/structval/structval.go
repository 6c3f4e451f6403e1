// Package structval recognizes well-formed structured values.
//
// A structured value is built from a closed algebra: nil, bool, numbers,
// strings, []any arrays, and map[string]any objects. Nothing else —
// no channels, funcs, pointers, or custom types — may appear at any depth.
// Every validator in the repo leans on this package instead of doing
// ad hoc shape checks at the call site.
package structval

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxDepth bounds recursion so a cyclic or adversarial value cannot
// blow the stack.
const MaxDepth = 64

// Check reports whether v is a well-formed structured value.
// The returned error names the offending path (e.g. "payload.items[2].x").
func Check(v any) error {
	return check(v, "$", 0)
}

// IsStructured is the predicate form of Check.
func IsStructured(v any) bool {
	return Check(v) == nil
}

// CheckMap requires v to be a non-nil structured object.
func CheckMap(v any) error {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return fmt.Errorf("structval: expected object, got %T", v)
	}
	return Check(m)
}

func check(v any, path string, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("structval: %s exceeds max depth %d", path, MaxDepth)
	}

	switch tv := v.(type) {
	case nil:
		return nil
	case bool, string:
		return nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float32, float64, json.Number:
		return nil
	case time.Time:
		// Timestamps serialize to RFC 3339 strings; accepted at any depth.
		return nil
	case []any:
		for i, elem := range tv {
			if err := check(elem, fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for k, elem := range tv {
			if k == "" {
				return fmt.Errorf("structval: %s has empty key", path)
			}
			if err := check(elem, path+"."+k, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("structval: %s has unsupported type %T", path, v)
	}
}
