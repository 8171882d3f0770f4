// Package value holds helpers for the dynamic value tree stored by schemes:
// dictionaries are map[string]any, lists are []any and scalars are the usual
// Go types produced by decoding rows or CBOR payloads.
package value

import (
	"sort"

	"github.com/spf13/cast"
)

// Dict is a decoded object.
type Dict = map[string]any

// List is a decoded array.
type List = []any

// IsDict reports whether v is a dictionary.
func IsDict(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// IsList reports whether v is a list.
func IsList(v any) bool {
	_, ok := v.([]any)
	return ok
}

// IsInteger reports whether v holds an integral number.
func IsInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Int converts v to int64. Booleans, strings and containers are rejected so
// that ids are never guessed from user text.
func Int(v any) (int64, bool) {
	switch t := v.(type) {
	case nil, bool, string, []byte, map[string]any, []any:
		return 0, false
	case float32:
		return int64(t), float32(int64(t)) == t
	case float64:
		return int64(t), float64(int64(t)) == t
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// ToInt converts any scalar to int64, zero when impossible.
func ToInt(v any) int64 {
	return cast.ToInt64(v)
}

// ToFloat converts any scalar to float64, zero when impossible.
func ToFloat(v any) float64 {
	return cast.ToFloat64(v)
}

// ToBool converts any scalar to bool.
func ToBool(v any) bool {
	return cast.ToBool(v)
}

// ToString converts any scalar to string.
func ToString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return cast.ToString(v)
}

// Oid extracts an object id from an integer or from a dict carrying __oid.
func Oid(v any) int64 {
	if d, ok := v.(map[string]any); ok {
		v = d["__oid"]
	}
	id, ok := Int(v)
	if !ok {
		return 0
	}
	return id
}

// Keys returns the sorted keys of d.
func Keys(d Dict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone performs a deep copy of dictionaries and lists.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	}
	return v
}

// Merge applies patch onto dst recursively. Nested dictionaries merge key by
// key and a nil value removes the key. It returns dst.
func Merge(dst, patch Dict) Dict {
	if dst == nil {
		dst = make(Dict, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if pd, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				dst[k] = Merge(cur, pd)
				continue
			}
			dst[k] = Merge(nil, pd)
			continue
		}
		dst[k] = Clone(v)
	}
	return dst
}
