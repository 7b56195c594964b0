package utils

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/modern-go/reflect2"
)

// IsNil checks for nil including typed nil values
// wrapped into an interface.
func IsNil(v any) bool {
	return v == nil || reflect2.IsNil(v)
}

// CanonicalJSON provides the JSON canonicalization (RFC 8785)
// of the given value. Map keys are sorted and numbers normalized,
// so that equal values of different integer types
// get the same representation.
func CanonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	data, err = jcs.Transform(data)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NormalizeValue maps attribute values to a uniform
// value domain: integers are represented as int64, floats
// as float64 and typed nils as nil.
func NormalizeValue(v any) any {
	if IsNil(v) {
		return nil
	}
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return uintValue(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case *string:
		return *t
	case *int64:
		return *t
	case *float64:
		return *t
	case *bool:
		return *t
	case *time.Time:
		return *t
	}
	return v
}

func uintValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// EqualValues compares two normalized attribute values.
func EqualValues(a, b any) bool {
	a = NormalizeValue(a)
	b = NormalizeValue(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch ta := a.(type) {
	case int64:
		if fb, ok := b.(float64); ok {
			return float64(ta) == fb
		}
	case float64:
		if ib, ok := b.(int64); ok {
			return ta == float64(ib)
		}
	case []byte:
		if bb, ok := b.([]byte); ok {
			return bytes.Equal(ta, bb)
		}
		return false
	case time.Time:
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// NormalizeMap normalizes all values of a map into a new map.
func NormalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	r := make(map[string]any, len(m))
	for k, v := range m {
		r[k] = NormalizeValue(v)
	}
	return r
}

func Cycle[T comparable](id T, stack ...T) []T {
	i := slices.Index(stack, id)
	if i < 0 {
		return nil
	}
	return append(slices.Clone(stack[i:]), id)
}

