// Package multistate expands a nested payload object into a flat set of
// dynamically declared device states.
package multistate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-shims/internal/keypath"
)

// Expansion errors. ErrNotMapping indicates a device configuration
// problem; ErrEmpty is only suspicious.
var (
	ErrNotMapping = errors.New("multistate: value is not a mapping")
	ErrEmpty      = errors.New("multistate: mapping is empty")
)

// KeyPrefix is prepended to keys that do not start with a letter.
const KeyPrefix = "sk"

// floatPlaces is the display hint carried by fractional values.
const floatPlaces = 2

// Value is one expanded state.
type Value struct {
	Key           string
	Value         any
	DecimalPlaces *int
}

// SafeKey makes key usable as a state name: keys whose first character is
// not a letter get the "sk" prefix. An empty key becomes "sk".
func SafeKey(key string) string {
	r, _ := utf8.DecodeRuneInString(key)
	if key == "" || !unicode.IsLetter(r) {
		return KeyPrefix + key
	}
	return key
}

// Expand resolves path in data and flattens the mapping found there.
//
// Entries with a nil value are skipped. Booleans, strings and integers
// pass through (json.Number integers become int64); floats carry a two
// decimal place hint; nested objects and arrays are stored as their JSON
// encoding. The result is sorted by key so state writes are
// deterministic.
func Expand(path string, data any) ([]Value, error) {
	found, err := keypath.Resolve(path, data)
	if err != nil {
		return nil, err
	}

	m, ok := found.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q resolved to %T", ErrNotMapping, path, found)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmpty, path)
	}

	return FromMap(m)
}

// FromMap flattens m the way Expand does, without resolving a path.
func FromMap(m map[string]any) ([]Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Value, 0, len(m))
	seen := make(map[string]struct{}, len(m))
	for _, k := range keys {
		raw := m[k]
		if raw == nil {
			continue
		}
		safe := SafeKey(k)
		if _, dup := seen[safe]; dup {
			continue
		}
		seen[safe] = struct{}{}

		v, err := typed(raw)
		if err != nil {
			return nil, fmt.Errorf("multistate: encoding %q: %w", k, err)
		}
		v.Key = safe
		out = append(out, v)
	}
	return out, nil
}

func typed(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool, string, int, int64:
		return Value{Value: v}, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Value{Value: i}, nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, err
		}
		return floatValue(f), nil
	case float64:
		return floatValue(v), nil
	case float32:
		return floatValue(float64(v)), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Value{}, err
		}
		return Value{Value: string(b)}, nil
	}
}

func floatValue(f float64) Value {
	places := floatPlaces
	return Value{Value: f, DecimalPlaces: &places}
}

// Keys returns the keys of values in order.
func Keys(values []Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Key
	}
	return out
}

// SameKeys reports whether a and b hold the same set of keys, ignoring
// order and duplicates.
func SameKeys(a, b []string) bool {
	as := toSet(a)
	bs := toSet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if _, ok := bs[k]; !ok {
			return false
		}
	}
	return true
}

// Merge appends the keys of added missing from existing, keeping order.
func Merge(existing, added []string) []string {
	seen := toSet(existing)
	out := append([]string(nil), existing...)
	for _, k := range added {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}
