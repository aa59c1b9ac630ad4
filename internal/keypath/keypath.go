// Package keypath resolves small dotted paths inside decoded JSON payloads.
//
// A path is either "." (the whole value) or a dot-separated list of
// segments. A segment is a mapping key ("temp") or a bracketed sequence
// index ("[2]"):
//
//	"."                   → data
//	"temp"                → data["temp"]
//	"state.brightness"    → data["state"]["brightness"]
//	"sensors.[1].value"   → data["sensors"][1]["value"]
//
// Splitting is purely syntactic on ".", so keys containing a literal dot
// cannot be addressed. Resolution never modifies the input.
package keypath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Identity is the path that resolves to the input value itself.
const Identity = "."

// ErrNotFound is returned when a path does not resolve to a value.
var ErrNotFound = errors.New("keypath: not found")

// ErrEmptyPath is returned for a blank path.
var ErrEmptyPath = errors.New("keypath: empty path")

// Resolve looks up path in data.
//
// Mapping segments work on map[string]any, index segments on []any. Any
// missing key, out-of-range or malformed index, or attempt to descend into
// a scalar returns an error wrapping ErrNotFound that names the failing
// segment.
func Resolve(path string, data any) (any, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if path == Identity {
		return data, nil
	}

	current := data
	for i, segment := range strings.Split(path, ".") {
		next, err := step(segment, current)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d %q of %q: %w", ErrNotFound, i, segment, path, err)
		}
		current = next
	}
	return current, nil
}

// Lookup is Resolve without the diagnostic error.
func Lookup(path string, data any) (any, bool) {
	v, err := Resolve(path, data)
	return v, err == nil
}

var (
	errMissingKey  = errors.New("missing key")
	errBadIndex    = errors.New("malformed index")
	errOutOfRange  = errors.New("index out of range")
	errNotMapping  = errors.New("value is not a mapping")
	errNotSequence = errors.New("value is not a sequence")
	errEmptyKey    = errors.New("empty key")
)

func step(segment string, data any) (any, error) {
	if idx, ok, err := parseIndex(segment); ok {
		if err != nil {
			return nil, err
		}
		seq, isSeq := data.([]any)
		if !isSeq {
			return nil, fmt.Errorf("%w (%T)", errNotSequence, data)
		}
		if idx < 0 || idx >= len(seq) {
			return nil, fmt.Errorf("%w (%d of %d)", errOutOfRange, idx, len(seq))
		}
		return seq[idx], nil
	}

	if segment == "" {
		return nil, errEmptyKey
	}
	m, isMap := data.(map[string]any)
	if !isMap {
		return nil, fmt.Errorf("%w (%T)", errNotMapping, data)
	}
	v, found := m[segment]
	if !found {
		return nil, errMissingKey
	}
	return v, nil
}

// parseIndex reports whether segment is bracketed and, if so, its index.
func parseIndex(segment string) (int, bool, error) {
	if !strings.HasPrefix(segment, "[") {
		return 0, false, nil
	}
	if !strings.HasSuffix(segment, "]") || len(segment) < 3 {
		return 0, true, errBadIndex
	}
	idx, err := strconv.Atoi(segment[1 : len(segment)-1])
	if err != nil {
		return 0, true, errBadIndex
	}
	return idx, true, nil
}
