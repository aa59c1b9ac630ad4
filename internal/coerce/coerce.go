// Package coerce turns raw values extracted from MQTT messages into the
// booleans and numbers that device states hold.
package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrConversion is returned when a value cannot be read as a number.
var ErrConversion = errors.New("coerce: conversion failed")

// offValues are the lower-cased strings treated as "off".
var offValues = map[string]struct{}{
	"off":   {},
	"false": {},
	"0":     {},
}

// IsOffString reports whether s (case-insensitive) is one of "off", "false" or "0".
func IsOffString(s string) bool {
	_, off := offValues[strings.ToLower(s)]
	return off
}

// ToBoolean decides the on/off value of raw.
//
// When onValue is non-empty the result is whether the string form of raw
// equals onValue exactly. Otherwise booleans pass through, numbers are true
// when non-zero, and strings are false only for "off", "false" and "0".
// Any other type counts as on.
func ToBoolean(raw any, onValue string) bool {
	if onValue != "" {
		return Stringify(raw) == onValue
	}

	switch v := raw.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case string:
		return !IsOffString(v)
	case nil:
		return false
	default:
		return true
	}
}

// ToNumeric reads raw as a float64.
func ToNumeric(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrConversion, v.String())
		}
		return f, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrConversion, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrConversion, raw)
	}
}

// Stringify renders a decoded JSON value the way it appeared in the
// payload: integral numbers without a fraction, booleans as true/false.
func Stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
