// Package decoder defines custom payload decoders and the machinery that
// loads, caches and invokes them.
//
// A decoder turns a decoded payload into a flat set of named states. It is
// instantiated once per device with a name and may keep state between
// calls (a counter, a running total). Implementations come from two
// places:
//
//   - built-in factories registered with Register (Expand, TestDecoder)
//   - Go plugins (.so files) exporting a factory symbol named after the
//     file's base name
//
// Decoders are invoked from a single worker goroutine and need not be safe
// for concurrent use.
package decoder

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Decoder errors.
var (
	// ErrLoad means a decoder reference could not be turned into a decoder.
	ErrLoad = errors.New("decoder: load failed")

	// ErrDecode means a decoder failed on a payload.
	ErrDecode = errors.New("decoder: decode failed")

	// ErrUnknown means no factory is registered under the requested name.
	ErrUnknown = errors.New("decoder: unknown decoder")
)

// Decoder transforms a payload into state updates. A nil map means
// "nothing to update".
type Decoder interface {
	Name() string
	Decode(payload any) (map[string]any, error)
}

// Factory creates a named decoder instance.
type Factory func(name string) (Decoder, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a factory available under name. It panics on a duplicate
// or nil registration.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f == nil {
		panic("decoder: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("decoder: Register called twice for " + name)
	}
	registry[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Registered returns the sorted names of all built-in decoders.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SafeDecode calls d.Decode, converting a panic into ErrDecode.
func SafeDecode(d Decoder, payload any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrDecode, d.Name(), r)
		}
	}()

	out, err = d.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, d.Name(), err)
	}
	return out, nil
}
