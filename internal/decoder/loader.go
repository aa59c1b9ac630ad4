package decoder

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// PluginExt is the file extension of loadable decoder plugins.
const PluginExt = ".so"

// NameOf returns the decoder name for a reference: the base file name
// without extension.
//
//	NameOf("/opt/shims/decoders/Tasmota.so") == "Tasmota"
//	NameOf("Expand") == "Expand"
func NameOf(ref string) string {
	base := filepath.Base(ref)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// Opener resolves a plugin file to its exported factory symbol.
type Opener func(path, symbol string) (Factory, error)

// Loader turns decoder references into instances.
type Loader struct {
	open Opener
}

// NewLoader returns a Loader that opens .so files with the Go plugin
// package.
func NewLoader() *Loader {
	return &Loader{open: openPlugin}
}

// NewLoaderWithOpener returns a Loader with a custom plugin opener.
func NewLoaderWithOpener(open Opener) *Loader {
	return &Loader{open: open}
}

// Load instantiates the decoder named by ref.
//
// A reference ending in .so is opened as a plugin and must export a symbol
// named NameOf(ref) of type Factory or func(string) (Decoder, error). Any
// other reference selects a built-in by name.
func (l *Loader) Load(ref string) (Decoder, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrLoad)
	}
	name := NameOf(ref)

	var factory Factory
	if strings.EqualFold(filepath.Ext(ref), PluginExt) {
		f, err := l.open(ref, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoad, ref, err)
		}
		factory = f
	} else {
		f, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrLoad, ErrUnknown, name)
		}
		factory = f
	}

	d, err := factory(name)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrLoad, name, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s factory returned nil", ErrLoad, name)
	}
	return d, nil
}

func openPlugin(path, symbol string) (Factory, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, err
	}

	switch f := sym.(type) {
	case func(string) (Decoder, error):
		return f, nil
	case *Factory:
		return *f, nil
	case *func(string) (Decoder, error):
		return *f, nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want decoder.Factory", symbol, sym)
	}
}
