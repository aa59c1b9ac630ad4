package decoder

func init() {
	Register("Expand", NewExpand)
	Register("TestDecoder", NewTestDecoder)
}

// Expand flattens one level of nested objects: {"a": {"b": 1}} becomes
// {"a_b": 1}. Top-level scalars are ignored. It is stateless.
type Expand struct {
	name string
}

// NewExpand is the Factory for Expand.
func NewExpand(name string) (Decoder, error) {
	return &Expand{name: name}, nil
}

// Name returns the instance name.
func (e *Expand) Name() string { return e.name }

// Decode returns nil when the payload has no nested objects.
func (e *Expand) Decode(payload any) (map[string]any, error) {
	out := flatten(payload, nil)
	if len(out) == 0 {
		return nil, nil //nolint:nilnil // nil map means no update
	}
	return out, nil
}

// TestDecoder emits a per-instance counter alongside the Expand output.
// The counter starts at 0 and increases by one on every call.
type TestDecoder struct {
	name    string
	counter int64
}

// NewTestDecoder is the Factory for TestDecoder.
func NewTestDecoder(name string) (Decoder, error) {
	return &TestDecoder{name: name}, nil
}

// Name returns the instance name.
func (d *TestDecoder) Name() string { return d.name }

// Decode always returns at least the counter.
func (d *TestDecoder) Decode(payload any) (map[string]any, error) {
	out := map[string]any{"counter": d.counter}
	d.counter++
	return flatten(payload, out), nil
}

func flatten(payload any, into map[string]any) map[string]any {
	if into == nil {
		into = make(map[string]any)
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return into
	}
	for key, v := range m {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for sub, sv := range nested {
			into[key+"_"+sub] = sv
		}
	}
	return into
}
