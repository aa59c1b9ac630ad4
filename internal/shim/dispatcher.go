package shim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/gray-logic-shims/internal/coerce"
	"github.com/nerrad567/gray-logic-shims/internal/colour"
	"github.com/nerrad567/gray-logic-shims/internal/decoder"
	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/keypath"
	"github.com/nerrad567/gray-logic-shims/internal/multistate"
	"github.com/nerrad567/gray-logic-shims/internal/sensor"
)

// Dispatcher applies one message to one device.
//
// The steps run in order: match the unique ID, extract the primary value,
// write capability extras (battery, energy, power), expand multi-states,
// run the decoder, apply the device type, fire triggers. A failure before
// the first write abandons the message. After that each write stands on
// its own, so a bad sensor value does not undo a battery reading. A state
// value of JSON null stops the message after the decoder: the device type
// step and triggers are skipped.
//
// Thread Safety: Update is called from the worker goroutine only. Decoder
// instances are not assumed to be safe for concurrent use.
type Dispatcher struct {
	store    DeviceStore
	schema   SchemaRegistry
	decoders DecoderCache
	triggers TriggerSource
	firer    TriggerFirer
	adjuster *coerce.Adjuster
	logger   Logger
}

// NewDispatcher creates a dispatcher.
//
// Parameters:
//   - store: device registry receiving state writes
//   - schema: declared dynamic state keys per device
//   - decoders: per-device decoder instances (may be nil)
//   - triggers: triggers bound to devices (may be nil)
//   - firer: announces fired triggers (may be nil)
//   - logger: Logger instance
func NewDispatcher(store DeviceStore, schema SchemaRegistry, decoders DecoderCache, triggers TriggerSource, firer TriggerFirer, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		store:    store,
		schema:   schema,
		decoders: decoders,
		triggers: triggers,
		firer:    firer,
		adjuster: coerce.NewAdjuster(),
		logger:   logger,
	}
}

// update carries one message through the pipeline.
type update struct {
	dev      *device.Device
	parts    []string
	payload  string
	data     any
	jsonErr  error
	written  map[string]bool
	order    []string
	storeErr error

	// nullState is set when the state path resolved to JSON null.
	nullState bool
}

// Update runs the pipeline for dev and reports what happened.
func (d *Dispatcher) Update(ctx context.Context, dev *device.Device, topicParts []string, payload string) Result {
	u := &update{
		dev:     dev,
		parts:   topicParts,
		payload: payload,
		written: make(map[string]bool),
	}
	u.data, u.jsonErr = parsePayload(payload)

	if err := d.matchUID(u); err != nil {
		return d.abort(u, err)
	}

	value, hasValue, err := d.extractState(u)
	if err != nil {
		return d.abort(u, err)
	}

	d.applyCapabilityExtras(ctx, u)
	d.applyDynamicStates(ctx, u)

	if u.nullState {
		return d.finish(u, nil)
	}

	if hasValue {
		if err := d.applyTypeSpecific(ctx, u, value); err != nil {
			return d.abort(u, err)
		}
	}

	fired := d.evaluateTriggers(ctx, u)
	return d.finish(u, fired)
}

func (d *Dispatcher) abort(u *update, err error) Result {
	res := Result{
		DeviceID: u.dev.ID,
		Outcome:  outcomeFor(err),
		Err:      err,
		Written:  u.order,
	}
	if res.Outcome == OutcomeUIDMismatch {
		d.logger.Debug("message not for device", "device", u.dev.Name, "reason", err)
	} else {
		d.logger.Error("message aborted", "device", u.dev.Name, "outcome", res.Outcome, "error", err)
	}
	return res
}

func (d *Dispatcher) finish(u *update, fired []string) Result {
	res := Result{
		DeviceID: u.dev.ID,
		Outcome:  OutcomeNoChange,
		Written:  u.order,
		Fired:    fired,
	}
	switch {
	case len(u.order) > 0:
		res.Outcome = OutcomeUpdated
	case u.storeErr != nil:
		res.Outcome = OutcomeStoreError
		res.Err = u.storeErr
	}
	return res
}

func outcomeFor(err error) Outcome {
	switch {
	case errors.Is(err, ErrUIDMismatch):
		return OutcomeUIDMismatch
	case errors.Is(err, keypath.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrParse):
		return OutcomeParseError
	case errors.Is(err, coerce.ErrConversion):
		return OutcomeConversionError
	case errors.Is(err, ErrConfig):
		return OutcomeConfigError
	default:
		return OutcomeStoreError
	}
}

// parsePayload decodes payload as a single JSON value, keeping numbers
// as json.Number.
func parsePayload(payload string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func (u *update) requireJSON(what string) error {
	if u.jsonErr != nil {
		return fmt.Errorf("%w: %s needs a JSON payload: %w", ErrParse, what, u.jsonErr)
	}
	return nil
}

func (u *update) topicField(setting string, field *int) (string, error) {
	if field == nil {
		return "", fmt.Errorf("%w: %s is required", ErrConfig, setting)
	}
	i := *field
	if i < 0 || i >= len(u.parts) {
		return "", fmt.Errorf("%w: %s is %d but topic has %d fields", ErrParse, setting, i, len(u.parts))
	}
	return u.parts[i], nil
}

func (d *Dispatcher) matchUID(u *update) error {
	p := u.dev.Props

	var uid string
	switch p.UIDLocation {
	case device.LocationTopic:
		field, err := u.topicField("uid_location_topic_field", p.UIDTopicField)
		if err != nil {
			return err
		}
		uid = field

	case device.LocationPayload:
		if err := u.requireJSON("uid_location"); err != nil {
			return err
		}
		if p.UIDPayloadKey == "" {
			return fmt.Errorf("%w: uid_location_payload_key is required", ErrConfig)
		}
		raw, err := keypath.Resolve(p.UIDPayloadKey, u.data)
		if err != nil {
			return fmt.Errorf("%w: %q not in payload", ErrUIDMismatch, p.UIDPayloadKey)
		}
		uid = coerce.Stringify(raw)

	default:
		return fmt.Errorf("%w: uid_location %q", ErrConfig, p.UIDLocation)
	}

	want := strings.TrimSpace(u.dev.Address)
	if got := strings.TrimSpace(uid); got != want {
		return fmt.Errorf("%w: got %q, want %q", ErrUIDMismatch, got, want)
	}
	return nil
}

func (d *Dispatcher) extractState(u *update) (any, bool, error) {
	if u.dev.Type == device.TypeGeneric {
		return nil, false, nil
	}
	p := u.dev.Props

	switch p.StateLocation {
	case "":
		return nil, false, nil

	case device.LocationTopic:
		field, err := u.topicField("state_location_topic", p.StateTopicField)
		if err != nil {
			return nil, false, err
		}
		return field, true, nil

	case device.LocationPayload:
		switch p.StatePayloadType {
		case device.PayloadRaw:
			return u.payload, true, nil
		case device.PayloadJSON:
			if err := u.requireJSON("state_location"); err != nil {
				return nil, false, err
			}
			if p.StatePayloadKey == "" {
				return nil, false, fmt.Errorf("%w: state_location_payload_key is required", ErrConfig)
			}
			v, err := keypath.Resolve(p.StatePayloadKey, u.data)
			if err != nil {
				return nil, false, fmt.Errorf("state key %q: %w", p.StatePayloadKey, err)
			}
			if v == nil {
				d.logger.Debug("state value is null", "device", u.dev.Name, "key", p.StatePayloadKey)
				u.nullState = true
				return nil, false, nil
			}
			return v, true, nil
		default:
			return nil, false, fmt.Errorf("%w: state_location_payload_type %q", ErrConfig, p.StatePayloadType)
		}

	default:
		return nil, false, fmt.Errorf("%w: state_location %q", ErrConfig, p.StateLocation)
	}
}

// write stores updates and records which keys were written. Failures are
// logged and remembered; the pipeline carries on.
func (d *Dispatcher) write(ctx context.Context, u *update, updates []device.StateUpdate) bool {
	if len(updates) == 0 {
		return false
	}
	if err := d.store.UpdateStates(ctx, u.dev.ID, updates); err != nil {
		d.logger.Error("writing states failed", "device", u.dev.Name, "error", err)
		u.storeErr = err
		return false
	}
	for _, up := range updates {
		if !u.written[up.Key] {
			u.written[up.Key] = true
			u.order = append(u.order, up.Key)
		}
	}
	return true
}

func (d *Dispatcher) setImage(ctx context.Context, u *update, image string) {
	if image == "" {
		return
	}
	if err := d.store.SetStateImage(ctx, u.dev.ID, image); err != nil {
		d.logger.Warn("setting state image failed", "device", u.dev.Name, "error", err)
	}
}

type extra struct {
	enabled bool
	key     string
	path    string
	suffix  string
}

func (d *Dispatcher) applyCapabilityExtras(ctx context.Context, u *update) {
	p := u.dev.Props
	metered := u.dev.Type != device.TypeGeneric

	extras := []extra{
		{p.SupportsBatteryLevel, device.StateBattery, p.BatteryPayloadKey, "%"},
		{metered && p.SupportsEnergyMeter, device.StateEnergyTotal, p.EnergyPayloadKey, " kWh"},
		{metered && p.SupportsEnergyMeterCurPower, device.StateCurrentPower, p.PowerPayloadKey, " W"},
	}
	for _, e := range extras {
		if !e.enabled {
			continue
		}
		if err := d.applyExtra(ctx, u, e); err != nil {
			d.logger.Debug("capability skipped", "device", u.dev.Name, "state", e.key, "reason", err)
		}
	}
}

func (d *Dispatcher) applyExtra(ctx context.Context, u *update, e extra) error {
	if e.path == "" {
		return fmt.Errorf("%w: no payload key for %s", ErrConfig, e.key)
	}
	if err := u.requireJSON(e.key); err != nil {
		return err
	}

	ok, err := d.schema.HasState(ctx, u.dev, e.key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCapabilityMismatch, e.key)
	}

	raw, err := keypath.Resolve(e.path, u.data)
	if err != nil {
		return err
	}
	n, err := coerce.ToNumeric(raw)
	if err != nil {
		return err
	}

	d.write(ctx, u, []device.StateUpdate{{
		Key:     e.key,
		Value:   n,
		UIValue: coerce.Stringify(raw) + e.suffix,
	}})
	return nil
}

// applyDynamicStates expands multi-states and runs the decoder, then
// declares their keys with at most one schema write. Multi-state keys
// replace the declared set and decoder keys are added to it.
func (d *Dispatcher) applyDynamicStates(ctx context.Context, u *update) {
	multi := d.expandMultiState(u)
	decoded := d.runDecoder(u)
	if len(multi) == 0 && len(decoded) == 0 {
		return
	}

	declared, err := d.schema.DeclaredKeys(ctx, u.dev.ID)
	if err != nil {
		d.logger.Error("loading state schema failed", "device", u.dev.Name, "error", err)
		return
	}
	want := declared
	if len(multi) > 0 {
		want = multistate.Keys(multi)
	}
	want = multistate.Merge(want, multistate.Keys(decoded))
	if !multistate.SameKeys(declared, want) {
		if err := d.schema.Redeclare(ctx, u.dev.ID, want); err != nil {
			d.logger.Error("redeclaring states failed", "device", u.dev.Name, "error", err)
			return
		}
		d.logger.Debug("dynamic states redeclared", "device", u.dev.Name, "states", want)
	}

	d.write(ctx, u, toUpdates(multi))
	d.write(ctx, u, toUpdates(decoded))
}

func (d *Dispatcher) expandMultiState(u *update) []multistate.Value {
	path := u.dev.Props.StateDictPayloadKey
	if path == "" {
		return nil
	}
	if err := u.requireJSON("state_dict_payload_key"); err != nil {
		d.logger.Error("multi-states skipped", "device", u.dev.Name, "error", err)
		return nil
	}

	values, err := multistate.Expand(path, u.data)
	switch {
	case errors.Is(err, multistate.ErrEmpty):
		d.logger.Warn("possible device config error, multi-states key returns an empty mapping",
			"device", u.dev.Name, "key", path)
		return nil
	case errors.Is(err, multistate.ErrNotMapping):
		d.logger.Error("device config error, bad multi-states key",
			"device", u.dev.Name, "key", path, "error", err)
		return nil
	case errors.Is(err, keypath.ErrNotFound):
		d.logger.Warn("multi-states key not in payload", "device", u.dev.Name, "key", path)
		return nil
	case err != nil:
		d.logger.Error("expanding multi-states failed", "device", u.dev.Name, "error", err)
		return nil
	}
	return values
}

func (d *Dispatcher) runDecoder(u *update) []multistate.Value {
	ref := u.dev.Props.CustomDecoder
	if ref == "" || d.decoders == nil {
		return nil
	}

	dec, created, err := d.decoders.Get(u.dev.ID, ref)
	if err != nil {
		d.logger.Error("loading decoder failed", "device", u.dev.Name, "decoder", ref, "error", err)
		return nil
	}
	if created {
		d.logger.Info("decoder loaded", "device", u.dev.Name, "decoder", dec.Name())
	}

	if err := u.requireJSON("custom_decoder"); err != nil {
		d.logger.Error("decoder skipped", "device", u.dev.Name, "error", err)
		return nil
	}

	out, err := decoder.SafeDecode(dec, u.data)
	if err != nil {
		d.logger.Error("decode error", "device", u.dev.Name, "decoder", dec.Name(), "error", err)
		return nil
	}
	if len(out) == 0 {
		return nil
	}

	values, err := multistate.FromMap(out)
	if err != nil {
		d.logger.Error("decoder output unusable", "device", u.dev.Name, "error", err)
		return nil
	}
	return values
}

func toUpdates(values []multistate.Value) []device.StateUpdate {
	updates := make([]device.StateUpdate, len(values))
	for i, v := range values {
		updates[i] = device.StateUpdate{Key: v.Key, Value: v.Value, DecimalPlaces: v.DecimalPlaces}
	}
	return updates
}

func (d *Dispatcher) applyTypeSpecific(ctx context.Context, u *update, value any) error {
	switch u.dev.Type {
	case device.TypeRelay, device.TypeOnOffSensor:
		d.applyOnOff(ctx, u, value)
	case device.TypeDimmer:
		d.applyDimmer(ctx, u, value)
	case device.TypeColor:
		d.applyDimmer(ctx, u, value)
		d.applyColour(ctx, u)
	case device.TypeValueSensor:
		return d.applyValueSensor(ctx, u, value)
	}
	return nil
}

func (d *Dispatcher) applyOnOff(ctx context.Context, u *update, value any) {
	on := coerce.ToBoolean(value, u.dev.Props.StateOnValue)
	d.write(ctx, u, []device.StateUpdate{{Key: device.StateOnOff, Value: on}})

	role := u.dev.Props.SensorSubtype
	if role == "" {
		role = sensor.RoleGeneric
	}
	d.setImage(ctx, u, sensor.OnOffImage(role, on))
}

func (d *Dispatcher) applyDimmer(ctx context.Context, u *update, value any) {
	p := u.dev.Props
	on := !coerce.IsOffString(coerce.Stringify(value))

	image := sensor.ImageDimmerOff
	if on {
		image = sensor.ImageDimmerOn
	}
	d.setImage(ctx, u, image)

	updates := []device.StateUpdate{{Key: device.StateOnOff, Value: on}}
	if on && p.BrightnessPayloadKey != "" && u.jsonErr == nil {
		if raw, ok := keypath.Lookup(p.BrightnessPayloadKey, u.data); ok && raw != nil {
			b, err := coerce.ToNumeric(raw)
			if err != nil {
				d.logger.Warn("brightness is not a number", "device", u.dev.Name, "value", raw)
			} else {
				updates = append(updates, device.StateUpdate{
					Key:   device.StateBrightness,
					Value: colour.BrightnessImport(p.BrightnessScale, b),
				})
			}
		}
	}
	d.write(ctx, u, updates)
}

func (d *Dispatcher) applyColour(ctx context.Context, u *update) {
	p := u.dev.Props
	if u.jsonErr != nil {
		return
	}

	var updates []device.StateUpdate
	if p.ColorPayloadKey != "" {
		if raw, ok := keypath.Lookup(p.ColorPayloadKey, u.data); ok {
			if m, isMap := raw.(map[string]any); isMap && len(m) > 0 {
				rgb, err := colour.ToNative(p.ColorSpace, m)
				if err != nil {
					d.logger.Warn("colour value unusable", "device", u.dev.Name, "error", err)
				} else {
					updates = append(updates,
						device.StateUpdate{Key: device.StateRed, Value: rgb.Red},
						device.StateUpdate{Key: device.StateGreen, Value: rgb.Green},
						device.StateUpdate{Key: device.StateBlue, Value: rgb.Blue},
					)
				}
			}
		}
	}

	if p.ColorTempPayloadKey != "" {
		if raw, ok := keypath.Lookup(p.ColorTempPayloadKey, u.data); ok {
			ct, err := coerce.ToNumeric(raw)
			if err == nil && ct != 0 {
				k, err := colour.TemperatureImport(p.ColorTempScale, ct)
				if err != nil {
					d.logger.Warn("colour temperature unusable", "device", u.dev.Name, "error", err)
				} else {
					updates = append(updates, device.StateUpdate{Key: device.StateWhiteTemperature, Value: k})
				}
			}
		}
	}

	d.write(ctx, u, updates)
}

func (d *Dispatcher) applyValueSensor(ctx context.Context, u *update, value any) error {
	p := u.dev.Props

	n, err := coerce.ToNumeric(value)
	if err != nil {
		return err
	}

	adjusted, err := d.adjuster.Apply(p.AdjustmentFunction, n)
	switch {
	case errors.Is(err, coerce.ErrDeniedToken):
		d.logger.Warn("invalid method in adjustment function, using raw value",
			"device", u.dev.Name, "function", p.AdjustmentFunction)
	case err != nil:
		d.logger.Warn("adjustment function failed, using raw value",
			"device", u.dev.Name, "function", p.AdjustmentFunction, "error", err)
	default:
		n = adjusted
	}

	subtype := p.SensorSubtype
	if subtype == "" {
		subtype = sensor.Generic
	}
	reading, err := sensor.Format(subtype, n, p.SensorPrecision)
	if err != nil {
		d.logger.Debug("unknown sensor subtype", "device", u.dev.Name, "subtype", subtype)
		return nil
	}

	d.setImage(ctx, u, reading.Image)
	places := reading.DecimalPlaces
	d.write(ctx, u, []device.StateUpdate{{
		Key:           device.StateSensorValue,
		Value:         reading.Value,
		UIValue:       reading.Display,
		DecimalPlaces: &places,
	}})
	return nil
}

func (d *Dispatcher) evaluateTriggers(ctx context.Context, u *update) []string {
	if d.triggers == nil {
		return nil
	}

	var fired []string
	for _, t := range d.triggers.ForDevice(u.dev.ID) {
		if !t.Matches(u.dev.ID, u.written) {
			continue
		}
		fired = append(fired, t.ID)
		if d.firer == nil {
			continue
		}
		if err := d.firer.Fire(ctx, t, u.dev.ID); err != nil {
			d.logger.Warn("firing trigger failed", "trigger", t.ID, "device", u.dev.Name, "error", err)
		}
	}
	return fired
}
