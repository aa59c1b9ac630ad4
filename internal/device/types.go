package device

import "time"

// Type identifies the kind of device a shim maps messages onto.
type Type string

// Device types.
const (
	TypeRelay       Type = "Relay"
	TypeDimmer      Type = "Dimmer"
	TypeColor       Type = "Color"
	TypeOnOffSensor Type = "OnOffSensor"
	TypeValueSensor Type = "ValueSensor"
	TypeGeneric     Type = "Generic"
)

// AllTypes returns every supported device type.
func AllTypes() []Type {
	return []Type{TypeRelay, TypeDimmer, TypeColor, TypeOnOffSensor, TypeValueSensor, TypeGeneric}
}

// Locations for the unique ID and the primary state value.
const (
	LocationTopic   = "topic"
	LocationPayload = "payload"
)

// Payload kinds for state_location_payload_type.
const (
	PayloadRaw  = "raw"
	PayloadJSON = "json"
)

// Well-known state keys.
const (
	StateOnOff            = "onOffState"
	StateBrightness       = "brightnessLevel"
	StateRed              = "redLevel"
	StateGreen            = "greenLevel"
	StateBlue             = "blueLevel"
	StateWhiteTemperature = "whiteTemperature"
	StateSensorValue      = "sensorValue"
	StateBattery          = "batteryLevel"
	StateEnergyTotal      = "accumEnergyTotal"
	StateCurrentPower     = "curEnergyLevel"
)

// Device is a configured shim device together with its latest state.
type Device struct {
	ID          string `json:"id" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Type        Type   `json:"type" yaml:"type"`
	MessageType string `json:"message_type" yaml:"message_type"`

	// Address is the unique ID expected in incoming messages.
	Address  string `json:"address" yaml:"address"`
	BrokerID string `json:"broker_id,omitempty" yaml:"broker_id,omitempty"`

	Props Props `json:"props" yaml:"props"`

	State          State             `json:"state" yaml:"-"`
	UIState        map[string]string `json:"ui_state,omitempty" yaml:"-"`
	StateImage     string            `json:"state_image,omitempty" yaml:"-"`
	StateUpdatedAt *time.Time        `json:"state_updated_at,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Props is the per-device mapping from an external message format onto
// the device's state.
type Props struct {
	UIDLocation      string `json:"uid_location,omitempty" yaml:"uid_location,omitempty"`
	UIDTopicField    *int   `json:"uid_location_topic_field,omitempty" yaml:"uid_location_topic_field,omitempty"`
	UIDPayloadKey    string `json:"uid_location_payload_key,omitempty" yaml:"uid_location_payload_key,omitempty"`
	StateLocation    string `json:"state_location,omitempty" yaml:"state_location,omitempty"`
	StateTopicField  *int   `json:"state_location_topic,omitempty" yaml:"state_location_topic,omitempty"`
	StatePayloadType string `json:"state_location_payload_type,omitempty" yaml:"state_location_payload_type,omitempty"`
	StatePayloadKey  string `json:"state_location_payload_key,omitempty" yaml:"state_location_payload_key,omitempty"`
	StateOnValue     string `json:"state_on_value,omitempty" yaml:"state_on_value,omitempty"`

	SensorSubtype      string `json:"sensor_subtype,omitempty" yaml:"sensor_subtype,omitempty"`
	SensorPrecision    *int   `json:"sensor_precision,omitempty" yaml:"sensor_precision,omitempty"`
	AdjustmentFunction string `json:"adjustment_function,omitempty" yaml:"adjustment_function,omitempty"`

	StateDictPayloadKey string `json:"state_dict_payload_key,omitempty" yaml:"state_dict_payload_key,omitempty"`
	CustomDecoder       string `json:"custom_decoder,omitempty" yaml:"custom_decoder,omitempty"`

	BrightnessPayloadKey string `json:"value_location_payload_key,omitempty" yaml:"value_location_payload_key,omitempty"`
	BrightnessScale      string `json:"brightness_scale,omitempty" yaml:"brightness_scale,omitempty"`
	ColorPayloadKey      string `json:"color_value_payload_key,omitempty" yaml:"color_value_payload_key,omitempty"`
	ColorSpace           string `json:"color_space,omitempty" yaml:"color_space,omitempty"`
	ColorTempPayloadKey  string `json:"color_temp_payload_key,omitempty" yaml:"color_temp_payload_key,omitempty"`
	ColorTempScale       string `json:"color_temp_scale,omitempty" yaml:"color_temp_scale,omitempty"`

	SupportsBatteryLevel        bool `json:"SupportsBatteryLevel,omitempty" yaml:"SupportsBatteryLevel,omitempty"`
	SupportsEnergyMeter         bool `json:"SupportsEnergyMeter,omitempty" yaml:"SupportsEnergyMeter,omitempty"`
	SupportsEnergyMeterCurPower bool `json:"SupportsEnergyMeterCurPower,omitempty" yaml:"SupportsEnergyMeterCurPower,omitempty"`
	SupportsStatusRequest       bool `json:"SupportsStatusRequest,omitempty" yaml:"SupportsStatusRequest,omitempty"`
	SupportsColor               bool `json:"SupportsColor,omitempty" yaml:"SupportsColor,omitempty"`
	SupportsRGB                 bool `json:"SupportsRGB,omitempty" yaml:"SupportsRGB,omitempty"`
	SupportsWhiteTemperature    bool `json:"SupportsWhiteTemperature,omitempty" yaml:"SupportsWhiteTemperature,omitempty"`

	BatteryPayloadKey string `json:"battery_payload_key,omitempty" yaml:"battery_payload_key,omitempty"`
	EnergyPayloadKey  string `json:"energy_payload_key,omitempty" yaml:"energy_payload_key,omitempty"`
	PowerPayloadKey   string `json:"power_payload_key,omitempty" yaml:"power_payload_key,omitempty"`

	// Outbound command templates (mustache).
	ActionTemplate       string `json:"action_template,omitempty" yaml:"action_template,omitempty"`
	OnActionPayload      string `json:"on_action_payload,omitempty" yaml:"on_action_payload,omitempty"`
	OffActionPayload     string `json:"off_action_payload,omitempty" yaml:"off_action_payload,omitempty"`
	ToggleActionPayload  string `json:"toggle_action_payload,omitempty" yaml:"toggle_action_payload,omitempty"`
	DimmerActionTemplate string `json:"dimmer_action_template,omitempty" yaml:"dimmer_action_template,omitempty"`
	DimmerActionPayload  string `json:"dimmer_action_payload,omitempty" yaml:"dimmer_action_payload,omitempty"`
	SetTempTopic         string `json:"set_temp_topic,omitempty" yaml:"set_temp_topic,omitempty"`
	SetTempTemplate      string `json:"set_temp_template,omitempty" yaml:"set_temp_template,omitempty"`
	SetRGBTopic          string `json:"set_rgb_topic,omitempty" yaml:"set_rgb_topic,omitempty"`
	SetRGBTemplate       string `json:"set_rgb_template,omitempty" yaml:"set_rgb_template,omitempty"`
	StatusActionTemplate string `json:"status_action_template,omitempty" yaml:"status_action_template,omitempty"`
	StatusActionPayload  string `json:"status_action_payload,omitempty" yaml:"status_action_payload,omitempty"`
}

// State holds the current device state values keyed by state name.
type State map[string]any

// StateUpdate is a single state write produced while handling a message.
type StateUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`

	// UIValue is the display form, e.g. "72.3 °F". Empty means the value's
	// default string form.
	UIValue string `json:"ui_value,omitempty"`

	DecimalPlaces *int `json:"decimal_places,omitempty"`
}

// Normalise applies the defaults that hold for every started device.
// Color devices always support colour.
func (d *Device) Normalise() {
	if d.Type == TypeColor {
		d.Props.SupportsColor = true
	}
}

// DeepCopy returns an independent copy of the device. Cached devices are
// handed out as copies so callers cannot mutate the cache.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Props = d.Props.clone()
	cpy.State = State(deepCopyMap(d.State))
	if d.UIState != nil {
		cpy.UIState = make(map[string]string, len(d.UIState))
		for k, v := range d.UIState {
			cpy.UIState[k] = v
		}
	}
	if d.StateUpdatedAt != nil {
		t := *d.StateUpdatedAt
		cpy.StateUpdatedAt = &t
	}
	return &cpy
}

func (p Props) clone() Props {
	cpy := p
	cpy.UIDTopicField = cloneInt(p.UIDTopicField)
	cpy.StateTopicField = cloneInt(p.StateTopicField)
	cpy.SensorPrecision = cloneInt(p.SensorPrecision)
	return cpy
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr returns a pointer to v, for building Props literals.
func IntPtr(v int) *int {
	return &v
}

// deepCopyMap copies m, recursing into nested maps and slices.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case State:
		return State(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
