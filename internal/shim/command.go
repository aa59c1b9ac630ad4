package shim

import (
	"context"
	"fmt"
	"math"

	"github.com/cbroglie/mustache"

	"github.com/nerrad567/gray-logic-shims/internal/coerce"
	"github.com/nerrad567/gray-logic-shims/internal/colour"
	"github.com/nerrad567/gray-logic-shims/internal/device"
)

// ActionKind names a device action.
type ActionKind string

// Device actions.
const (
	ActionOn             ActionKind = "on"
	ActionOff            ActionKind = "off"
	ActionToggle         ActionKind = "toggle"
	ActionSetBrightness  ActionKind = "set_brightness"
	ActionBrightenBy     ActionKind = "brighten_by"
	ActionDimBy          ActionKind = "dim_by"
	ActionSetColorLevels ActionKind = "set_color_levels"
	ActionRequestStatus  ActionKind = "request_status"
)

// Default payloads for the on/off/toggle actions.
const (
	defaultOnPayload     = "on"
	defaultOffPayload    = "off"
	defaultTogglePayload = "toggle"
)

// Outbound commands are fire-and-forget.
const (
	commandQoS      byte = 0
	commandRetained      = false
)

// Action is a request to control a device.
//
// Value carries the brightness for set_brightness and the step for
// brighten_by and dim_by. Levels carries redLevel, greenLevel, blueLevel
// (0-100) or whiteTemperature (Kelvin) for set_color_levels.
type Action struct {
	Kind   ActionKind         `json:"action"`
	Value  float64            `json:"value,omitempty"`
	Levels map[string]float64 `json:"levels,omitempty"`
}

// Command is a rendered MQTT message.
type Command struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// DeviceReader loads device configuration and state.
type DeviceReader interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Commander renders device actions into MQTT publishes.
//
// Thread Safety: Execute is safe for concurrent use.
type Commander struct {
	devices   DeviceReader
	publisher Publisher
	logger    Logger
}

// NewCommander creates a commander. publisher may be nil, in which case
// Execute renders but returns ErrPublishUnavailable.
func NewCommander(devices DeviceReader, publisher Publisher, logger Logger) *Commander {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Commander{devices: devices, publisher: publisher, logger: logger}
}

// Execute performs a on the device and returns the published command.
func (c *Commander) Execute(ctx context.Context, deviceID string, a Action) (Command, error) {
	dev, err := c.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return Command{}, err
	}

	cmd, err := Render(dev, a)
	if err != nil {
		c.logger.Warn("action not sent", "device", dev.Name, "action", a.Kind, "error", err)
		return Command{}, err
	}

	if c.publisher == nil {
		return cmd, ErrPublishUnavailable
	}
	if err := c.publisher.Publish(cmd.Topic, []byte(cmd.Payload), commandQoS, commandRetained); err != nil {
		return cmd, fmt.Errorf("publishing %s: %w", a.Kind, err)
	}

	c.logger.Debug("action published", "device", dev.Name, "action", a.Kind, "topic", cmd.Topic, "payload", cmd.Payload)
	return cmd, nil
}

// Render builds the command for a without publishing it.
func Render(dev *device.Device, a Action) (Command, error) {
	p := dev.Props

	switch a.Kind {
	case ActionOn:
		return renderSimple(dev, p.ActionTemplate, "action_template", orDefault(p.OnActionPayload, defaultOnPayload))
	case ActionOff:
		return renderSimple(dev, p.ActionTemplate, "action_template", orDefault(p.OffActionPayload, defaultOffPayload))
	case ActionToggle:
		return renderSimple(dev, p.ActionTemplate, "action_template", orDefault(p.ToggleActionPayload, defaultTogglePayload))

	case ActionSetBrightness:
		return renderBrightness(dev, clampPercent(a.Value))
	case ActionBrightenBy:
		return renderBrightness(dev, math.Min(currentBrightness(dev)+a.Value, 100))
	case ActionDimBy:
		return renderBrightness(dev, math.Max(currentBrightness(dev)-a.Value, 0))

	case ActionSetColorLevels:
		return renderColour(dev, a.Levels)

	case ActionRequestStatus:
		if !p.SupportsStatusRequest {
			return Command{}, fmt.Errorf("%w: device does not support status requests", ErrUnsupportedAction)
		}
		return renderSimple(dev, p.StatusActionTemplate, "status_action_template", p.StatusActionPayload)

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Kind)
	}
}

func renderSimple(dev *device.Device, topicTemplate, setting, payload string) (Command, error) {
	topic, err := renderTopic(dev, topicTemplate, setting)
	if err != nil {
		return Command{}, err
	}
	return Command{Topic: topic, Payload: payload}, nil
}

func renderBrightness(dev *device.Device, level float64) (Command, error) {
	p := dev.Props
	topic, err := renderTopic(dev, p.DimmerActionTemplate, "dimmer_action_template")
	if err != nil {
		return Command{}, err
	}
	data := map[string]any{"brightness": colour.BrightnessExport(p.BrightnessScale, level)}
	payload, err := renderPayload(p.DimmerActionPayload, "dimmer_action_payload", data)
	if err != nil {
		return Command{}, err
	}
	return Command{Topic: topic, Payload: payload}, nil
}

func renderColour(dev *device.Device, levels map[string]float64) (Command, error) {
	p := dev.Props
	data := map[string]any{
		"brightness": colour.BrightnessExport(p.BrightnessScale, currentBrightness(dev)),
	}

	var topicTpl, topicSetting, payloadTpl, payloadSetting string
	if kelvin, ok := levels[device.StateWhiteTemperature]; ok && p.SupportsWhiteTemperature {
		ct, err := colour.TemperatureExport(p.ColorTempScale, kelvin)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrUnsupportedAction, err)
		}
		data["color_temp"] = ct
		topicTpl, topicSetting = p.SetTempTopic, "set_temp_topic"
		payloadTpl, payloadSetting = p.SetTempTemplate, "set_temp_template"
	} else if _, ok := levels[device.StateRed]; ok && p.SupportsRGB {
		rgb := colour.RGB{
			Red:   levels[device.StateRed],
			Green: levels[device.StateGreen],
			Blue:  levels[device.StateBlue],
		}
		for k, v := range colour.FromNative(p.ColorSpace, rgb) {
			data[k] = v
		}
		topicTpl, topicSetting = p.SetRGBTopic, "set_rgb_topic"
		payloadTpl, payloadSetting = p.SetRGBTemplate, "set_rgb_template"
	} else {
		return Command{}, fmt.Errorf("%w: unsupported colour change", ErrUnsupportedAction)
	}

	topic, err := renderTopic(dev, topicTpl, topicSetting)
	if err != nil {
		return Command{}, err
	}
	payload, err := renderPayload(payloadTpl, payloadSetting, data)
	if err != nil {
		return Command{}, err
	}
	return Command{Topic: topic, Payload: payload}, nil
}

func renderTopic(dev *device.Device, tpl, setting string) (string, error) {
	if tpl == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingTemplate, setting)
	}
	topic, err := mustache.Render(tpl, map[string]any{"uniqueID": dev.Address})
	if err != nil {
		return "", fmt.Errorf("%w: rendering %s: %w", ErrConfig, setting, err)
	}
	return topic, nil
}

func renderPayload(tpl, setting string, data map[string]any) (string, error) {
	if tpl == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingTemplate, setting)
	}
	payload, err := mustache.Render(tpl, data)
	if err != nil {
		return "", fmt.Errorf("%w: rendering %s: %w", ErrConfig, setting, err)
	}
	return payload, nil
}

// currentBrightness reads brightnessLevel from state; missing is 0.
func currentBrightness(dev *device.Device) float64 {
	raw, ok := dev.State[device.StateBrightness]
	if !ok {
		return 0
	}
	b, err := coerce.ToNumeric(raw)
	if err != nil {
		return 0
	}
	return b
}

func clampPercent(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
