package shim

import (
	"context"

	"github.com/nerrad567/gray-logic-shims/internal/decoder"
	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// Notification announces that a message of MessageType is queued.
type Notification struct {
	MessageType string `json:"message_type"`
	BrokerID    string `json:"broker_id,omitempty"`
}

// Message is one queued MQTT message.
type Message struct {
	MessageType string   `json:"message_type"`
	TopicParts  []string `json:"topic_parts"`
	Payload     string   `json:"payload"`
}

// Outcome summarises what happened to a message for one device.
type Outcome string

// Message outcomes.
const (
	OutcomeUpdated         Outcome = "updated"
	OutcomeNoChange        Outcome = "no_change"
	OutcomeUIDMismatch     Outcome = "uid_mismatch"
	OutcomeConfigError     Outcome = "config_error"
	OutcomeParseError      Outcome = "parse_error"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeConversionError Outcome = "conversion_error"
	OutcomeStoreError      Outcome = "store_error"
)

// Result reports the handling of one message by one device.
type Result struct {
	DeviceID string   `json:"device_id"`
	Outcome  Outcome  `json:"outcome"`
	Err      error    `json:"-"`
	Written  []string `json:"written,omitempty"`
	Fired    []string `json:"fired,omitempty"`
}

// Logger defines the logging interface used by the shim engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceStore is what the engine needs from the device registry.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListByMessageType(ctx context.Context, messageType string) ([]device.Device, error)
	UpdateStates(ctx context.Context, id string, updates []device.StateUpdate) error
	SetStateImage(ctx context.Context, id, image string) error
}

// SchemaRegistry tracks the dynamic state keys declared for each device.
type SchemaRegistry interface {
	DeclaredKeys(ctx context.Context, deviceID string) ([]string, error)
	Redeclare(ctx context.Context, deviceID string, keys []string) error
	HasState(ctx context.Context, d *device.Device, key string) (bool, error)
}

// DecoderCache hands out the decoder instance bound to a device. The bool
// reports whether the instance was created by this call.
type DecoderCache interface {
	Get(deviceID, ref string) (decoder.Decoder, bool, error)
}

// TriggerSource lists the triggers bound to a device.
type TriggerSource interface {
	ForDevice(deviceID string) []trigger.Trigger
}

// TriggerFirer announces a fired trigger.
type TriggerFirer interface {
	Fire(ctx context.Context, t trigger.Trigger, deviceID string) error
}

// Fetcher pops queued messages of one type from the connector.
type Fetcher interface {
	FetchQueued(messageType string) (Message, bool)
}

// Publisher sends MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}
