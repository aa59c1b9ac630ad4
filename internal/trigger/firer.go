package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/mqtt"
)

// ChannelFired is the WebSocket channel fired triggers are broadcast on.
const ChannelFired = "trigger.fired"

// qosFired is the QoS for trigger events.
const qosFired = 1

// MQTTClient publishes trigger events.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub broadcasts events to WebSocket clients.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Recorder stores fired triggers as telemetry.
type Recorder interface {
	WriteTriggerFired(triggerID, deviceID string, at time.Time)
}

// Firer announces fired triggers.
//
// Thread Safety: Fire is safe for concurrent use.
type Firer struct {
	mqtt     MQTTClient
	hub      WSHub
	recorder Recorder
	logger   Logger
	now      func() time.Time
}

// NewFirer creates a firer. hub may be nil.
func NewFirer(client MQTTClient, hub WSHub) *Firer {
	return &Firer{
		mqtt:   client,
		hub:    hub,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the firer.
func (f *Firer) SetLogger(logger Logger) {
	f.logger = logger
}

// SetRecorder enables telemetry for fired triggers.
func (f *Firer) SetRecorder(r Recorder) {
	f.recorder = r
}

// Topic returns the MQTT topic events for triggerID are published on.
func Topic(triggerID string) string {
	return mqtt.TriggerTopic(triggerID)
}

// Fire publishes an event for t. The WebSocket broadcast and telemetry
// happen even when the MQTT publish fails; the publish error is returned.
func (f *Firer) Fire(_ context.Context, t Trigger, deviceID string) error {
	ev := Event{
		TriggerID:   t.ID,
		Name:        t.Name,
		Kind:        t.Kind,
		DeviceID:    deviceID,
		DeviceState: t.DeviceState,
		FiredAt:     f.now().UTC(),
	}

	if f.hub != nil {
		f.hub.Broadcast(ChannelFired, ev)
	}
	if f.recorder != nil {
		f.recorder.WriteTriggerFired(t.ID, deviceID, ev.FiredAt)
	}

	if f.mqtt == nil {
		return ErrPublishUnavailable
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling trigger event: %w", err)
	}
	topic := Topic(t.ID)
	if err := f.mqtt.Publish(topic, payload, qosFired, false); err != nil {
		return fmt.Errorf("publishing to %q: %w", topic, err)
	}

	f.logger.Debug("trigger fired", "trigger_id", t.ID, "device_id", deviceID, "topic", topic)
	return nil
}
