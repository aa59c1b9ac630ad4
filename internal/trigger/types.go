package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is what a trigger reacts to.
type Kind string

const (
	// KindDeviceUpdated fires on every processed message for the device.
	KindDeviceUpdated Kind = "deviceUpdated"

	// KindStateUpdated fires when DeviceState was written.
	KindStateUpdated Kind = "stateUpdated"
)

// Trigger binds a reaction to a shim device.
type Trigger struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	DeviceID    string `json:"device_id" yaml:"device_id"`
	DeviceState string `json:"device_state,omitempty" yaml:"device_state,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// Event is the payload published when a trigger fires.
type Event struct {
	TriggerID   string    `json:"trigger_id"`
	Name        string    `json:"name,omitempty"`
	Kind        Kind      `json:"kind"`
	DeviceID    string    `json:"device_id"`
	DeviceState string    `json:"device_state,omitempty"`
	FiredAt     time.Time `json:"fired_at"`
}

// Matches reports whether t should fire for a message that wrote the
// given state keys on deviceID.
func (t Trigger) Matches(deviceID string, written map[string]bool) bool {
	if !t.Enabled || t.DeviceID != deviceID {
		return false
	}
	switch t.Kind {
	case KindDeviceUpdated:
		return true
	case KindStateUpdated:
		return written[t.DeviceState]
	default:
		return false
	}
}

// Validate checks a trigger's fields.
func (t Trigger) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTrigger)
	}
	if strings.TrimSpace(t.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidTrigger)
	}
	switch t.Kind {
	case KindDeviceUpdated:
	case KindStateUpdated:
		if t.DeviceState == "" {
			return fmt.Errorf("%w: stateUpdated requires device_state", ErrInvalidTrigger)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, t.Kind)
	}
	return nil
}

// GenerateID returns a new random trigger ID.
func GenerateID() string {
	return uuid.NewString()
}
