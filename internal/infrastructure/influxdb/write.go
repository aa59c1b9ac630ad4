package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementState   = "shim_state"
	MeasurementTrigger = "shim_trigger"
)

// StatePoint is one accepted state update for a device.
type StatePoint struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	Values     map[string]any
	Time       time.Time
}

// WriteState queues a state point. Updates with no numeric or boolean
// values are skipped.
func (c *Client) WriteState(p StatePoint) {
	c.write(BuildStatePoint(p))
}

// WriteTriggerFired records that a trigger fired.
func (c *Client) WriteTriggerFired(triggerID, deviceID string, at time.Time) {
	c.write(write.NewPoint(
		MeasurementTrigger,
		map[string]string{"trigger_id": triggerID, "device_id": deviceID},
		map[string]any{"fired": 1},
		at,
	))
}

// BuildStatePoint converts p to a point, or returns nil when none of its
// values can be stored as a field.
func BuildStatePoint(p StatePoint) *write.Point {
	fields := StateFields(p.Values)
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device_id": p.DeviceID}
	if p.DeviceName != "" {
		tags["device_name"] = p.DeviceName
	}
	if p.DeviceType != "" {
		tags["device_type"] = p.DeviceType
	}

	at := p.Time
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(MeasurementState, tags, fields, at)
}

// StateFields keeps the numeric and boolean values of a state map as
// float64 fields. Booleans become 0 or 1; everything else is dropped.
func StateFields(values map[string]any) map[string]any {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		if f, ok := toField(v); ok {
			fields[k] = f
		}
	}
	return fields
}

func toField(v any) (float64, bool) {
	switch val := v.(type) {
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
