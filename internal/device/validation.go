package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-shims/internal/colour"
	"github.com/nerrad567/gray-logic-shims/internal/sensor"
)

const (
	maxNameLength   = 100
	maxAddressLen   = 256
	maxPrecision    = 10
	maxTopicFieldNo = 64
)

var validTypes map[Type]struct{}

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}
}

// GenerateID returns a new random device ID.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateDevice checks a device's identity fields and mapping properties.
// Missing locators are not rejected here; they abort message handling at
// runtime so a half-configured device can still be stored and edited.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateType(d.Type); err != nil {
		return err
	}
	if strings.TrimSpace(d.MessageType) == "" {
		return fmt.Errorf("%w: message_type is required", ErrInvalidDevice)
	}
	if len(d.Address) > maxAddressLen {
		return fmt.Errorf("%w: address too long", ErrInvalidDevice)
	}
	return ValidateProps(d.Props)
}

// ValidateName checks that a device name is present and not too long.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateType checks that t is a supported device type.
func ValidateType(t Type) error {
	if _, ok := validTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, t)
	}
	return nil
}

// ValidateProps checks enumerated mapping properties.
func ValidateProps(p Props) error {
	checks := []struct {
		field string
		value string
		allow []string
	}{
		{"uid_location", p.UIDLocation, []string{"", LocationTopic, LocationPayload}},
		{"state_location", p.StateLocation, []string{"", LocationTopic, LocationPayload}},
		{"state_location_payload_type", p.StatePayloadType, []string{"", PayloadRaw, PayloadJSON}},
		{"brightness_scale", p.BrightnessScale, []string{"", colour.Scale100, colour.Scale255}},
		{"color_temp_scale", p.ColorTempScale, []string{"", colour.ScaleKelvin, colour.ScaleMirek}},
		{"color_space", p.ColorSpace, []string{"", colour.SpaceNative, colour.SpaceHueA, colour.SpaceHueB, colour.SpaceHueC}},
	}
	for _, c := range checks {
		if !contains(c.allow, c.value) {
			return fmt.Errorf("%w: %s %q", ErrInvalidProps, c.field, c.value)
		}
	}

	for field, v := range map[string]*int{
		"uid_location_topic_field": p.UIDTopicField,
		"state_location_topic":     p.StateTopicField,
	} {
		if v != nil && (*v < 0 || *v > maxTopicFieldNo) {
			return fmt.Errorf("%w: %s out of range", ErrInvalidProps, field)
		}
	}

	if p.SensorPrecision != nil && (*p.SensorPrecision < 0 || *p.SensorPrecision > maxPrecision) {
		return fmt.Errorf("%w: sensor_precision must be 0-%d", ErrInvalidProps, maxPrecision)
	}
	if p.SensorSubtype != "" && !knownSubtype(p.SensorSubtype) {
		return fmt.Errorf("%w: sensor_subtype %q", ErrInvalidProps, p.SensorSubtype)
	}
	return nil
}

// Sub-roles that on/off devices use in sensor_subtype.
var onOffRoles = []string{sensor.RoleGeneric, sensor.RoleMotion, sensor.RolePower, sensor.RoleLight}

func knownSubtype(name string) bool {
	if _, ok := sensor.Lookup(name); ok {
		return true
	}
	return contains(onOffRoles, name)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
