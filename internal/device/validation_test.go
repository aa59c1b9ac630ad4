package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr error
	}{
		{"valid", func(*Device) {}, nil},
		{"nil name", func(d *Device) { d.Name = "  " }, ErrInvalidName},
		{"long name", func(d *Device) { d.Name = strings.Repeat("x", maxNameLength+1) }, ErrInvalidName},
		{"bad type", func(d *Device) { d.Type = "Fan" }, ErrInvalidDeviceType},
		{"no message type", func(d *Device) { d.MessageType = "" }, ErrInvalidDevice},
		{"bad uid location", func(d *Device) { d.Props.UIDLocation = "header" }, ErrInvalidProps},
		{"bad payload type", func(d *Device) { d.Props.StatePayloadType = "xml" }, ErrInvalidProps},
		{"bad scale", func(d *Device) { d.Props.BrightnessScale = "1000" }, ErrInvalidProps},
		{"bad colour space", func(d *Device) { d.Props.ColorSpace = "CMYK" }, ErrInvalidProps},
		{"bad temp scale", func(d *Device) { d.Props.ColorTempScale = "Celsius" }, ErrInvalidProps},
		{"negative topic field", func(d *Device) { d.Props.UIDTopicField = IntPtr(-1) }, ErrInvalidProps},
		{"precision too large", func(d *Device) { d.Props.SensorPrecision = IntPtr(11) }, ErrInvalidProps},
		{"unknown subtype", func(d *Device) { d.Props.SensorSubtype = "Radiation" }, ErrInvalidProps},
		{"on/off role", func(d *Device) { d.Props.SensorSubtype = "MotionSensor" }, nil},
		{"missing locators allowed", func(d *Device) { d.Props.UIDTopicField = nil; d.Props.StatePayloadKey = "" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDevice("a")
			tt.mutate(d)
			err := ValidateDevice(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v", err)
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == "" || a == b {
		t.Errorf("GenerateID() = %q, %q", a, b)
	}
}
