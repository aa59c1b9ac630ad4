package sensor

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestFormat(t *testing.T) {
	tests := []struct {
		subtype   string
		value     float64
		precision *int
		display   string
		image     string
		places    int
	}{
		{subtype: "Temperature-F", value: 72.3, precision: intPtr(1), display: "72.3 °F", image: ImageTemperatureSensorOn, places: 1},
		{subtype: "Temperature-C", value: 21.456, display: "21.5 °C", image: ImageTemperatureSensorOn, places: 1},
		{subtype: "Humidity", value: 45.6, display: "46%", image: ImageHumiditySensorOn, places: 0},
		{subtype: "Pressure-inHg", value: 29.921, display: "29.92 inHg", image: ImageNone, places: 2},
		{subtype: "Pressure-mb", value: 1013.25, display: "1013.25 mb", image: ImageNone, places: 2},
		{subtype: "Power-W", value: 1500.4, display: "1500 W", image: ImageEnergyMeterOn, places: 0},
		{subtype: "Voltage", value: 230.1, display: "230.10 V", image: ImageEnergyMeterOn, places: 2},
		{subtype: "Current", value: 0.5, display: "0.50 A", image: ImageEnergyMeterOn, places: 2},
		{subtype: "Luminance", value: 300, display: "300 lux", image: ImageLightSensorOn, places: 0},
		{subtype: "Luminance%", value: 55, display: "55%", image: ImageLightSensorOn, places: 0},
		{subtype: "ppm", value: 412.2, display: "412 ppm", image: ImageNone, places: 0},
		{subtype: "speed-mph", value: 12, display: "12 mph", image: ImageNone, places: 0},
		{subtype: "speed-kph", value: 19.3, display: "19 kph", image: ImageNone, places: 0},
		{subtype: "quantity-in", value: 2, display: `2"`, image: ImageNone, places: 0},
		{subtype: "quantity-cm", value: 5.08, precision: intPtr(2), display: "5.08 cm", image: ImageNone, places: 2},
		{subtype: "Generic", value: 3.14159, display: "3.14", image: ImageNone, places: 2},
		{subtype: "Generic", value: 3.14159, precision: intPtr(-2), display: "3", image: ImageNone, places: 0},
	}

	for _, tt := range tests {
		t.Run(tt.subtype, func(t *testing.T) {
			got, err := Format(tt.subtype, tt.value, tt.precision)
			if err != nil {
				t.Fatalf("Format(%q) error = %v", tt.subtype, err)
			}
			if got.Display != tt.display {
				t.Errorf("Format(%q).Display = %q, want %q", tt.subtype, got.Display, tt.display)
			}
			if got.Image != tt.image {
				t.Errorf("Format(%q).Image = %q, want %q", tt.subtype, got.Image, tt.image)
			}
			if got.DecimalPlaces != tt.places {
				t.Errorf("Format(%q).DecimalPlaces = %d, want %d", tt.subtype, got.DecimalPlaces, tt.places)
			}
			if got.Value != tt.value {
				t.Errorf("Format(%q).Value = %v, want %v", tt.subtype, got.Value, tt.value)
			}
		})
	}
}

func TestFormatUnknownSubtype(t *testing.T) {
	_, err := Format("Radiation", 1, nil)
	if !errors.Is(err, ErrUnknownSubtype) {
		t.Errorf("Format(Radiation) error = %v, want ErrUnknownSubtype", err)
	}
}

func TestSubtypesSorted(t *testing.T) {
	all := Subtypes()
	if len(all) != 16 {
		t.Fatalf("Subtypes() len = %d, want 16", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("Subtypes() not sorted at %d: %q >= %q", i, all[i-1].Name, all[i].Name)
		}
	}
	if _, ok := Lookup("Voltage"); !ok {
		t.Error("Lookup(Voltage) ok = false")
	}
}

func TestOnOffImage(t *testing.T) {
	tests := []struct {
		role string
		on   bool
		want string
	}{
		{RoleGeneric, true, ImageSensorOn},
		{RoleGeneric, false, ImageSensorOff},
		{RoleMotion, true, ImageMotionTripped},
		{RoleMotion, false, ImageMotion},
		{RolePower, true, ImagePowerOn},
		{RolePower, false, ImagePowerOff},
		{RoleLight, true, ImageDimmerOn},
		{RoleLight, false, ImageDimmerOff},
		{"Temperature-F", true, ""},
	}
	for _, tt := range tests {
		if got := OnOffImage(tt.role, tt.on); got != tt.want {
			t.Errorf("OnOffImage(%q, %v) = %q, want %q", tt.role, tt.on, got, tt.want)
		}
	}
}
