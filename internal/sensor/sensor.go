// Package sensor formats numeric sensor readings for display.
//
// Each subtype has a unit suffix, a state image and a default number of
// decimal places. Format never fails for a known subtype; an unknown
// subtype returns ErrUnknownSubtype so callers can skip formatting.
package sensor

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrUnknownSubtype is returned for a subtype not in the table.
var ErrUnknownSubtype = errors.New("sensor: unknown subtype")

// State image selectors.
const (
	ImageNone                = "NoImage"
	ImageTemperatureSensorOn = "TemperatureSensorOn"
	ImageHumiditySensorOn    = "HumiditySensorOn"
	ImageEnergyMeterOn       = "EnergyMeterOn"
	ImageLightSensorOn       = "LightSensorOn"
	ImageSensorOn            = "SensorOn"
	ImageSensorOff           = "SensorOff"
	ImageMotionTripped       = "MotionSensorTripped"
	ImageMotion              = "MotionSensor"
	ImagePowerOn             = "PowerOn"
	ImagePowerOff            = "PowerOff"
	ImageDimmerOn            = "DimmerOn"
	ImageDimmerOff           = "DimmerOff"
)

// Subtype describes one kind of value sensor.
type Subtype struct {
	Name             string `json:"name"`
	Suffix           string `json:"suffix"`
	Image            string `json:"image"`
	DefaultPrecision int    `json:"default_precision"`
}

// Reading is a formatted sensor value.
type Reading struct {
	Value         float64
	Display       string
	Image         string
	DecimalPlaces int
}

// Generic is the subtype used when none is configured.
const Generic = "Generic"

var subtypes = map[string]Subtype{
	Generic:         {Name: Generic, Suffix: "", Image: ImageNone, DefaultPrecision: 2},
	"Temperature-F": {Name: "Temperature-F", Suffix: " °F", Image: ImageTemperatureSensorOn, DefaultPrecision: 1},
	"Temperature-C": {Name: "Temperature-C", Suffix: " °C", Image: ImageTemperatureSensorOn, DefaultPrecision: 1},
	"Humidity":      {Name: "Humidity", Suffix: "%", Image: ImageHumiditySensorOn, DefaultPrecision: 0},
	"Pressure-inHg": {Name: "Pressure-inHg", Suffix: " inHg", Image: ImageNone, DefaultPrecision: 2},
	"Pressure-mb":   {Name: "Pressure-mb", Suffix: " mb", Image: ImageNone, DefaultPrecision: 2},
	"Power-W":       {Name: "Power-W", Suffix: " W", Image: ImageEnergyMeterOn, DefaultPrecision: 0},
	"Voltage":       {Name: "Voltage", Suffix: " V", Image: ImageEnergyMeterOn, DefaultPrecision: 2},
	"Current":       {Name: "Current", Suffix: " A", Image: ImageEnergyMeterOn, DefaultPrecision: 2},
	"Luminance":     {Name: "Luminance", Suffix: " lux", Image: ImageLightSensorOn, DefaultPrecision: 0},
	"Luminance%":    {Name: "Luminance%", Suffix: "%", Image: ImageLightSensorOn, DefaultPrecision: 0},
	"ppm":           {Name: "ppm", Suffix: " ppm", Image: ImageNone, DefaultPrecision: 0},
	"speed-mph":     {Name: "speed-mph", Suffix: " mph", Image: ImageNone, DefaultPrecision: 0},
	"speed-kph":     {Name: "speed-kph", Suffix: " kph", Image: ImageNone, DefaultPrecision: 0},
	"quantity-in":   {Name: "quantity-in", Suffix: `"`, Image: ImageNone, DefaultPrecision: 0},
	"quantity-cm":   {Name: "quantity-cm", Suffix: " cm", Image: ImageNone, DefaultPrecision: 0},
}

// maxPrecision caps configured precision.
const maxPrecision = 10

// Lookup returns the table entry for name.
func Lookup(name string) (Subtype, bool) {
	st, ok := subtypes[name]
	return st, ok
}

// Subtypes returns every known subtype sorted by name.
func Subtypes() []Subtype {
	out := make([]Subtype, 0, len(subtypes))
	for _, st := range subtypes {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Format renders value for subtype. A nil precision uses the subtype
// default; negative values are treated as zero.
func Format(subtype string, value float64, precision *int) (Reading, error) {
	st, ok := subtypes[subtype]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %q", ErrUnknownSubtype, subtype)
	}

	places := st.DefaultPrecision
	if precision != nil {
		places = min(max(*precision, 0), maxPrecision)
	}

	return Reading{
		Value:         value,
		Display:       strconv.FormatFloat(value, 'f', places, 64) + st.Suffix,
		Image:         st.Image,
		DecimalPlaces: places,
	}, nil
}

// Sub-roles of on/off devices.
const (
	RoleGeneric = "Generic"
	RoleMotion  = "MotionSensor"
	RolePower   = "Power"
	RoleLight   = "Light"
)

// OnOffImage returns the state image for a relay or on/off sensor. An
// unrecognised role returns "".
func OnOffImage(role string, on bool) string {
	var onImg, offImg string
	switch role {
	case RoleGeneric:
		onImg, offImg = ImageSensorOn, ImageSensorOff
	case RoleMotion:
		onImg, offImg = ImageMotionTripped, ImageMotion
	case RolePower:
		onImg, offImg = ImagePowerOn, ImagePowerOff
	case RoleLight:
		onImg, offImg = ImageDimmerOn, ImageDimmerOff
	default:
		return ""
	}
	if on {
		return onImg
	}
	return offImg
}
