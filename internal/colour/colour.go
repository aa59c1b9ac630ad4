// Package colour converts brightness, colour temperature and colour values
// between device conventions and the percentage scales held in state.
package colour

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Brightness scales.
const (
	Scale100 = "100"
	Scale255 = "255"
)

// Colour temperature scales.
const (
	ScaleKelvin = "Kelvin"
	ScaleMirek  = "Mirek"
)

// BrightnessImport converts a device brightness to 0-100.
func BrightnessImport(scale string, b float64) int {
	if scale == Scale255 {
		return int(math.Round(100 * b / 255))
	}
	return int(math.Round(b))
}

// BrightnessExport converts a 0-100 brightness to the device scale.
func BrightnessExport(scale string, b float64) int {
	if scale == Scale255 {
		return int(math.Round(255 * b / 100))
	}
	return int(math.Round(b))
}

// TemperatureImport converts a device colour temperature to Kelvin.
func TemperatureImport(scale string, ct float64) (int, error) {
	if scale == ScaleMirek {
		if ct == 0 {
			return 0, fmt.Errorf("colour: zero mirek value")
		}
		return int(math.Round(1e6 / ct)), nil
	}
	return int(math.Round(ct)), nil
}

// TemperatureExport converts Kelvin to the device scale.
func TemperatureExport(scale string, kelvin float64) (int, error) {
	return TemperatureImport(scale, kelvin)
}

// RGB holds colour levels as percentages (0-100).
type RGB struct {
	Red   float64 `json:"redLevel"`
	Green float64 `json:"greenLevel"`
	Blue  float64 `json:"blueLevel"`
}

// XY is a CIE 1931 chromaticity coordinate.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Gamut is the triangle of colours a lamp can reproduce.
type Gamut struct {
	Red, Green, Blue XY
}

// Hue lamp gamuts.
var (
	GamutA = Gamut{Red: XY{0.704, 0.296}, Green: XY{0.2151, 0.7106}, Blue: XY{0.138, 0.08}}
	GamutB = Gamut{Red: XY{0.675, 0.322}, Green: XY{0.4091, 0.518}, Blue: XY{0.167, 0.04}}
	GamutC = Gamut{Red: XY{0.692, 0.308}, Green: XY{0.17, 0.7}, Blue: XY{0.153, 0.048}}
)

// Colour spaces accepted in device configuration.
const (
	SpaceNative = "Indigo"
	SpaceHueA   = "HueA"
	SpaceHueB   = "HueB"
	SpaceHueC   = "HueC"
)

// GamutFor returns the gamut for a Hue colour space. Unknown names fall
// back to GamutA; ok is false for the native space.
func GamutFor(space string) (Gamut, bool) {
	switch space {
	case "", SpaceNative:
		return Gamut{}, false
	case SpaceHueB:
		return GamutB, true
	case SpaceHueC:
		return GamutC, true
	default:
		return GamutA, true
	}
}

// XYToRGB returns the brightest 0-255 RGB colour with chromaticity p,
// after moving p into the gamut.
func (g Gamut) XYToRGB(p XY) (r, gr, b uint8) {
	p = g.Clamp(p)
	if p.Y <= 0 {
		return 0, 0, 0
	}

	lr, lg, lb := colorful.Xyy(p.X, p.Y, 1.0).LinearRgb()
	lr, lg, lb = math.Max(lr, 0), math.Max(lg, 0), math.Max(lb, 0)
	if m := math.Max(lr, math.Max(lg, lb)); m > 0 {
		lr, lg, lb = lr/m, lg/m, lb/m
	}
	return colorful.LinearRgb(lr, lg, lb).Clamped().RGB255()
}

// RGBToXY returns the gamut-clamped chromaticity of a 0-255 RGB colour.
func (g Gamut) RGBToXY(r, gr, b float64) XY {
	c := colorful.Color{R: clamp01(r / 255), G: clamp01(gr / 255), B: clamp01(b / 255)}
	x, y, _ := c.Xyy()
	p := g.Clamp(XY{x, y})
	return XY{X: round4(p.X), Y: round4(p.Y)}
}

// Contains reports whether p lies inside the gamut triangle.
func (g Gamut) Contains(p XY) bool {
	d1 := cross(p, g.Red, g.Green)
	d2 := cross(p, g.Green, g.Blue)
	d3 := cross(p, g.Blue, g.Red)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

// Clamp moves p to the nearest point of the gamut if it lies outside.
func (g Gamut) Clamp(p XY) XY {
	if g.Contains(p) {
		return p
	}
	candidates := []XY{
		closestOnSegment(g.Red, g.Green, p),
		closestOnSegment(g.Green, g.Blue, p),
		closestOnSegment(g.Blue, g.Red, p),
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if dist(c, p) < dist(best, p) {
			best = c
		}
	}
	return best
}

// ToNative converts a device colour value to percentage RGB.
//
// In the native space values must carry redLevel, greenLevel and blueLevel
// and pass through unchanged. Hue spaces expect x and y.
func ToNative(space string, v map[string]any) (RGB, error) {
	gamut, hue := GamutFor(space)
	if !hue {
		r, err1 := number(v, "redLevel")
		g, err2 := number(v, "greenLevel")
		b, err3 := number(v, "blueLevel")
		if err := firstErr(err1, err2, err3); err != nil {
			return RGB{}, err
		}
		return RGB{Red: r, Green: g, Blue: b}, nil
	}

	x, err1 := number(v, "x")
	y, err2 := number(v, "y")
	if err := firstErr(err1, err2); err != nil {
		return RGB{}, err
	}
	r, g, b := gamut.XYToRGB(XY{X: x, Y: y})
	return RGB{Red: float64(r) / 2.55, Green: float64(g) / 2.55, Blue: float64(b) / 2.55}, nil
}

// FromNative converts percentage RGB to the values a device expects.
func FromNative(space string, c RGB) map[string]any {
	gamut, hue := GamutFor(space)
	if !hue {
		return map[string]any{"redLevel": c.Red, "greenLevel": c.Green, "blueLevel": c.Blue}
	}
	p := gamut.RGBToXY(2.55*c.Red, 2.55*c.Green, 2.55*c.Blue)
	return map[string]any{"x": p.X, "y": p.Y}
}

func number(v map[string]any, key string) (float64, error) {
	raw, ok := v[key]
	if !ok {
		return 0, fmt.Errorf("colour: missing %q", key)
	}
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case interface{ Float64() (float64, error) }:
		return n.Float64()
	default:
		return 0, fmt.Errorf("colour: %q is %T, not a number", key, raw)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func cross(p, a, b XY) float64 {
	return (p.X-b.X)*(a.Y-b.Y) - (a.X-b.X)*(p.Y-b.Y)
}

func closestOnSegment(a, b, p XY) XY {
	ab := XY{b.X - a.X, b.Y - a.Y}
	denom := ab.X*ab.X + ab.Y*ab.Y
	if denom == 0 {
		return a
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / denom
	t = clamp01(t)
	return XY{a.X + t*ab.X, a.Y + t*ab.Y}
}

func dist(a, b XY) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
