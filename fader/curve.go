package fader

import "math"

// Curve returns gains of fading out and fading in voices for fade
// progress t in range [0, 1].
type Curve func(t float64) (out, in float64)

// Linear interpolates gains linearly.
func Linear(t float64) (out, in float64) {
	t = clamp(t)
	return 1 - t, t
}

// EqualPower keeps the sum of squared gains constant.
func EqualPower(t float64) (out, in float64) {
	t = clamp(t)
	return math.Cos(t * math.Pi / 2), math.Sin(t * math.Pi / 2)
}

// CurveByName returns curve for its configuration name.
func CurveByName(name string) (Curve, bool) {
	switch name {
	case "linear":
		return Linear, true
	case "equal-power", "equalpower":
		return EqualPower, true
	}
	return nil, false
}

func clamp(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
