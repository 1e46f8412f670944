package bob

import "math"

const (
	MinAngle = -30
	MaxAngle = 30

	// servo commands at the angle limits; the mapping is inverted
	ServoAtMaxAngle = 65
	ServoAtMinAngle = 125

	DefaultMinBound = 500
	DefaultMaxBound = 10
)

// Bounds are the learned extremes of the range sensor in mm.
type Bounds struct {
	Min        float64 `json:"min_mm"`
	Max        float64 `json:"max_mm"`
	Calibrated bool    `json:"calibrated"`
}

// DefaultBounds returns the sentinel bounds. They are inverted on purpose so
// the first calibration overwrites both.
func DefaultBounds() Bounds {
	return Bounds{Min: DefaultMinBound, Max: DefaultMaxBound}
}

// Command converts a beam angle to a servo command. It reports whether the
// angle had to be clamped.
func Command(angle, zeroCompensation float64) (int, bool) {
	deg, clamped := clampDegrees(angle)
	mapped := mapInt(deg, MaxAngle, MinAngle, ServoAtMaxAngle, ServoAtMinAngle)
	return int(float64(mapped) + zeroCompensation), clamped
}

// clampDegrees truncates to whole degrees, the servo takes nothing finer,
// then clamps to the safe range.
func clampDegrees(angle float64) (int, bool) {
	deg := math.Trunc(angle)
	if deg < MinAngle {
		return MinAngle, true
	}
	if deg > MaxAngle {
		return MaxAngle, true
	}
	return int(deg), false
}

// Percent clamps raw into the bounds and rescales it to 0..100. With the
// uncalibrated sentinel bounds the result is 0 or 100.
func Percent(raw float64, b Bounds) (percent float64, clamped bool) {
	if raw < b.Min {
		raw = b.Min
		clamped = true
	} else if raw > b.Max {
		raw = b.Max
		clamped = true
	}
	if b.Max == b.Min {
		return 0, clamped
	}
	percent = (raw - b.Min) * 100 / (b.Max - b.Min)
	if percent == 0 {
		percent = 0 // no negative zero
	}
	return percent, clamped
}

// AngleFromPercent maps a 0..100 setpoint onto the beam angle range.
func AngleFromPercent(p float64) float64 {
	return MinAngle + p*(MaxAngle-MinAngle)/100
}

func Deg2Rad(deg float64) float64 { return deg * math.Pi / 180 }

func Rad2Deg(rad float64) float64 { return rad * 180 / math.Pi }

func mapInt(x, inMin, inMax, outMin, outMax int) int {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}
