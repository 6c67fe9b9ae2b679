package scoring

import "math"

// Ramp maps x linearly onto [0, 1] between floor and ceil. Values at or
// below floor give 0, at or above ceil give 1.
func Ramp(x, floor, ceil float64) float64 {
	if math.IsNaN(x) || x <= floor {
		return 0
	}
	if x >= ceil || ceil <= floor {
		return 1
	}
	return (x - floor) / (ceil - floor)
}

// InverseRamp is Ramp for readings where smaller is better: 1 at or below
// best, 0 at or above worst.
func InverseRamp(x, best, worst float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return 1 - Ramp(x, best, worst)
}

// Band returns 0 outside [lo, hi] and rises linearly from 0 at lo to 1 at hi.
func Band(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo || x > hi || hi <= lo {
		return 0
	}
	return (x - lo) / (hi - lo)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
