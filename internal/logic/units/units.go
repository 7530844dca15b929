package units

import "math"

// AngleToPulseWidth converts a servo angle to a pulse width in microseconds.
// The angle is clamped to [0, maxDeg] and mapped linearly onto [minUs, maxUs].
func AngleToPulseWidth(angleDeg, minUs, maxUs, maxDeg float64) float64 {
	if maxDeg <= 0 {
		return minUs
	}
	a := math.Max(0, math.Min(maxDeg, angleDeg))
	return minUs + (maxUs-minUs)*(a/maxDeg)
}

// PulseWidthToDuty converts a pulse width in microseconds to a duty-cycle
// value at the given PWM frequency, in the given counter resolution.
// The result is clamped to [0, resolution-1].
func PulseWidthToDuty(us, freqHz float64, resolution int) int {
	duty := int(math.Round(us / 1_000_000.0 * freqHz * float64(resolution)))
	if duty < 0 {
		return 0
	}
	if duty > resolution-1 {
		return resolution - 1
	}
	return duty
}

// ClampAngle limits an angle to the servo's [0, maxDeg] range.
func ClampAngle(angleDeg, maxDeg float64) float64 {
	return math.Max(0, math.Min(maxDeg, angleDeg))
}

// ClampSpeed limits an angular speed to [minDps, maxDps].
func ClampSpeed(dps, minDps, maxDps float64) float64 {
	return math.Max(minDps, math.Min(maxDps, dps))
}
