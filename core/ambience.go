package core

import "math"

// AmbientVolume maps a pressure in kPa to an ambient sound volume.
//
// asinh is close to linear near zero and logarithmic for large inputs,
// so the output stays usable across several orders of magnitude of
// pressure without clamping. AmbientVolume(0) == 0.
func AmbientVolume(pressure float64) float64 {
	if !(pressure > 0) {
		return 0
	}
	return math.Asinh(pressure)
}
