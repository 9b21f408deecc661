package velocity

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// YawPitch returns the direction of v in degrees. Yaw is measured in the XY
// plane from +X towards +Y in (-180, 180]; pitch is the elevation above the
// XY plane in [-90, 90].
func YawPitch(v r3.Vec) (yaw, pitch float64) {
	yaw = math.Atan2(v.Y, v.X) * 180 / math.Pi
	pitch = math.Atan2(v.Z, math.Hypot(v.X, v.Y)) * 180 / math.Pi
	return yaw, pitch
}

// WrapDeg wraps an angle in degrees to [-180, 180).
func WrapDeg(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

// AngleDiffDeg is the absolute shortest angular distance between a and b.
func AngleDiffDeg(a, b float64) float64 {
	return math.Abs(WrapDeg(a - b))
}

// WrapRad wraps an angle in radians to [-pi, pi).
func WrapRad(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
