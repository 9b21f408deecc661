package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// StereoModel carries the camera intrinsics needed when the point cloud comes
// from a stereo rig. Baseline may be zero for a monocular depth source.
type StereoModel struct {
	Fx       float64 `json:"fx"`
	Fy       float64 `json:"fy"`
	Baseline float64 `json:"baseline,omitempty"`
}

// Valid reports whether both focal lengths are positive.
func (m StereoModel) Valid() bool {
	return m.Fx > 0 && m.Fy > 0
}

// PixelFootprint projects an axis-aligned cell with the given half-extents,
// centred at depth z in the camera frame, onto the image plane. The result is
// the footprint in pixels along u and v, including the centre pixel.
func (m StereoModel) PixelFootprint(half r3.Vec, z float64) (su, sv float64) {
	if z <= 0 {
		return math.Inf(1), math.Inf(1)
	}
	su = 2*half.X*m.Fx/z + 1
	sv = 2*half.Y*m.Fy/z + 1
	return su, sv
}

// Uncertainty returns the camera-frame position uncertainty of a point at
// depth z: one pixel laterally, and the one-pixel disparity error in depth.
func (m StereoModel) Uncertainty(z float64) r3.Vec {
	if z <= 0 || !m.Valid() {
		return r3.Vec{}
	}
	u := r3.Vec{X: z / m.Fx, Y: z / m.Fy}
	if m.Baseline > 0 {
		u.Z = z * z / (m.Fx * m.Baseline)
	} else {
		u.Z = math.Max(u.X, u.Y)
	}
	return u
}
