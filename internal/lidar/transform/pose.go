// Package transform holds rigid-body poses between coordinate frames and the
// lookup sources the engine uses to resolve them per frame.
package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance bounds the determinant error accepted by IsRigid.
const MatrixValidationTolerance = 1e-6

// Pose is a 4x4 row-major homogeneous transform: m00,m01,m02,m03, m10,...
// A Pose maps points from its source frame into its target frame.
type Pose [16]float64

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromYaw builds a planar pose rotated by yaw radians about +Z and translated by t.
func FromYaw(yaw float64, t r3.Vec) Pose {
	c, s := math.Cos(yaw), math.Sin(yaw)
	return Pose{
		c, -s, 0, t.X,
		s, c, 0, t.Y,
		0, 0, 1, t.Z,
		0, 0, 0, 1,
	}
}

// Apply transforms point p.
func (T Pose) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: T[0]*p.X + T[1]*p.Y + T[2]*p.Z + T[3],
		Y: T[4]*p.X + T[5]*p.Y + T[6]*p.Z + T[7],
		Z: T[8]*p.X + T[9]*p.Y + T[10]*p.Z + T[11],
	}
}

// Rotate applies only the rotation part, for direction vectors.
func (T Pose) Rotate(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: T[0]*v.X + T[1]*v.Y + T[2]*v.Z,
		Y: T[4]*v.X + T[5]*v.Y + T[6]*v.Z,
		Z: T[8]*v.X + T[9]*v.Y + T[10]*v.Z,
	}
}

// RotateAbs rotates a non-negative extent vector, returning the per-axis
// extent of the rotated box.
func (T Pose) RotateAbs(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: math.Abs(T[0])*v.X + math.Abs(T[1])*v.Y + math.Abs(T[2])*v.Z,
		Y: math.Abs(T[4])*v.X + math.Abs(T[5])*v.Y + math.Abs(T[6])*v.Z,
		Z: math.Abs(T[8])*v.X + math.Abs(T[9])*v.Y + math.Abs(T[10])*v.Z,
	}
}

// Translation returns the translation column.
func (T Pose) Translation() r3.Vec {
	return r3.Vec{X: T[3], Y: T[7], Z: T[11]}
}

// Yaw returns the heading of the pose's X axis in the target frame, in radians.
func (T Pose) Yaw() float64 {
	return math.Atan2(T[4], T[0])
}

// Inverse returns the inverse of a rigid transform.
func (T Pose) Inverse() Pose {
	// R^T, -R^T t
	var out Pose
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*4+c] = T[c*4+r]
		}
	}
	t := T.Translation()
	out[3] = -(out[0]*t.X + out[1]*t.Y + out[2]*t.Z)
	out[7] = -(out[4]*t.X + out[5]*t.Y + out[6]*t.Z)
	out[11] = -(out[8]*t.X + out[9]*t.Y + out[10]*t.Z)
	out[15] = 1
	return out
}

// Compose returns T·U: apply U first, then T.
func (T Pose) Compose(U Pose) Pose {
	var out Pose
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += T[r*4+k] * U[k*4+c]
			}
			out[r*4+c] = s
		}
	}
	return out
}

// IsRigid checks for a proper rotation block and a [0 0 0 1] last row.
func (T Pose) IsRigid() bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	return T[12] == 0 && T[13] == 0 && T[14] == 0 && math.Abs(T[15]-1.0) <= 0.001
}
