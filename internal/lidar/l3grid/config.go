package l3grid

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// BuildParams configures a grid rebuild.
type BuildParams struct {
	Extent Extent

	// OccupancyThresh is the probability a cell must exceed to become a voxel.
	OccupancyThresh float64

	// Camera is set when the cloud comes from a stereo rig. Nil treats the
	// cloud as a direct range measurement with occupancy 1.
	Camera *CameraParams

	// MaxSigma bounds the measurement-model window, in cells.
	MaxSigma int

	// Ego excludes lattice cells around the platform. A zero box disables it.
	Ego EgoBox

	// Method is the velocity estimation method stamped on each voxel.
	Method velocity.Method
}

// CameraParams describes a stereo source for one frame.
type CameraParams struct {
	Model       transform.StereoModel
	MapToCamera transform.Pose
}

// EgoBox is an axis-aligned box in the platform frame.
type EgoBox struct {
	HalfExtent    r3.Vec
	MapToPlatform transform.Pose
}

// Enabled reports whether the box excludes anything.
func (b EgoBox) Enabled() bool {
	return b.HalfExtent.X > 0 && b.HalfExtent.Y > 0 && b.HalfExtent.Z > 0
}

// Excludes reports whether the map-frame point p lies inside the box.
func (b EgoBox) Excludes(p r3.Vec) bool {
	if !b.Enabled() {
		return false
	}
	q := b.MapToPlatform.Apply(p)
	return abs(q.X) < b.HalfExtent.X && abs(q.Y) < b.HalfExtent.Y && abs(q.Z) < b.HalfExtent.Z
}

// DefaultBuildParams returns direct-cloud defaults over DefaultExtent.
func DefaultBuildParams() BuildParams {
	return BuildParams{
		Extent:          DefaultExtent(),
		OccupancyThresh: 0.5,
		MaxSigma:        3,
		Method:          velocity.MethodCircularHist,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
