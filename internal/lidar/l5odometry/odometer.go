package l5odometry

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l4perception"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// Params configures the odometer.
type Params struct {
	// MinVel is the per-axis deadband: components below it report as zero.
	MinVel r3.Vec
}

// DefaultParams mirrors the tuning defaults.
func DefaultParams() Params {
	return Params{MinVel: r3.Vec{X: 0.3, Y: 0.3, Z: 0}}
}

// Pose2D is a planar pose in the map frame. Yaw is in radians.
type Pose2D struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Twist2D is a planar velocity. YawRate is in radians per second.
type Twist2D struct {
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
	YawRate float64 `json:"yaw_rate"`
}

// Speed is the planar speed.
func (t Twist2D) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}

// Estimate is one frame's odometry output.
type Estimate struct {
	Timestamp  time.Time `json:"timestamp"`
	Pose       Pose2D    `json:"pose"`
	Twist      Twist2D   `json:"twist"`
	ObstacleID int       `json:"obstacle_id"`
}

// Odometer integrates platform motion. It is a value: Advance returns the
// successor rather than mutating the receiver.
type Odometer struct {
	Params Params
	Pose   Pose2D
	Frames int
	// HasHeading reports whether Pose.Yaw came from motion in the last advanced
	// frame. A yaw rate is only reported between two such frames.
	HasHeading bool
}

// NewOdometer returns an odometer at the origin.
func NewOdometer(p Params) Odometer {
	return Odometer{Params: p}
}

// Advance consumes one frame's obstacles. The first obstacle is taken to be
// the static world seen from the platform, so its negated velocity is the
// platform velocity. With no obstacles nothing is emitted and the odometer
// is returned unchanged. The yaw rate is zero on the first moving frame and
// on the frame motion resumes after a stop.
func (o Odometer) Advance(obstacles []*l4perception.VoxelObstacle, dt float64, ts time.Time) (Odometer, Estimate, bool) {
	if len(obstacles) == 0 {
		return o, Estimate{}, false
	}
	ref := obstacles[0]
	v := r3.Scale(-1, ref.Velocity)
	v = r3.Vec{
		X: deadband(v.X, o.Params.MinVel.X),
		Y: deadband(v.Y, o.Params.MinVel.Y),
	}

	next := o
	next.Frames++
	if dt > 0 {
		next.Pose.X += v.X * dt
		next.Pose.Y += v.Y * dt
	}
	moving := v.X != 0 || v.Y != 0
	if moving {
		next.Pose.Yaw = math.Atan2(v.Y, v.X)
	}
	next.HasHeading = moving

	twist := Twist2D{VX: v.X, VY: v.Y}
	if dt > 0 && moving && o.HasHeading {
		twist.YawRate = velocity.WrapRad(next.Pose.Yaw-o.Pose.Yaw) / dt
	}
	return next, Estimate{Timestamp: ts, Pose: next.Pose, Twist: twist, ObstacleID: ref.ID}, true
}

func deadband(v, min float64) float64 {
	if math.Abs(v) < min {
		return 0
	}
	return v
}
