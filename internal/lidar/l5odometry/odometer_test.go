package l5odometry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l4perception"
)

func obstacleMoving(v r3.Vec) []*l4perception.VoxelObstacle {
	o := l4perception.NewVoxelObstacle(0, l4perception.DefaultSegmentParams())
	o.Velocity = v
	o.Magnitude = r3.Norm(v)
	return []*l4perception.VoxelObstacle{o}
}

func TestAdvance_NegatesPrimaryObstacle(t *testing.T) {
	t0 := time.Unix(100, 0)
	odo := NewOdometer(DefaultParams())

	odo, est, ok := odo.Advance(obstacleMoving(r3.Vec{X: -1}), 0.5, t0)
	require.True(t, ok)
	assert.InDelta(t, 1.0, est.Twist.VX, 1e-12)
	assert.InDelta(t, 0.5, est.Pose.X, 1e-12)
	assert.InDelta(t, 0.0, est.Pose.Yaw, 1e-12)
	assert.Equal(t, t0, est.Timestamp)

	odo, est, ok = odo.Advance(obstacleMoving(r3.Vec{X: -1}), 0.5, t0.Add(500*time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 1.0, est.Pose.X, 1e-12)
	assert.Equal(t, 2, odo.Frames)
}

func TestAdvance_Heading(t *testing.T) {
	odo := NewOdometer(DefaultParams())
	odo, _, _ = odo.Advance(obstacleMoving(r3.Vec{X: -1}), 1, time.Time{})
	_, est, ok := odo.Advance(obstacleMoving(r3.Vec{Y: -1}), 0.5, time.Time{})
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, est.Pose.Yaw, 1e-12)
	assert.InDelta(t, math.Pi, est.Twist.YawRate, 1e-12)
	assert.InDelta(t, 1.0, est.Pose.X, 1e-12)
	assert.InDelta(t, 0.5, est.Pose.Y, 1e-12)
}

func TestAdvance_FirstMovingFrameHasNoYawRate(t *testing.T) {
	odo := NewOdometer(DefaultParams())
	odo, est, ok := odo.Advance(obstacleMoving(r3.Vec{X: 1}), 0.5, time.Time{})
	require.True(t, ok)
	assert.InDelta(t, math.Pi, est.Pose.Yaw, 1e-12)
	assert.Equal(t, 0.0, est.Twist.YawRate)
	assert.True(t, odo.HasHeading)

	for i := 0; i < 3; i++ {
		odo, est, _ = odo.Advance(obstacleMoving(r3.Vec{X: 1}), 0.5, time.Time{})
		assert.Equal(t, 0.0, est.Twist.YawRate)
	}
}

func TestAdvance_ResumeAfterStopHasNoYawRate(t *testing.T) {
	odo := NewOdometer(DefaultParams())
	odo, _, _ = odo.Advance(obstacleMoving(r3.Vec{X: -1}), 0.5, time.Time{})
	odo, est, _ := odo.Advance(obstacleMoving(r3.Vec{X: 0.1}), 0.5, time.Time{})
	assert.Equal(t, 0.0, est.Twist.YawRate)
	assert.False(t, odo.HasHeading)
	assert.InDelta(t, 0.0, odo.Pose.Yaw, 1e-12)

	odo, est, _ = odo.Advance(obstacleMoving(r3.Vec{Y: -1}), 0.5, time.Time{})
	assert.InDelta(t, math.Pi/2, est.Pose.Yaw, 1e-12)
	assert.Equal(t, 0.0, est.Twist.YawRate, "no turn is reported across a stop")
	assert.True(t, odo.HasHeading)

	_, est, _ = odo.Advance(obstacleMoving(r3.Vec{X: 1}), 0.5, time.Time{})
	assert.InDelta(t, math.Pi, est.Twist.YawRate, 1e-12)
}

func TestAdvance_DeadbandNoDrift(t *testing.T) {
	odo := NewOdometer(DefaultParams())
	odo, _, _ = odo.Advance(obstacleMoving(r3.Vec{X: -1, Y: -1}), 1, time.Time{})
	start := odo.Pose

	for i := 0; i < 100; i++ {
		var est Estimate
		var ok bool
		odo, est, ok = odo.Advance(obstacleMoving(r3.Vec{X: 0.29, Y: -0.2}), 0.1, time.Time{})
		require.True(t, ok)
		assert.Equal(t, 0.0, est.Twist.VX)
		assert.Equal(t, 0.0, est.Twist.VY)
		assert.Equal(t, 0.0, est.Twist.YawRate)
	}
	assert.Equal(t, start, odo.Pose, "pose holds position and heading")
}

func TestAdvance_PerAxisDeadband(t *testing.T) {
	odo := NewOdometer(DefaultParams())
	_, est, _ := odo.Advance(obstacleMoving(r3.Vec{X: -2, Y: 0.1}), 1, time.Time{})
	assert.InDelta(t, 2.0, est.Twist.VX, 1e-12)
	assert.Equal(t, 0.0, est.Twist.VY)
}

func TestAdvance_NoObstacles(t *testing.T) {
	odo := NewOdometer(DefaultParams())
	odo.Pose = Pose2D{X: 3, Y: 4, Yaw: 1}
	next, est, ok := odo.Advance(nil, 1, time.Time{})
	assert.False(t, ok)
	assert.Equal(t, Estimate{}, est)
	assert.Equal(t, odo, next)
}

func TestTwistSpeed(t *testing.T) {
	assert.InDelta(t, 5.0, Twist2D{VX: -3, VY: 4, YawRate: 1}.Speed(), 1e-12)
	assert.Zero(t, Twist2D{}.Speed())
}
