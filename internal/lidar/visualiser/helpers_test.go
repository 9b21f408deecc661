package visualiser

import (
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l4perception"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

var testStamp = time.Date(2026, 1, 1, 0, 0, 1, 500_000_000, time.UTC)

func sampleResult(seq uint64) *pipeline.FrameResult {
	return &pipeline.FrameResult{
		Seq:       seq,
		Timestamp: testStamp,
		Pose:      transform.Identity(),
		Voxels: []pipeline.VoxelOutput{
			{Index: l3grid.Index{X: 1}, Centroid: r3.Vec{X: 0.75, Y: 0.25, Z: 1.25}, Prob: 0.5, Velocity: r3.Vec{X: 1}, Magnitude: 1, Particles: 20},
			{Index: l3grid.Index{X: 2}, Centroid: r3.Vec{X: 1.25, Y: 0.25, Z: 1.25}, Prob: 0.25, Velocity: r3.Vec{X: 1}, Magnitude: 1, Particles: 10},
		},
		Obstacles: []pipeline.ObstacleOutput{{
			ID:        0,
			Voxels:    []l3grid.Index{{X: 1}, {X: 2}},
			BBox:      l4perception.BBox{Min: r3.Vec{X: 0.5, Z: 1}, Max: r3.Vec{X: 1.5, Y: 0.5, Z: 1.5}},
			Centroid:  r3.Vec{X: 1, Y: 0.25, Z: 1.25},
			Velocity:  r3.Vec{X: 1},
			Magnitude: 1,
		}},
		Paths: []l4perception.PredictedPath{{
			ObstacleID: 0,
			Points: []l4perception.PathPoint{
				{T: 0, Pos: r3.Vec{X: 0.75, Y: 0.25, Z: 1.25}},
				{T: 0.5, Pos: r3.Vec{X: 1.25, Y: 0.25, Z: 1.25}},
			},
		}},
		Odometry: &l5odometry.Estimate{
			Timestamp: testStamp,
			Pose:      l5odometry.Pose2D{X: -1.5},
			Twist:     l5odometry.Twist2D{VX: -1},
		},
		Stats: pipeline.FrameStats{
			Points:    42,
			Particles: 30,
			Spawned:   5,
			Phases:    pipeline.PhaseTimes{Total: 2500 * time.Microsecond},
		},
	}
}

func waitForClients(t *testing.T, p *Publisher, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().ClientCount != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients, have %d", n, p.Stats().ClientCount)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
