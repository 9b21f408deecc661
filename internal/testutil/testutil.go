// Package testutil provides shared test helpers and frame fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

// Epoch is the timestamp of frame 0 in fixtures.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// FramePeriod separates consecutive fixture frames.
const FramePeriod = 500 * time.Millisecond

// FrameResult builds a published frame with two voxels. From seq 1 on it
// also carries one obstacle moving at +speed m/s in x and the matching
// odometry: the platform has travelled speed*seq*FramePeriod backwards.
func FrameResult(seq uint64, speed float64) *pipeline.FrameResult {
	ts := Epoch.Add(time.Duration(seq) * FramePeriod)
	res := &pipeline.FrameResult{
		Seq:       seq,
		Timestamp: ts,
		Pose:      transform.Identity(),
		Voxels: []pipeline.VoxelOutput{
			{Index: l3grid.Index{}, Centroid: r3.Vec{X: 0.25, Y: 0.25, Z: 1.25}, Prob: 1, Particles: 200},
			{Index: l3grid.Index{X: 1}, Centroid: r3.Vec{X: 0.75, Y: 0.25, Z: 1.25}, Prob: 0.2, Particles: 100},
		},
		Stats: pipeline.FrameStats{
			Points: 34, Voxels: 2, Particles: 300, Spawned: 10, Unclustered: 1,
			Phases: pipeline.PhaseTimes{Total: 3 * time.Millisecond},
		},
	}
	if seq == 0 {
		return res
	}
	res.Obstacles = []pipeline.ObstacleOutput{{
		ID:        0,
		Voxels:    []l3grid.Index{{}, {X: 1}},
		Centroid:  r3.Vec{X: float64(seq)},
		Velocity:  r3.Vec{X: speed},
		Magnitude: speed,
	}}
	res.Stats.Obstacles = 1
	res.Odometry = &l5odometry.Estimate{
		Timestamp: ts,
		Pose:      l5odometry.Pose2D{X: -speed * float64(seq) * FramePeriod.Seconds()},
		Twist:     l5odometry.Twist2D{VX: -speed},
	}
	return res
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve runs one request against h and returns the recorded response.
func Serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}
