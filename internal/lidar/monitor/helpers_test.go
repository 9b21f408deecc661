package monitor

import (
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/testutil"
)

// result is a fixture frame; with an obstacle it moves at +1 m/s in x.
func result(seq uint64, withObstacle bool) *pipeline.FrameResult {
	if !withObstacle {
		res := testutil.FrameResult(seq, 0)
		res.Obstacles, res.Odometry = nil, nil
		res.Stats.Obstacles = 0
		return res
	}
	return testutil.FrameResult(seq, 1)
}
