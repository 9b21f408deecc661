package pipeline

import (
	"context"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l4perception"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

// Frame is one frame of input, already resolved by the acquisition side.
// Cloud is in the map frame.
type Frame struct {
	Seq       uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Cloud     []r3.Vec               `json:"cloud"`
	Camera    *transform.StereoModel `json:"camera,omitempty"`
	Flow      []l3grid.FlowSample    `json:"flow,omitempty"`
}

// FrameSource yields frames in order. Next returns io.EOF when exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// TransformSource resolves the pose that maps source-frame coordinates into
// the target frame at a given time.
type TransformSource interface {
	Lookup(target, source string, at time.Time) (transform.Pose, error)
}

// Sink receives every published frame result. Publish must not retain
// mutable references into the result beyond the call unless it copies them.
type Sink interface {
	Publish(res *FrameResult)
}

// VoxelOutput is the published view of one occupied voxel.
type VoxelOutput struct {
	Index     l3grid.Index `json:"index"`
	Centroid  r3.Vec       `json:"centroid"`
	Prob      float64      `json:"prob"`
	Velocity  r3.Vec       `json:"velocity"`
	Magnitude float64      `json:"magnitude"`
	Particles int          `json:"particles"`
}

// ObstacleOutput is the published view of one obstacle.
type ObstacleOutput struct {
	ID        int               `json:"id"`
	Voxels    []l3grid.Index    `json:"voxels"`
	BBox      l4perception.BBox `json:"bbox"`
	Centroid  r3.Vec            `json:"centroid"`
	Velocity  r3.Vec            `json:"velocity"`
	Magnitude float64           `json:"magnitude"`
}

// PhaseTimes records how long each phase of a step took. Phases that did
// not run are zero.
type PhaseTimes struct {
	Grid        time.Duration `json:"grid"`
	Flow        time.Duration `json:"flow"`
	Measurement time.Duration `json:"measurement"`
	Prediction  time.Duration `json:"prediction"`
	Update      time.Duration `json:"update"`
	Segment     time.Duration `json:"segment"`
	Speed       time.Duration `json:"speed"`
	Odometry    time.Duration `json:"odometry"`
	Init        time.Duration `json:"init"`
	Total       time.Duration `json:"total"`
}

// FrameStats carries per-frame population accounting and timing.
type FrameStats struct {
	Points    int `json:"points"`
	Voxels    int `json:"voxels"`
	Particles int `json:"particles"`
	Spawned   int `json:"spawned"`
	Merged    int `json:"merged"`

	Prediction l3grid.PredictionStats `json:"prediction"`
	Flow       l3grid.FlowStats       `json:"flow"`
	Update     l3grid.UpdateStats     `json:"update"`

	Obstacles   int `json:"obstacles"`
	Unclustered int `json:"unclustered"`

	// TransformReused is set when the lookup failed and the last good
	// transform stood in.
	TransformReused bool `json:"transform_reused"`

	Phases PhaseTimes `json:"phases"`
}

// FrameResult is everything one step publishes. It is a snapshot: later
// steps never modify it.
type FrameResult struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Voxels    []VoxelOutput                `json:"voxels"`
	Obstacles []ObstacleOutput             `json:"obstacles"`
	Paths     []l4perception.PredictedPath `json:"paths,omitempty"`

	// Odometry is nil when no obstacle was found.
	Odometry *l5odometry.Estimate `json:"odometry,omitempty"`

	Pose  transform.Pose `json:"pose"`
	Stats FrameStats     `json:"stats"`
}

func snapshotVoxels(g *l3grid.Grid) []VoxelOutput {
	out := make([]VoxelOutput, 0, g.Len())
	for _, v := range g.Voxels() {
		out = append(out, VoxelOutput{
			Index:     v.Index,
			Centroid:  v.Centroid,
			Prob:      v.Prob,
			Velocity:  v.Velocity,
			Magnitude: v.Magnitude,
			Particles: len(v.Particles),
		})
	}
	return out
}

func snapshotObstacles(g *l3grid.Grid, obstacles []*l4perception.VoxelObstacle) []ObstacleOutput {
	out := make([]ObstacleOutput, 0, len(obstacles))
	voxels := g.Voxels()
	for _, o := range obstacles {
		members := make([]l3grid.Index, len(o.Members))
		for i, slot := range o.Members {
			members[i] = voxels[slot].Index
		}
		out = append(out, ObstacleOutput{
			ID:        o.ID,
			Voxels:    members,
			BBox:      o.BBox,
			Centroid:  o.Centroid,
			Velocity:  o.Velocity,
			Magnitude: o.Magnitude,
		})
	}
	return out
}
