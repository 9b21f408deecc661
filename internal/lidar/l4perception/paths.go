package l4perception

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
)

// Default projection window for PredictPaths.
const (
	DefaultPathHorizon = 3.0
	DefaultPathStep    = 0.3
)

// PathPoint is a projected voxel centroid T seconds ahead.
type PathPoint struct {
	T   float64 `json:"t"`
	Pos r3.Vec  `json:"pos"`
}

// PredictedPath holds the forward projection of one obstacle's member voxels.
type PredictedPath struct {
	ObstacleID int         `json:"obstacle_id"`
	Points     []PathPoint `json:"points"`
}

// PredictPaths projects every member centroid of each multi-voxel obstacle
// along the obstacle velocity from t=0 to horizon in step increments.
func PredictPaths(g *l3grid.Grid, obstacles []*VoxelObstacle, horizon, step float64) []PredictedPath {
	if step <= 0 || horizon < 0 {
		return nil
	}
	steps := int(horizon/step+1e-9) + 1
	var out []PredictedPath
	for _, o := range obstacles {
		if o.Len() <= 1 {
			continue
		}
		voxels := o.Voxels(g)
		path := PredictedPath{ObstacleID: o.ID, Points: make([]PathPoint, 0, steps*len(voxels))}
		for k := 0; k < steps; k++ {
			t := float64(k) * step
			shift := r3.Scale(t, o.Velocity)
			for _, v := range voxels {
				path.Points = append(path.Points, PathPoint{T: t, Pos: r3.Add(v.Centroid, shift)})
			}
		}
		out = append(out, path)
	}
	return out
}
