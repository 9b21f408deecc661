package l4perception

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// PooledVelocities returns the particle velocities of every member voxel.
func (o *VoxelObstacle) PooledVelocities(g *l3grid.Grid) []r3.Vec {
	var out []r3.Vec
	for _, v := range o.Voxels(g) {
		for i := range v.Particles {
			out = append(out, v.Particles[i].Vel)
		}
	}
	return out
}

// UpdateSpeed estimates the obstacle velocity from its pooled particles.
// A zero magnitude forces an exact zero vector.
func (o *VoxelObstacle) UpdateSpeed(g *l3grid.Grid, p velocity.Params) {
	est := velocity.Run(p, o.PooledVelocities(g))
	o.Velocity, o.Magnitude = est.Velocity, est.Magnitude
	if o.Magnitude == 0 {
		o.Velocity = r3.Vec{}
	}
}

// AggregateSpeeds runs UpdateSpeed on every obstacle.
func AggregateSpeeds(g *l3grid.Grid, obstacles []*VoxelObstacle, p velocity.Params) {
	for _, o := range obstacles {
		o.UpdateSpeed(g, p)
	}
}
