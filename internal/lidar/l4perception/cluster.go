package l4perception

import (
	"sort"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// directionEpsilon is the speed below which a voxel has no usable direction.
const directionEpsilon = 1e-9

// Compatible reports whether two voxels may join the same obstacle: their
// yaw and pitch each differ by less than the thresholds and their speeds by
// less than MagnitudeThresh. The angular tests are skipped when either voxel
// is stationary.
func Compatible(a, b *l3grid.Voxel, p SegmentParams) bool {
	if abs(a.Magnitude-b.Magnitude) >= p.MagnitudeThresh {
		return false
	}
	if a.Magnitude < directionEpsilon || b.Magnitude < directionEpsilon {
		return true
	}
	yawA, pitchA := velocity.YawPitch(a.Velocity)
	yawB, pitchB := velocity.YawPitch(b.Velocity)
	return velocity.AngleDiffDeg(yawA, yawB) < p.YawThreshDeg &&
		velocity.AngleDiffDeg(pitchA, pitchB) < p.PitchThreshDeg
}

// Adjacent reports whether two lattice cells are within the per-axis
// neighbour distance.
func Adjacent(a, b l3grid.Index, n l3grid.Index) bool {
	return iabs(a.X-b.X) <= n.X && iabs(a.Y-b.Y) <= n.Y && iabs(a.Z-b.Z) <= n.Z
}

// Segment grows clusters over the grid's occupied voxels. Seeds are taken in
// lattice order and each cluster expands breadth-first across adjacent,
// compatible voxels. A stationary voxel joins any neighbour, but a moving
// voxel entered through one must be compatible with the cluster's first
// moving member. Clusters with at least MinVoxels members and density of
// at least MinDensity become obstacles; the members of rejected clusters are
// returned as unclustered slots. Obstacles are ordered by size, largest
// first, ties broken by their first member, and numbered in that order.
func Segment(g *l3grid.Grid, p SegmentParams) (obstacles []*VoxelObstacle, unclustered []int) {
	voxels := g.Voxels()
	labels := make([]bool, len(voxels))

	for seed := range voxels {
		if labels[seed] {
			continue
		}
		labels[seed] = true
		cluster := NewVoxelObstacle(0, p)
		cluster.Add(seed, voxels[seed])

		// ref is the first moving member. A moving voxel reached through a
		// stationary one must also agree with it, so stationary voxels cannot
		// chain opposing motions together.
		var ref *l3grid.Voxel
		if voxels[seed].Magnitude >= directionEpsilon {
			ref = voxels[seed]
		}

		// Queue-based expansion: Members doubles as the BFS queue.
		for q := 0; q < len(cluster.Members); q++ {
			cur := voxels[cluster.Members[q]]
			for _, nb := range neighbours(g, cur.Index, p.Neighbor) {
				if labels[nb] || !Compatible(cur, voxels[nb], p) {
					continue
				}
				moving := voxels[nb].Magnitude >= directionEpsilon
				if moving && ref != nil && cur.Magnitude < directionEpsilon && !Compatible(ref, voxels[nb], p) {
					continue
				}
				labels[nb] = true
				cluster.Add(nb, voxels[nb])
				if moving && ref == nil {
					ref = voxels[nb]
				}
			}
		}

		if cluster.Len() >= p.MinVoxels && cluster.Density() >= p.MinDensity {
			sort.Ints(cluster.Members)
			obstacles = append(obstacles, cluster)
			continue
		}
		unclustered = append(unclustered, cluster.Members...)
	}

	sort.SliceStable(obstacles, func(i, j int) bool {
		if obstacles[i].Len() != obstacles[j].Len() {
			return obstacles[i].Len() > obstacles[j].Len()
		}
		return obstacles[i].Members[0] < obstacles[j].Members[0]
	})
	for i, o := range obstacles {
		o.ID = i
	}
	sort.Ints(unclustered)
	return obstacles, unclustered
}

// neighbours returns the slots of occupied voxels adjacent to ix, in lattice order.
func neighbours(g *l3grid.Grid, ix, n l3grid.Index) []int {
	var out []int
	for x := ix.X - n.X; x <= ix.X+n.X; x++ {
		for y := ix.Y - n.Y; y <= ix.Y+n.Y; y++ {
			for z := ix.Z - n.Z; z <= ix.Z+n.Z; z++ {
				if x == ix.X && y == ix.Y && z == ix.Z {
					continue
				}
				if s, ok := g.Slot(l3grid.Index{X: x, Y: y, Z: z}); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
