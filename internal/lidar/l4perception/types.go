package l4perception

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
)

// SegmentParams holds the region-growing thresholds.
type SegmentParams struct {
	// Neighbor is the per-axis lattice distance within which two voxels are adjacent.
	Neighbor l3grid.Index

	YawThreshDeg    float64
	PitchThreshDeg  float64
	MagnitudeThresh float64

	MinVoxels  int
	MinDensity float64
}

// DefaultSegmentParams mirrors the tuning defaults.
func DefaultSegmentParams() SegmentParams {
	return SegmentParams{
		Neighbor:        l3grid.Index{X: 1, Y: 1, Z: 1},
		YawThreshDeg:    90,
		PitchThreshDeg:  9999999,
		MagnitudeThresh: 9999999,
		MinVoxels:       8,
		MinDensity:      0.2,
	}
}

// BBox is an axis-aligned box in the map frame.
type BBox struct {
	Min r3.Vec `json:"min"`
	Max r3.Vec `json:"max"`
}

// Size returns the box edge lengths.
func (b BBox) Size() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

// VoxelObstacle is a cluster of adjacent, motion-consistent voxels.
type VoxelObstacle struct {
	ID int

	// Members are positions in the owning grid's Voxels() list.
	Members []int

	BBox     BBox
	Centroid r3.Vec

	Velocity  r3.Vec
	Magnitude float64

	// Params are the thresholds the obstacle was grown with.
	Params SegmentParams

	lo, hi      l3grid.Index
	centroidSum r3.Vec
}

// NewVoxelObstacle returns an empty obstacle.
func NewVoxelObstacle(id int, p SegmentParams) *VoxelObstacle {
	return &VoxelObstacle{ID: id, Params: p}
}

// Add appends the voxel at slot and grows the bounding box and centroid.
func (o *VoxelObstacle) Add(slot int, v *l3grid.Voxel) {
	lo := r3.Sub(v.Centroid, v.HalfExtent)
	hi := r3.Add(v.Centroid, v.HalfExtent)
	if len(o.Members) == 0 {
		o.BBox = BBox{Min: lo, Max: hi}
		o.lo, o.hi = v.Index, v.Index
	} else {
		o.BBox.Min = r3.Vec{X: math.Min(o.BBox.Min.X, lo.X), Y: math.Min(o.BBox.Min.Y, lo.Y), Z: math.Min(o.BBox.Min.Z, lo.Z)}
		o.BBox.Max = r3.Vec{X: math.Max(o.BBox.Max.X, hi.X), Y: math.Max(o.BBox.Max.Y, hi.Y), Z: math.Max(o.BBox.Max.Z, hi.Z)}
		o.lo = l3grid.Index{X: min(o.lo.X, v.Index.X), Y: min(o.lo.Y, v.Index.Y), Z: min(o.lo.Z, v.Index.Z)}
		o.hi = l3grid.Index{X: max(o.hi.X, v.Index.X), Y: max(o.hi.Y, v.Index.Y), Z: max(o.hi.Z, v.Index.Z)}
	}
	o.Members = append(o.Members, slot)
	o.centroidSum = r3.Add(o.centroidSum, v.Centroid)
	o.Centroid = r3.Scale(1/float64(len(o.Members)), o.centroidSum)
}

// Len returns the number of member voxels.
func (o *VoxelObstacle) Len() int { return len(o.Members) }

// Density is the fraction of lattice cells inside the bounding box that are members.
func (o *VoxelObstacle) Density() float64 {
	if len(o.Members) == 0 {
		return 0
	}
	cells := (o.hi.X - o.lo.X + 1) * (o.hi.Y - o.lo.Y + 1) * (o.hi.Z - o.lo.Z + 1)
	return float64(len(o.Members)) / float64(cells)
}

// Voxels resolves member handles against g.
func (o *VoxelObstacle) Voxels(g *l3grid.Grid) []*l3grid.Voxel {
	all := g.Voxels()
	out := make([]*l3grid.Voxel, 0, len(o.Members))
	for _, s := range o.Members {
		if s >= 0 && s < len(all) {
			out = append(out, all[s])
		}
	}
	return out
}
