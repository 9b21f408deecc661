package l4perception

import "github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"

// Segmenter abstracts the obstacle segmentation strategy so the engine can
// be tested against alternatives.
type Segmenter interface {
	// Segment groups the grid's voxels into obstacles ordered by size,
	// largest first, and returns the slots of voxels left unclustered.
	Segment(g *l3grid.Grid) (obstacles []*VoxelObstacle, unclustered []int)

	// Params returns the thresholds in use.
	Params() SegmentParams
}

// RegionGrower is the default Segmenter.
type RegionGrower struct {
	params SegmentParams
}

// NewRegionGrower returns a Segmenter using region growing with p.
func NewRegionGrower(p SegmentParams) *RegionGrower {
	return &RegionGrower{params: p}
}

// Segment implements Segmenter.
func (r *RegionGrower) Segment(g *l3grid.Grid) ([]*VoxelObstacle, []int) {
	return Segment(g, r.params)
}

// Params implements Segmenter.
func (r *RegionGrower) Params() SegmentParams { return r.params }

var _ Segmenter = (*RegionGrower)(nil)
