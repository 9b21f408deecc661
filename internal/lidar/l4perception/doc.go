// Package l4perception owns Layer 4 (Perception) of the voxel odometry data
// model.
//
// Responsibilities: grouping occupied voxels into motion-consistent
// obstacles by region growing, aggregating obstacle velocity over the pooled
// particles of member voxels, and projecting obstacle paths forward.
// Key types: VoxelObstacle, SegmentParams.
//
// Obstacles refer to voxels by their position in the grid's occupied-voxel
// list, never by pointer, so a fresh obstacle set can be built every frame.
//
// Dependency rule: L4 may depend on L3, but never on L5+.
package l4perception
