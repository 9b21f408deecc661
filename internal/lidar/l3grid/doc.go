// Package l3grid owns Layer 3 (Grid) of the voxel odometry data model.
//
// Responsibilities: the sparse voxel occupancy lattice rebuilt every frame,
// the per-voxel particle populations that carry motion hypotheses between
// frames, and the phases that act on them (measurement model, prediction,
// optical-flow injection, measurement update, spawning).
// Key types: Extent, Grid, Voxel, Particle.
//
// Each Voxel is the single owner of its particles. The engine-wide particle
// list is the derived view returned by Grid.Particles.
//
// Dependency rule: L3 may depend on velocity and transform, but never on L4+.
package l3grid
