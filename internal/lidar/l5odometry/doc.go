// Package l5odometry owns Layer 5 (Odometry) of the voxel odometry data
// model.
//
// Responsibilities: deriving the platform's own motion from the primary
// obstacle, applying the minimum-speed deadband, and integrating a planar
// pose and twist frame by frame.
// Key types: Odometer, Estimate.
//
// Dependency rule: L5 may depend on L3-L4, but never on the pipeline.
package l5odometry
