// Package pipeline runs the voxel-odometry tracking engine.
//
// An Engine holds the immutable parameters; all cross-frame memory lives in
// a State value that Step consumes and returns. One Step rebuilds the voxel
// grid from the frame's cloud, carries particles forward, re-estimates voxel
// velocities, segments obstacles and integrates odometry. Run drives Step
// from a FrameSource and fans results out to Sinks.
//
// This package is the composition root: it imports the layer packages
// (l3grid, l4perception, l5odometry) but none of them import pipeline.
package pipeline
