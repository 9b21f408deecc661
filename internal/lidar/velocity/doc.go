// Package velocity turns a population of particle velocity hypotheses into a
// single velocity estimate.
//
// Two strategies are provided. MethodMean averages every hypothesis.
// MethodCircularHist bins hypotheses by direction (yaw, pitch) and reports
// the plurality bin, which tolerates stale or outlier hypotheses that would
// drag an arithmetic mean.
//
// Both voxels (l3grid) and obstacles (l4perception) use this package; an
// obstacle simply pools the particles of all its member voxels.
package velocity
