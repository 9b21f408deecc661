package l3grid

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MeasurementModel refines camera-fed occupancy by spatial smoothing. Each
// voxel w collects one vote from every occupied voxel v (itself included)
// whose ±Sigma(v) window covers w, then its probability becomes
// votes / sum over axes of (2·sigma+1).
//
// Writes are voxel-local and the grid is read-only, so voxels are processed
// in parallel across up to threads workers. maxSigma must bound every voxel's
// Sigma.
func MeasurementModel(ctx context.Context, g *Grid, maxSigma, threads int) error {
	voxels := g.Voxels()
	if len(voxels) == 0 {
		return nil
	}
	votes := make([]int, len(voxels))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workerCount(threads))
	for _, span := range chunks(len(voxels), workerCount(threads)) {
		eg.Go(func() error {
			for i := span[0]; i < span[1]; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				votes[i] = g.countCoveringVoxels(voxels[i].Index, maxSigma)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, v := range voxels {
		v.NeighborVotes = votes[i]
		window := float64((2*v.Sigma.X + 1) + (2*v.Sigma.Y + 1) + (2*v.Sigma.Z + 1))
		v.Prob = float64(v.NeighborVotes) / window
	}
	return nil
}

// countCoveringVoxels counts occupied voxels whose own window includes w.
func (g *Grid) countCoveringVoxels(w Index, maxSigma int) int {
	n := 0
	for x := w.X - maxSigma; x <= w.X+maxSigma; x++ {
		for y := w.Y - maxSigma; y <= w.Y+maxSigma; y++ {
			for z := w.Z - maxSigma; z <= w.Z+maxSigma; z++ {
				v := g.At(Index{X: x, Y: y, Z: z})
				if v == nil {
					continue
				}
				if iabs(w.X-x) <= v.Sigma.X && iabs(w.Y-y) <= v.Sigma.Y && iabs(w.Z-z) <= v.Sigma.Z {
					n++
				}
			}
		}
	}
	return n
}

func workerCount(threads int) int {
	if threads < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return threads
}

// chunks splits [0, n) into at most k contiguous half-open ranges.
func chunks(n, k int) [][2]int {
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	out := make([][2]int, 0, k)
	size := (n + k - 1) / k
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
