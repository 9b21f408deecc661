package l3grid

import (
	"context"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

var zeroVec r3.Vec

// SpawnParams configures particle initialisation.
type SpawnParams struct {
	// ParticlesPerVoxel is scaled by min(Prob, 1); at least one particle is
	// always created.
	ParticlesPerVoxel int
	MaxVel            r3.Vec
	Threads           int

	// Seed and Frame make every voxel's draw reproducible.
	Seed  uint64
	Frame uint64

	Pose transform.Pose
}

// Spawn fills every empty voxel with fresh particles: positions uniform in
// the cell, velocities uniform in ±MaxVel per axis, age 0. Voxels are filled
// in parallel; ids are assigned afterwards in lattice order. It returns the
// number of particles created.
func Spawn(ctx context.Context, g *Grid, p SpawnParams, ids *IDSource) (int, error) {
	voxels := g.Voxels()
	var empty []int
	for i, v := range voxels {
		if len(v.Particles) == 0 {
			empty = append(empty, i)
		}
	}
	if len(empty) == 0 {
		return 0, nil
	}

	fresh := make([][]Particle, len(empty))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workerCount(p.Threads))
	for k, vi := range empty {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v := voxels[vi]
			rng := rand.New(rand.NewPCG(p.Seed^(p.Frame*0x9E3779B97F4A7C15), uint64(g.linear(v.Index))))
			fresh[k] = spawnVoxel(v, p, rng)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for k, vi := range empty {
		for i := range fresh[k] {
			fresh[k][i].ID = ids.Next()
		}
		voxels[vi].Particles = fresh[k]
		total += len(fresh[k])
	}
	return total, nil
}

func spawnVoxel(v *Voxel, p SpawnParams, rng *rand.Rand) []Particle {
	n := int(math.Round(math.Min(v.Prob, 1) * float64(p.ParticlesPerVoxel)))
	if n < 1 {
		n = 1
	}
	out := make([]Particle, n)
	for i := range out {
		pos := r3.Vec{
			X: v.Centroid.X + (rng.Float64()*2-1)*v.HalfExtent.X,
			Y: v.Centroid.Y + (rng.Float64()*2-1)*v.HalfExtent.Y,
			Z: v.Centroid.Z + (rng.Float64()*2-1)*v.HalfExtent.Z,
		}
		vel := r3.Vec{
			X: (rng.Float64()*2 - 1) * p.MaxVel.X,
			Y: (rng.Float64()*2 - 1) * p.MaxVel.Y,
			Z: (rng.Float64()*2 - 1) * p.MaxVel.Z,
		}
		out[i] = Particle{Pos: pos, PrevPos: pos, Vel: vel, Pose: p.Pose}
	}
	return out
}
