package l3grid

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// Resampler adjusts a sorted voxel population before it is capped.
type Resampler interface {
	Resample(v *Voxel) (added, removed int)
}

// CapResampler leaves the population untouched; Update's cap does the work.
type CapResampler struct{}

// Resample implements Resampler.
func (CapResampler) Resample(*Voxel) (int, int) { return 0, 0 }

// ProportionalResampler steers each voxel towards a target population of
// Prob·ParticlesPerVoxel. With a ratio f = target/n above 1, every particle is
// copied floor(f)-1 times plus once more with probability frac(f); below 1,
// each particle survives with probability f.
type ProportionalResampler struct {
	ParticlesPerVoxel int
	Rand              *rand.Rand
	IDs               *IDSource
}

// Resample implements Resampler.
func (r ProportionalResampler) Resample(v *Voxel) (added, removed int) {
	n := len(v.Particles)
	if n == 0 {
		return 0, 0
	}
	target := math.Min(v.Prob, 1) * float64(r.ParticlesPerVoxel)
	f := target / float64(n)
	switch {
	case f > 1:
		whole := math.Floor(f)
		frac := f - whole
		out := make([]Particle, 0, int(math.Ceil(f))*n)
		for _, p := range v.Particles {
			out = append(out, p)
			copies := int(whole) - 1
			if r.Rand.Float64() < frac {
				copies++
			}
			for c := 0; c < copies; c++ {
				dup := p
				dup.ID = r.IDs.Next()
				out = append(out, dup)
				added++
			}
		}
		v.Particles = out
	case f < 1:
		kept := v.Particles[:0]
		for _, p := range v.Particles {
			if r.Rand.Float64() < f {
				kept = append(kept, p)
				continue
			}
			removed++
		}
		clear(v.Particles[len(kept):])
		v.Particles = kept
	}
	return added, removed
}

// UpdateParams configures the measurement-based update.
type UpdateParams struct {
	Velocity     velocity.Params
	MaxParticles int
	// Resampler runs between estimation and capping. Nil behaves like CapResampler.
	Resampler Resampler
}

// UpdateStats summarises one update pass.
type UpdateStats struct {
	Voxels  int
	Added   int
	Removed int
}

// Update runs the per-voxel measurement update: order the population oldest
// first, re-estimate velocity, resample, then cap to MaxParticles so mature
// hypotheses are kept. Empty voxels get a zero estimate.
func Update(g *Grid, p UpdateParams) UpdateStats {
	var st UpdateStats
	for _, v := range g.Voxels() {
		if len(v.Particles) == 0 {
			v.Velocity, v.Magnitude = zeroVec, 0
			continue
		}
		st.Voxels++
		v.SortParticles()
		v.UpdateVelocity(p.Velocity)
		if p.Resampler != nil {
			a, r := p.Resampler.Resample(v)
			st.Added += a
			st.Removed += r
			if a > 0 {
				v.SortParticles()
			}
		}
		st.Removed += v.Cap(p.MaxParticles)
	}
	return st
}
