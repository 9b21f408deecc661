package l3grid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// Index is an integer lattice coordinate.
type Index struct {
	X, Y, Z int
}

// Source records how a particle was created.
type Source uint8

const (
	SourceSpawn Source = iota
	SourceFlow
)

func (s Source) String() string {
	switch s {
	case SourceSpawn:
		return "spawn"
	case SourceFlow:
		return "flow"
	default:
		return "unknown"
	}
}

// Particle is one motion hypothesis, in the map frame.
type Particle struct {
	ID      uint64
	Pos     r3.Vec
	PrevPos r3.Vec
	Vel     r3.Vec
	Age     int
	Source  Source

	// Pose is the platform-to-map transform at construction time.
	Pose transform.Pose
}

// Advance integrates the particle forward by dt seconds at constant velocity.
func (p *Particle) Advance(dt float64) {
	p.PrevPos = p.Pos
	p.Pos = r3.Add(p.Pos, r3.Scale(dt, p.Vel))
	p.Age++
}

// YawPitch returns the map-frame direction of travel in degrees.
func (p Particle) YawPitch() (yaw, pitch float64) {
	return velocity.YawPitch(p.Vel)
}

// Heading returns the direction of travel relative to the platform heading
// captured at construction, in degrees.
func (p Particle) Heading() float64 {
	yaw, _ := p.YawPitch()
	return velocity.WrapDeg(yaw - p.Pose.Yaw()*180/math.Pi)
}

// Voxel is one occupied lattice cell and the owner of its particle population.
type Voxel struct {
	Index      Index
	Centroid   r3.Vec
	HalfExtent r3.Vec

	// Prob is the occupancy probability. The measurement model may push it
	// above 1.
	Prob float64

	// Points is the number of cloud points found within the query radius.
	Points int

	// Sigma is the per-axis neighbour window, in cells, used by the
	// measurement model.
	Sigma Index

	NeighborVotes int

	Particles []Particle

	Velocity  r3.Vec
	Magnitude float64
	Method    velocity.Method
}

// OldestAge returns the highest particle age, or -1 when empty.
func (v *Voxel) OldestAge() int {
	oldest := -1
	for i := range v.Particles {
		if v.Particles[i].Age > oldest {
			oldest = v.Particles[i].Age
		}
	}
	return oldest
}

// SortParticles orders the population by age descending, then id ascending.
func (v *Voxel) SortParticles() {
	sort.SliceStable(v.Particles, func(i, j int) bool {
		a, b := &v.Particles[i], &v.Particles[j]
		if a.Age != b.Age {
			return a.Age > b.Age
		}
		return a.ID < b.ID
	})
}

// Velocities returns the particle velocity vectors.
func (v *Voxel) Velocities() []r3.Vec {
	out := make([]r3.Vec, len(v.Particles))
	for i := range v.Particles {
		out[i] = v.Particles[i].Vel
	}
	return out
}

// UpdateVelocity recomputes the voxel estimate from its population using the
// voxel's method.
func (v *Voxel) UpdateVelocity(p velocity.Params) {
	if v.Method != "" {
		p.Method = v.Method
	}
	est := velocity.Run(p, v.Velocities())
	v.Velocity = est.Velocity
	v.Magnitude = est.Magnitude
}

// Cap truncates the population to max entries, keeping the head. It returns
// the number removed. Call SortParticles first.
func (v *Voxel) Cap(max int) int {
	if max < 0 || len(v.Particles) <= max {
		return 0
	}
	removed := len(v.Particles) - max
	clear(v.Particles[max:])
	v.Particles = v.Particles[:max]
	return removed
}
