// Package synthetic generates deterministic point-cloud scenes for tests and
// demos: a rigid block translating at constant velocity over an optional
// static background.
package synthetic

import (
	"context"
	"io"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
)

// Scene describes what the generator renders.
type Scene struct {
	// Cell is the lattice spacing used to lay out block points, one point
	// per cell centre.
	Cell r3.Vec

	// Origin is the minimum corner of the moving block at Start.
	Origin   r3.Vec
	Cells    l3grid.Index
	Velocity r3.Vec

	// Background points never move.
	Background []r3.Vec

	Start  time.Time
	Period time.Duration
	// Frames limits the sequence; zero is unbounded.
	Frames int

	// Flow attaches a flow sample carrying Velocity to every block point.
	Flow bool
	// Camera, when set, is attached to every frame.
	Camera *transform.StereoModel

	// Jitter adds uniform noise of up to ±Jitter metres per axis to every point.
	Jitter float64
	Seed   uint64

	// Clock, when set, paces Next to one frame per Period.
	Clock timeutil.Clock
}

// DefaultScene is a 4x4x2-cell block at 1 m/s along x on the default lattice
// with a two-cell post as background.
func DefaultScene() Scene {
	cell := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	return Scene{
		Cell:       cell,
		Origin:     r3.Vec{X: -18, Y: -1, Z: 1},
		Cells:      l3grid.Index{X: 4, Y: 4, Z: 2},
		Velocity:   r3.Vec{X: 1},
		Background: Block(r3.Vec{X: 5, Y: 10, Z: 1}, l3grid.Index{X: 1, Y: 1, Z: 2}, cell),
		Start:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Period:     500 * time.Millisecond,
		Seed:       1,
	}
}

// Block returns one point at the centre of each cell of an n-cell box whose
// minimum corner is origin.
func Block(origin r3.Vec, n l3grid.Index, cell r3.Vec) []r3.Vec {
	pts := make([]r3.Vec, 0, n.X*n.Y*n.Z)
	for i := 0; i < n.X; i++ {
		for j := 0; j < n.Y; j++ {
			for k := 0; k < n.Z; k++ {
				pts = append(pts, r3.Vec{
					X: origin.X + (float64(i)+0.5)*cell.X,
					Y: origin.Y + (float64(j)+0.5)*cell.Y,
					Z: origin.Z + (float64(k)+0.5)*cell.Z,
				})
			}
		}
	}
	return pts
}

// Generator is a pipeline.FrameSource over a Scene.
type Generator struct {
	scene Scene
	next  int
	rng   *rand.Rand
}

var _ pipeline.FrameSource = (*Generator)(nil)

// NewGenerator returns a generator positioned at frame 0.
func NewGenerator(s Scene) *Generator {
	return &Generator{scene: s, rng: rand.New(rand.NewPCG(s.Seed, 0x5eed))}
}

// Scene returns the scene being rendered.
func (g *Generator) Scene() Scene { return g.scene }

// Next returns the next frame, or io.EOF after Frames frames.
func (g *Generator) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	if g.scene.Frames > 0 && g.next >= g.scene.Frames {
		return pipeline.Frame{}, io.EOF
	}
	if g.scene.Clock != nil && g.next > 0 {
		g.scene.Clock.Sleep(g.scene.Period)
	}
	f := g.render(g.next)
	g.next++
	return f, nil
}

// Frame renders frame k without jitter and without advancing the generator.
func (g *Generator) Frame(k int) pipeline.Frame {
	s := g.scene
	s.Jitter = 0
	return (&Generator{scene: s}).render(k)
}

// BlockOrigin returns the block's minimum corner at frame k.
func (g *Generator) BlockOrigin(k int) r3.Vec {
	t := (time.Duration(k) * g.scene.Period).Seconds()
	return r3.Add(g.scene.Origin, r3.Scale(t, g.scene.Velocity))
}

func (g *Generator) render(k int) pipeline.Frame {
	s := g.scene
	block := Block(g.BlockOrigin(k), s.Cells, s.Cell)

	f := pipeline.Frame{
		Seq:       uint64(k),
		Timestamp: s.Start.Add(time.Duration(k) * s.Period),
		Cloud:     make([]r3.Vec, 0, len(block)+len(s.Background)),
		Camera:    s.Camera,
	}
	for _, p := range block {
		p = g.jitter(p)
		f.Cloud = append(f.Cloud, p)
		if s.Flow {
			f.Flow = append(f.Flow, l3grid.FlowSample{Pos: p, Vel: s.Velocity})
		}
	}
	for _, p := range s.Background {
		f.Cloud = append(f.Cloud, g.jitter(p))
	}
	return f
}

func (g *Generator) jitter(p r3.Vec) r3.Vec {
	if g.scene.Jitter <= 0 {
		return p
	}
	j := g.scene.Jitter
	return r3.Vec{
		X: p.X + (g.rng.Float64()*2-1)*j,
		Y: p.Y + (g.rng.Float64()*2-1)*j,
		Z: p.Z + (g.rng.Float64()*2-1)*j,
	}
}

// StaticPlatform returns a transform source that places the platform at the
// map origin for the given frame names.
func StaticPlatform(mapFrame, poseFrame string) *transform.Static {
	s := transform.NewStatic()
	s.Set(mapFrame, poseFrame, transform.Identity())
	return s
}
