package l3grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Extent is the fixed volume of interest and its cell size.
type Extent struct {
	Min  r3.Vec `json:"min"`
	Max  r3.Vec `json:"max"`
	Cell r3.Vec `json:"cell"`
}

// DefaultExtent is the 40 m x 40 m x 3 m volume with 0.5 m cells.
func DefaultExtent() Extent {
	return Extent{
		Min:  r3.Vec{X: -20, Y: -20, Z: 0.5},
		Max:  r3.Vec{X: 20, Y: 20, Z: 3.5},
		Cell: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5},
	}
}

// Validate checks that every axis has a positive cell size and spans a whole
// number of cells.
func (e Extent) Validate() error {
	axes := []struct {
		name         string
		lo, hi, cell float64
	}{
		{"x", e.Min.X, e.Max.X, e.Cell.X},
		{"y", e.Min.Y, e.Max.Y, e.Cell.Y},
		{"z", e.Min.Z, e.Max.Z, e.Cell.Z},
	}
	for _, a := range axes {
		if a.cell <= 0 {
			return fmt.Errorf("cell size %s must be positive, got %g", a.name, a.cell)
		}
		if a.hi <= a.lo {
			return fmt.Errorf("extent %s: max %g must exceed min %g", a.name, a.hi, a.lo)
		}
		n := (a.hi - a.lo) / a.cell
		if math.Abs(n-math.Round(n)) > 1e-6 {
			return fmt.Errorf("extent %s: span %g is not a whole number of %g m cells", a.name, a.hi-a.lo, a.cell)
		}
	}
	return nil
}

// Dims returns the number of cells along each axis.
func (e Extent) Dims() Index {
	return Index{
		X: int(math.Round((e.Max.X - e.Min.X) / e.Cell.X)),
		Y: int(math.Round((e.Max.Y - e.Min.Y) / e.Cell.Y)),
		Z: int(math.Round((e.Max.Z - e.Min.Z) / e.Cell.Z)),
	}
}

// MaxCell is the largest cell edge.
func (e Extent) MaxCell() float64 {
	return math.Max(e.Cell.X, math.Max(e.Cell.Y, e.Cell.Z))
}

// HalfCell returns the cell half-extents.
func (e Extent) HalfCell() r3.Vec {
	return r3.Scale(0.5, e.Cell)
}

// IndexOf maps a world point to its cell: floor((p - min) / cell). Points
// outside [min, max) have no cell.
func (e Extent) IndexOf(p r3.Vec) (Index, bool) {
	if p.X < e.Min.X || p.Y < e.Min.Y || p.Z < e.Min.Z ||
		p.X >= e.Max.X || p.Y >= e.Max.Y || p.Z >= e.Max.Z {
		return Index{}, false
	}
	ix := e.rawIndex(p)
	return ix, e.InBounds(ix)
}

// rawIndex is the unbounded lattice coordinate of p.
func (e Extent) rawIndex(p r3.Vec) Index {
	return Index{
		X: int(math.Floor((p.X - e.Min.X) / e.Cell.X)),
		Y: int(math.Floor((p.Y - e.Min.Y) / e.Cell.Y)),
		Z: int(math.Floor((p.Z - e.Min.Z) / e.Cell.Z)),
	}
}

// InBounds reports whether ix is a lattice cell.
func (e Extent) InBounds(ix Index) bool {
	d := e.Dims()
	return ix.X >= 0 && ix.Y >= 0 && ix.Z >= 0 && ix.X < d.X && ix.Y < d.Y && ix.Z < d.Z
}

// Centre returns the world centroid of cell ix.
func (e Extent) Centre(ix Index) r3.Vec {
	return r3.Vec{
		X: e.Min.X + (float64(ix.X)+0.5)*e.Cell.X,
		Y: e.Min.Y + (float64(ix.Y)+0.5)*e.Cell.Y,
		Z: e.Min.Z + (float64(ix.Z)+0.5)*e.Cell.Z,
	}
}

// Grid is the dense lattice of optional voxels plus a compact list of the
// occupied ones in lattice order. slots holds 1+position in voxels, 0 when
// the cell is empty.
type Grid struct {
	extent Extent
	dims   Index
	slots  []int32
	voxels []*Voxel
}

// NewGrid returns an empty grid over e.
func NewGrid(e Extent) *Grid {
	d := e.Dims()
	return &Grid{
		extent: e,
		dims:   d,
		slots:  make([]int32, d.X*d.Y*d.Z),
	}
}

// Extent returns the grid's volume of interest.
func (g *Grid) Extent() Extent { return g.extent }

// Dims returns the lattice dimensions.
func (g *Grid) Dims() Index { return g.dims }

func (g *Grid) linear(ix Index) int {
	return (ix.X*g.dims.Y+ix.Y)*g.dims.Z + ix.Z
}

// Add inserts v at v.Index. It returns false if the cell is out of bounds or
// already occupied.
func (g *Grid) Add(v *Voxel) bool {
	if !g.extent.InBounds(v.Index) {
		return false
	}
	li := g.linear(v.Index)
	if g.slots[li] != 0 {
		return false
	}
	g.voxels = append(g.voxels, v)
	g.slots[li] = int32(len(g.voxels))
	return true
}

// At returns the voxel at ix, or nil.
func (g *Grid) At(ix Index) *Voxel {
	if pos, ok := g.Slot(ix); ok {
		return g.voxels[pos]
	}
	return nil
}

// Slot returns the position of the voxel at ix within Voxels.
func (g *Grid) Slot(ix Index) (int, bool) {
	if !g.extent.InBounds(ix) {
		return 0, false
	}
	s := g.slots[g.linear(ix)]
	if s == 0 {
		return 0, false
	}
	return int(s - 1), true
}

// Lookup returns the voxel containing world point p, or nil.
func (g *Grid) Lookup(p r3.Vec) *Voxel {
	ix, ok := g.extent.IndexOf(p)
	if !ok {
		return nil
	}
	return g.At(ix)
}

// Voxels returns the occupied voxels in lattice order. The slice must not be
// modified.
func (g *Grid) Voxels() []*Voxel { return g.voxels }

// Len returns the number of occupied voxels.
func (g *Grid) Len() int { return len(g.voxels) }

// ParticleCount returns the total number of live particles.
func (g *Grid) ParticleCount() int {
	n := 0
	for _, v := range g.voxels {
		n += len(v.Particles)
	}
	return n
}

// Particles returns the engine-wide particle list: every voxel's population
// concatenated in lattice order.
func (g *Grid) Particles() []Particle {
	out := make([]Particle, 0, g.ParticleCount())
	for _, v := range g.voxels {
		out = append(out, v.Particles...)
	}
	return out
}
