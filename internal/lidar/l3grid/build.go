package l3grid

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Build constructs a fresh grid from a map-frame point cloud. Every lattice
// cell whose centre has at least one cloud point within max(cell)/2 is a
// candidate; candidates whose occupancy probability exceeds the threshold
// become voxels, appended in lattice order.
func Build(cloud []r3.Vec, p BuildParams) *Grid {
	g := NewGrid(p.Extent)
	if len(cloud) == 0 {
		return g
	}

	pts := make(kdtree.Points, len(cloud))
	for i, c := range cloud {
		pts[i] = kdtree.Point{c.X, c.Y, c.Z}
	}
	tree := kdtree.New(pts, false)

	radius := p.Extent.MaxCell() / 2
	half := p.Extent.HalfCell()
	candidates := candidateCells(cloud, p.Extent, radius)
	excluded := 0
	for _, li := range candidates {
		ix := g.unlinear(li)
		centre := p.Extent.Centre(ix)
		if p.Ego.Excludes(centre) {
			excluded++
			continue
		}

		n := radiusCount(tree, centre, radius)
		if n == 0 {
			continue
		}

		prob := 1.0
		sigma := Index{}
		if p.Camera != nil {
			cc := p.Camera.MapToCamera.Apply(centre)
			if cc.Z <= 0 {
				continue
			}
			su, sv := p.Camera.Model.PixelFootprint(half, cc.Z)
			prob = float64(n) / math.Sqrt(su*sv)
			sigma = cameraSigma(p.Camera, cc.Z, p.Extent.Cell, p.MaxSigma)
		}
		if prob <= p.OccupancyThresh {
			continue
		}

		g.Add(&Voxel{
			Index:      ix,
			Centroid:   centre,
			HalfExtent: half,
			Prob:       prob,
			Points:     n,
			Sigma:      sigma,
			Method:     p.Method,
		})
	}
	tracef("build: %d points, %d candidate cells, %d ego-excluded, %d voxels",
		len(cloud), len(candidates), excluded, g.Len())
	return g
}

// candidateCells returns the linear indices of every in-bounds cell close
// enough to some cloud point to be reached by the radius query, ascending.
func candidateCells(cloud []r3.Vec, e Extent, radius float64) []int {
	reach := Index{
		X: reachCells(radius, e.Cell.X),
		Y: reachCells(radius, e.Cell.Y),
		Z: reachCells(radius, e.Cell.Z),
	}
	d := e.Dims()
	seen := make(map[int]struct{})
	for _, c := range cloud {
		base := e.rawIndex(c)
		for dx := -reach.X; dx <= reach.X; dx++ {
			for dy := -reach.Y; dy <= reach.Y; dy++ {
				for dz := -reach.Z; dz <= reach.Z; dz++ {
					ix := Index{X: base.X + dx, Y: base.Y + dy, Z: base.Z + dz}
					if !e.InBounds(ix) {
						continue
					}
					seen[(ix.X*d.Y+ix.Y)*d.Z+ix.Z] = struct{}{}
				}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for li := range seen {
		out = append(out, li)
	}
	slices.Sort(out)
	return out
}

// reachCells is how many neighbouring cells a sphere of the given radius,
// centred anywhere in a cell, can touch along one axis.
func reachCells(radius, cell float64) int {
	return int(math.Ceil(radius/cell-0.5)) + 1
}

func (g *Grid) unlinear(li int) Index {
	z := li % g.dims.Z
	li /= g.dims.Z
	return Index{X: li / g.dims.Y, Y: li % g.dims.Y, Z: z}
}

// radiusCount counts cloud points within radius of q.
func radiusCount(tree *kdtree.Tree, q r3.Vec, radius float64) int {
	keep := kdtree.NewDistKeeper(radius * radius)
	tree.NearestSet(keep, kdtree.Point{q.X, q.Y, q.Z})
	n := 0
	for _, c := range keep.Heap {
		// The keeper's heap carries a nil sentinel.
		if c.Comparable != nil {
			n++
		}
	}
	return n
}

// cameraSigma converts the camera-frame position uncertainty at depth z into
// a per-axis map-frame window in cells, bounded by max.
func cameraSigma(cam *CameraParams, z float64, cell r3.Vec, max int) Index {
	u := cam.Model.Uncertainty(z)
	m := cam.MapToCamera.Inverse().RotateAbs(u)
	return Index{
		X: clampInt(int(math.Ceil(m.X/cell.X-1e-9)), 0, max),
		Y: clampInt(int(math.Ceil(m.Y/cell.Y-1e-9)), 0, max),
		Z: clampInt(int(math.Ceil(m.Z/cell.Z-1e-9)), 0, max),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
