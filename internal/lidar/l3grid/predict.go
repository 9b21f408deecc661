package l3grid

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// PredictionStats accounts for every particle offered to Predict:
// Before == OutOfBounds + Unoccupied + Survived.
type PredictionStats struct {
	Before      int
	OutOfBounds int
	Unoccupied  int
	Survived    int
}

// Predict moves every particle of prev forward by dt seconds and hands the
// survivors to the voxel of next that contains them. Particles that leave
// the extent or land in an empty cell are dropped. prev's populations are
// consumed.
func Predict(prev, next *Grid, dt float64) PredictionStats {
	var st PredictionStats
	if prev == nil {
		return st
	}
	ext := next.Extent()
	for _, v := range prev.Voxels() {
		for _, p := range v.Particles {
			st.Before++
			p.Advance(dt)
			ix, ok := ext.IndexOf(p.Pos)
			if !ok {
				st.OutOfBounds++
				continue
			}
			dst := next.At(ix)
			if dst == nil {
				st.Unoccupied++
				continue
			}
			dst.Particles = append(dst.Particles, p)
			st.Survived++
		}
		v.Particles = nil
	}
	return st
}

// MergeCoLocated collapses particles of the same voxel whose positions lie
// within tol of each other. A merged particle keeps the position of the
// first member, the mean velocity, the maximum age and the lowest id.
// It returns the number of particles removed.
func MergeCoLocated(g *Grid, tol float64) int {
	removed := 0
	tol2 := tol * tol
	for _, v := range g.Voxels() {
		if len(v.Particles) < 2 {
			continue
		}
		v.SortParticles()
		merged := make([]Particle, 0, len(v.Particles))
		counts := make([]int, 0, len(v.Particles))
		for _, p := range v.Particles {
			j := -1
			for k := range merged {
				if r3.Norm2(r3.Sub(merged[k].Pos, p.Pos)) <= tol2 {
					j = k
					break
				}
			}
			if j < 0 {
				merged = append(merged, p)
				counts = append(counts, 1)
				continue
			}
			m := &merged[j]
			n := float64(counts[j])
			m.Vel = r3.Scale(1/(n+1), r3.Add(r3.Scale(n, m.Vel), p.Vel))
			if p.Age > m.Age {
				m.Age = p.Age
			}
			if p.ID < m.ID {
				m.ID = p.ID
			}
			counts[j]++
			removed++
		}
		v.Particles = merged
	}
	return removed
}
