package l3grid

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

// FlowSample is one externally observed motion vector in the map frame.
type FlowSample struct {
	Pos r3.Vec `json:"pos"`
	Vel r3.Vec `json:"vel"`
}

// FlowStats accounts for the samples offered to InjectFlow.
type FlowStats struct {
	Offered    int
	TooFast    int
	Unoccupied int
	Injected   int
}

// InjectFlow seeds a particle for each flow sample whose speed does not
// exceed maxSpeed and whose cell is occupied. The new particle's age is two
// more than the oldest particle already in that voxel, so it sorts ahead of
// inferred hypotheses.
func InjectFlow(g *Grid, samples []FlowSample, maxSpeed float64, pose transform.Pose, ids *IDSource) FlowStats {
	st := FlowStats{Offered: len(samples)}
	for _, s := range samples {
		if r3.Norm(s.Vel) > maxSpeed {
			tracef("flow sample at %v rejected: speed %.2f > %.2f", s.Pos, r3.Norm(s.Vel), maxSpeed)
			st.TooFast++
			continue
		}
		v := g.Lookup(s.Pos)
		if v == nil {
			st.Unoccupied++
			continue
		}
		age := v.OldestAge()
		if age < 0 {
			age = 0
		}
		v.Particles = append(v.Particles, Particle{
			ID:      ids.Next(),
			Pos:     s.Pos,
			PrevPos: s.Pos,
			Vel:     s.Vel,
			Age:     age + 2,
			Source:  SourceFlow,
			Pose:    pose,
		})
		st.Injected++
	}
	if st.Unoccupied > 0 {
		diagf("flow: %d of %d samples fell outside occupied voxels", st.Unoccupied, st.Offered)
	}
	return st
}
