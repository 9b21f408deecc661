package l3grid

import (
	"bytes"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

func TestSetLogWriters(t *testing.T) {
	var diag, trace bytes.Buffer
	SetLogWriters(&diag, &trace)
	defer SetLogWriters(nil, nil)

	g := Build([]r3.Vec{{X: 1.25, Y: 1.25, Z: 0.75}}, BuildParams{Extent: testExtent(), OccupancyThresh: 0.5})
	if !strings.Contains(trace.String(), "[l3grid] ") || !strings.Contains(trace.String(), "1 points") {
		t.Fatalf("expected build trace, got %q", trace.String())
	}

	InjectFlow(g, []FlowSample{
		{Pos: r3.Vec{X: 4.75, Y: 4.75, Z: 1.75}, Vel: r3.Vec{X: 0.1}},
		{Pos: r3.Vec{X: 1.25, Y: 1.25, Z: 0.75}, Vel: r3.Vec{X: 50}},
	}, 1, transform.Identity(), NewIDSource(0))
	if !strings.Contains(diag.String(), "1 of 2 samples") {
		t.Errorf("expected unoccupied flow diag, got %q", diag.String())
	}
	if !strings.Contains(trace.String(), "rejected: speed") {
		t.Errorf("expected rejected flow trace, got %q", trace.String())
	}
}

func TestSetLogWritersNil(t *testing.T) {
	SetLogWriters(nil, nil)
	if diagLogger != nil || traceLogger != nil {
		t.Fatal("loggers should be nil after SetLogWriters(nil, nil)")
	}
	diagf("dropped %d", 1)
	tracef("dropped %d", 1)
}
