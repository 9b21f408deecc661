package synthetic

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
)

func TestBlock(t *testing.T) {
	pts := Block(r3.Vec{}, l3grid.Index{X: 2, Y: 1, Z: 1}, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	assert.Equal(t, []r3.Vec{{X: 0.25, Y: 0.25, Z: 0.25}, {X: 0.75, Y: 0.25, Z: 0.25}}, pts)
}

func TestGenerator_SequenceEndsWithEOF(t *testing.T) {
	s := DefaultScene()
	s.Frames = 3
	g := NewGenerator(s)
	ctx := context.Background()

	for k := 0; k < 3; k++ {
		f, err := g.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(k), f.Seq)
		assert.Equal(t, s.Start.Add(time.Duration(k)*s.Period), f.Timestamp)
		assert.Len(t, f.Cloud, 32+2)
		assert.Empty(t, f.Flow)
	}
	_, err := g.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGenerator_BlockTranslates(t *testing.T) {
	g := NewGenerator(DefaultScene())
	f0, f4 := g.Frame(0), g.Frame(4)
	// 4 frames at 0.5 s and 1 m/s is 2 m.
	for i := 0; i < 32; i++ {
		assert.InDelta(t, 2.0, f4.Cloud[i].X-f0.Cloud[i].X, 1e-12)
		assert.Equal(t, f0.Cloud[i].Y, f4.Cloud[i].Y)
	}
	// Background does not move.
	assert.Equal(t, f0.Cloud[32:], f4.Cloud[32:])
	assert.Equal(t, r3.Vec{X: -16, Y: -1, Z: 1}, g.BlockOrigin(4))
}

func TestGenerator_PointsSitOnCellCentres(t *testing.T) {
	g := NewGenerator(DefaultScene())
	ext := l3grid.DefaultExtent()
	for _, k := range []int{0, 7, 19} {
		for _, p := range g.Frame(k).Cloud {
			ix, ok := ext.IndexOf(p)
			require.True(t, ok, "point %v outside extent", p)
			assert.InDelta(t, 0, r3.Norm(r3.Sub(ext.Centre(ix), p)), 1e-9)
		}
	}
}

func TestGenerator_Flow(t *testing.T) {
	s := DefaultScene()
	s.Flow = true
	f := NewGenerator(s).Frame(2)
	require.Len(t, f.Flow, 32)
	for i, fs := range f.Flow {
		assert.Equal(t, f.Cloud[i], fs.Pos)
		assert.Equal(t, s.Velocity, fs.Vel)
	}
}

func TestGenerator_JitterIsBounded(t *testing.T) {
	s := DefaultScene()
	s.Jitter = 0.05
	g := NewGenerator(s)
	clean := g.Frame(0)
	f, err := g.Next(context.Background())
	require.NoError(t, err)
	moved := false
	for i := range f.Cloud {
		d := r3.Sub(f.Cloud[i], clean.Cloud[i])
		assert.LessOrEqual(t, abs(d.X), 0.05)
		assert.LessOrEqual(t, abs(d.Y), 0.05)
		assert.LessOrEqual(t, abs(d.Z), 0.05)
		moved = moved || d != r3.Vec{}
	}
	assert.True(t, moved)
}

func TestGenerator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(DefaultScene()).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerator_PacesOnClock(t *testing.T) {
	s := DefaultScene()
	clock := timeutil.NewMockClock(s.Start)
	s.Clock = clock
	g := NewGenerator(s)
	for k := 0; k < 3; k++ {
		_, err := g.Next(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{s.Period, s.Period}, clock.Sleeps())
}

func TestStaticPlatform(t *testing.T) {
	tf := StaticPlatform("/map", "/base_footprint")
	p, err := tf.Lookup("/map", "/base_footprint", time.Time{})
	require.NoError(t, err)
	assert.True(t, p.IsRigid())
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, p.Apply(r3.Vec{X: 1, Y: 2, Z: 3}))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
