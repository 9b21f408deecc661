package velocity

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func repeat(v r3.Vec, n int) []r3.Vec {
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"mean", MethodMean, false},
		{"circular_hist", MethodCircularHist, false},
		{"median", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownMethod))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// -----------------------------------------------------------------------------
// Mean
// -----------------------------------------------------------------------------

func TestMean_SingleVoxelScenario(t *testing.T) {
	p := DefaultParams()
	est := Mean(p, repeat(r3.Vec{X: 1}, 10))
	assert.InDelta(t, 1.0, est.Velocity.X, 1e-12)
	assert.InDelta(t, 0.0, est.Velocity.Y, 1e-12)
	assert.InDelta(t, 0.0, est.Velocity.Z, 1e-12)
	assert.InDelta(t, 1.0, est.Magnitude, 1e-12)
	assert.Equal(t, 10, est.Count)
}

func TestMean_Empty(t *testing.T) {
	est := Mean(DefaultParams(), nil)
	assert.Equal(t, Estimate{}, est)
}

func TestMean_ClampsToEnvelope(t *testing.T) {
	p := DefaultParams()
	p.MaxVel = r3.Vec{X: 1, Y: 1, Z: 0}
	est := Mean(p, repeat(r3.Vec{X: 3, Y: -0.5, Z: 2}, 4))
	assert.Equal(t, r3.Vec{X: 1, Y: -0.5, Z: 0}, est.Velocity)
	assert.InDelta(t, math.Hypot(1, 0.5), est.Magnitude, 1e-12)
}

func TestMean_NoClampWhenEnvelopeZero(t *testing.T) {
	p := DefaultParams()
	p.MaxVel = r3.Vec{}
	est := Mean(p, repeat(r3.Vec{X: 5}, 3))
	assert.InDelta(t, 5.0, est.Velocity.X, 1e-12)
}

// -----------------------------------------------------------------------------
// CircularHistogram
// -----------------------------------------------------------------------------

func TestCircularHistogram_SingleVoxelScenario(t *testing.T) {
	p := DefaultParams()
	p.YawBinDeg = 90
	p.PitchBinDeg = 90
	est := CircularHistogram(p, repeat(r3.Vec{X: 1}, 10))
	assert.Equal(t, Bin{Yaw: 0, Pitch: 0}, est.Bin)
	assert.InDelta(t, 1.0, est.Magnitude, 1e-9)
	assert.InDelta(t, 1.0, est.Velocity.X, 1e-9)
	assert.Equal(t, 10, est.Count)
}

func TestCircularHistogram_RejectsOutliers(t *testing.T) {
	p := DefaultParams()
	p.YawBinDeg = 10
	p.PitchBinDeg = 10
	vels := repeat(r3.Vec{X: 1}, 7)
	vels = append(vels, r3.Vec{X: -1.9}, r3.Vec{Y: 1.9}, r3.Vec{Y: -1.9})
	hist := CircularHistogram(p, vels)
	mean := Mean(p, vels)

	assert.InDelta(t, 1.0, hist.Velocity.X, 1e-9)
	assert.InDelta(t, 0.0, hist.Velocity.Y, 1e-9)
	assert.Less(t, mean.Velocity.X, 0.6, "mean is dragged by outliers")
}

func TestCircularHistogram_YawWrapsAround(t *testing.T) {
	p := DefaultParams()
	p.YawBinDeg = 90
	// 179 deg and -179 deg land in the same (yaw=180) bin.
	a := r3.Vec{X: math.Cos(179 * math.Pi / 180), Y: math.Sin(179 * math.Pi / 180)}
	b := r3.Vec{X: math.Cos(-179 * math.Pi / 180), Y: math.Sin(-179 * math.Pi / 180)}
	est := CircularHistogram(p, []r3.Vec{a, b, {Y: 1}})
	assert.Equal(t, 2, est.Bin.Yaw)
	assert.Equal(t, 2, est.Count)
	assert.InDelta(t, -1.0, est.Velocity.X, 1e-9)
	assert.InDelta(t, 0.0, est.Velocity.Y, 1e-9)
}

func TestCircularHistogram_SpeedFactorQuantises(t *testing.T) {
	p := DefaultParams()
	p.YawBinDeg = 90
	p.SpeedFactor = 0.5
	est := CircularHistogram(p, []r3.Vec{{X: 1.1}, {X: 1.3}})
	assert.InDelta(t, 1.0, est.Magnitude, 1e-9)

	p.SpeedFactor = 0
	est = CircularHistogram(p, []r3.Vec{{X: 1.1}, {X: 1.3}})
	assert.InDelta(t, 1.2, est.Magnitude, 1e-9)
}

func TestCircularHistogram_TieBreakIsOrderIndependent(t *testing.T) {
	p := DefaultParams()
	p.YawBinDeg = 45
	vels := []r3.Vec{
		{X: 1}, {X: 1.2},
		{Y: 1}, {Y: 0.8},
		{X: -1}, {X: -1.5},
		{X: 0.7, Y: 0.7}, {X: 0.75, Y: 0.7},
	}
	want := CircularHistogram(p, vels)
	assert.Equal(t, Bin{Yaw: 0, Pitch: 0}, want.Bin)

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 50; i++ {
		shuffled := append([]r3.Vec(nil), vels...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := CircularHistogram(p, shuffled)
		require.Equal(t, want, got, "iteration %d", i)
	}
}

func TestCircularHistogram_StillBinWinsTies(t *testing.T) {
	p := DefaultParams()
	est := CircularHistogram(p, []r3.Vec{{}, {}, {X: 1}, {X: 1}})
	assert.True(t, est.Bin.Still)
	assert.Equal(t, r3.Vec{}, est.Velocity)
	assert.Equal(t, 0.0, est.Magnitude)
}

func TestEstimators_ZeroMotion(t *testing.T) {
	zeros := repeat(r3.Vec{}, 12)
	for _, m := range []Method{MethodMean, MethodCircularHist} {
		t.Run(string(m), func(t *testing.T) {
			p := DefaultParams()
			p.Method = m
			est := Run(p, zeros)
			assert.Equal(t, r3.Vec{}, est.Velocity)
			assert.Equal(t, 0.0, est.Magnitude)
		})
	}
}

func TestEstimators_Empty(t *testing.T) {
	for _, m := range []Method{MethodMean, MethodCircularHist} {
		p := DefaultParams()
		p.Method = m
		assert.Equal(t, Estimate{}, Run(p, nil), string(m))
	}
}

// -----------------------------------------------------------------------------
// Angles
// -----------------------------------------------------------------------------

func TestYawPitch(t *testing.T) {
	yaw, pitch := YawPitch(r3.Vec{X: 0, Y: 2, Z: 0})
	assert.InDelta(t, 90.0, yaw, 1e-9)
	assert.InDelta(t, 0.0, pitch, 1e-9)

	yaw, pitch = YawPitch(r3.Vec{X: 1, Y: 0, Z: 1})
	assert.InDelta(t, 0.0, yaw, 1e-9)
	assert.InDelta(t, 45.0, pitch, 1e-9)
}

func TestAngleDiffDeg(t *testing.T) {
	assert.InDelta(t, 5.0, AngleDiffDeg(2.5, -2.5), 1e-9)
	assert.InDelta(t, 2.0, AngleDiffDeg(179, -179), 1e-9)
	assert.InDelta(t, 170.0, AngleDiffDeg(0, 170), 1e-9)
}

func TestWrapRad(t *testing.T) {
	assert.InDelta(t, -math.Pi/2, WrapRad(3*math.Pi/2), 1e-12)
	assert.InDelta(t, 0.0, WrapRad(2*math.Pi), 1e-12)
}
