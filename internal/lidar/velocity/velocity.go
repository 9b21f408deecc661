package velocity

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Method selects an estimation strategy.
type Method string

const (
	MethodMean         Method = "mean"
	MethodCircularHist Method = "circular_hist"
)

// ErrUnknownMethod is returned by ParseMethod for unrecognised method strings.
var ErrUnknownMethod = errors.New("unknown velocity estimation method")

// stillEpsilon is the speed below which a hypothesis counts as stationary.
const stillEpsilon = 1e-9

// ParseMethod validates a configuration string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodMean, MethodCircularHist:
		return Method(s), nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrUnknownMethod, s, MethodMean, MethodCircularHist)
}

// Params configures an estimation run.
type Params struct {
	Method Method

	// Histogram bin widths in degrees.
	YawBinDeg   float64
	PitchBinDeg float64

	// SpeedFactor is the speed quantum (m/s) applied to the winning bin's
	// mean magnitude. Zero or negative disables quantisation.
	SpeedFactor float64

	// MaxVel is the per-axis envelope. A zero vector disables clamping.
	MaxVel r3.Vec
}

// DefaultParams mirrors the tuning defaults.
func DefaultParams() Params {
	return Params{
		Method:      MethodCircularHist,
		YawBinDeg:   1.0,
		PitchBinDeg: 1.0,
		SpeedFactor: 0.1,
		MaxVel:      r3.Vec{X: 2, Y: 2, Z: 0},
	}
}

// Estimate is the output of an estimation run.
type Estimate struct {
	Velocity  r3.Vec
	Magnitude float64
	// Count is the number of hypotheses supporting the estimate: all of them
	// for the mean, the winning bin's votes for the histogram.
	Count int
	// Bin is the winning histogram bin. Still reports the stationary bin.
	Bin Bin
}

// Bin identifies a (yaw, pitch) histogram cell.
type Bin struct {
	Yaw   int
	Pitch int
	Still bool
}

// Run dispatches to the configured strategy. An empty population yields the
// zero estimate.
func Run(p Params, vels []r3.Vec) Estimate {
	if p.Method == MethodMean {
		return Mean(p, vels)
	}
	return CircularHistogram(p, vels)
}

// Mean returns the arithmetic mean of all velocity hypotheses.
func Mean(p Params, vels []r3.Vec) Estimate {
	if len(vels) == 0 {
		return Estimate{}
	}
	xs := make([]float64, len(vels))
	ys := make([]float64, len(vels))
	zs := make([]float64, len(vels))
	for i, v := range vels {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	n := float64(len(vels))
	mean := r3.Vec{X: sortedSum(xs) / n, Y: sortedSum(ys) / n, Z: sortedSum(zs) / n}
	mean = clamp(mean, p.MaxVel)
	return Estimate{Velocity: mean, Magnitude: r3.Norm(mean), Count: len(vels)}
}

type binAcc struct {
	count int
	mags  []float64
	dirs  []r3.Vec
}

// CircularHistogram bins each hypothesis by direction and reports the
// plurality bin. Direction is the mean unit vector of the bin's members and
// magnitude their mean speed, quantised to SpeedFactor. Ties go to the
// stationary bin first and then to the lowest (yaw, pitch) index, so the
// result does not depend on population order.
func CircularHistogram(p Params, vels []r3.Vec) Estimate {
	if len(vels) == 0 {
		return Estimate{}
	}
	yawW := p.YawBinDeg
	if yawW <= 0 {
		yawW = 1
	}
	pitchW := p.PitchBinDeg
	if pitchW <= 0 {
		pitchW = 1
	}
	nYaw := int(math.Round(360 / yawW))
	if nYaw < 1 {
		nYaw = 1
	}

	still := 0
	bins := make(map[Bin]*binAcc)
	for _, v := range vels {
		m := r3.Norm(v)
		if m < stillEpsilon {
			still++
			continue
		}
		yaw, pitch := YawPitch(v)
		b := Bin{
			Yaw:   posMod(int(math.Round(yaw/yawW)), nYaw),
			Pitch: int(math.Round(pitch / pitchW)),
		}
		acc, ok := bins[b]
		if !ok {
			acc = &binAcc{}
			bins[b] = acc
		}
		acc.count++
		acc.mags = append(acc.mags, m)
		acc.dirs = append(acc.dirs, r3.Scale(1/m, v))
	}

	var best Bin
	bestCount := -1
	for b, acc := range bins {
		if acc.count > bestCount || (acc.count == bestCount && binLess(b, best)) {
			best, bestCount = b, acc.count
		}
	}
	if still >= bestCount {
		return Estimate{Count: still, Bin: Bin{Still: true}}
	}

	acc := bins[best]
	sort.Slice(acc.dirs, func(i, j int) bool { return vecLess(acc.dirs[i], acc.dirs[j]) })
	var dir r3.Vec
	for _, d := range acc.dirs {
		dir = r3.Add(dir, d)
	}
	if r3.Norm(dir) < stillEpsilon {
		dir = binDirection(best, yawW, pitchW)
	} else {
		dir = r3.Unit(dir)
	}

	mag := sortedSum(acc.mags) / float64(acc.count)
	if p.SpeedFactor > 0 {
		mag = math.Round(mag/p.SpeedFactor) * p.SpeedFactor
	}
	vel := clamp(r3.Scale(mag, dir), p.MaxVel)
	return Estimate{Velocity: vel, Magnitude: r3.Norm(vel), Count: acc.count, Bin: best}
}

func binLess(a, b Bin) bool {
	if a.Yaw != b.Yaw {
		return a.Yaw < b.Yaw
	}
	return a.Pitch < b.Pitch
}

func vecLess(a, b r3.Vec) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// binDirection is the unit vector at the centre of a bin.
func binDirection(b Bin, yawW, pitchW float64) r3.Vec {
	yaw := float64(b.Yaw) * yawW * math.Pi / 180
	pitch := float64(b.Pitch) * pitchW * math.Pi / 180
	return r3.Vec{
		X: math.Cos(pitch) * math.Cos(yaw),
		Y: math.Cos(pitch) * math.Sin(yaw),
		Z: math.Sin(pitch),
	}
}

// sortedSum sums in ascending order so the result is independent of input order.
func sortedSum(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return floats.Sum(s)
}

func clamp(v, max r3.Vec) r3.Vec {
	if max == (r3.Vec{}) {
		return v
	}
	return r3.Vec{
		X: clampAxis(v.X, max.X),
		Y: clampAxis(v.Y, max.Y),
		Z: clampAxis(v.Z, max.Z),
	}
}

func clampAxis(v, max float64) float64 {
	max = math.Abs(max)
	if v > max {
		return max
	}
	if v < -max {
		return -max
	}
	return v
}

func posMod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
