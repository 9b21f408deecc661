package pipeline_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/config"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/lidar/synthetic"
	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
)

// flakyTransforms serves the identity until failFrom, then fails.
type flakyTransforms struct {
	failFrom time.Time
}

func (f flakyTransforms) Lookup(target, source string, at time.Time) (transform.Pose, error) {
	if !f.failFrom.IsZero() && !at.Before(f.failFrom) {
		return transform.Pose{}, fmt.Errorf("%w: %s <- %s at %v", transform.ErrNoTransform, target, source, at)
	}
	return transform.Identity(), nil
}

func newEngine(t *testing.T, p pipeline.Params, tf pipeline.TransformSource) *pipeline.Engine {
	t.Helper()
	e, err := pipeline.NewEngine(p, tf)
	require.NoError(t, err)
	return e
}

// blockOnly is the default scene without background.
func blockOnly() synthetic.Scene {
	s := synthetic.DefaultScene()
	s.Background = nil
	return s
}

func step(t *testing.T, e *pipeline.Engine, st pipeline.State, f pipeline.Frame) (pipeline.State, *pipeline.FrameResult) {
	t.Helper()
	next, res, err := e.Step(st, f)
	require.NoError(t, err)
	require.NotNil(t, res)
	return next, res
}

// -----------------------------------------------------------------------------
// Parameters
// -----------------------------------------------------------------------------

func TestParamsFromTuning(t *testing.T) {
	mean := "mean"
	cfg := &config.TuningConfig{VoxelSpeedMethod: &mean}
	p, err := pipeline.ParamsFromTuning(cfg)
	require.NoError(t, err)

	assert.Equal(t, velocity.MethodMean, p.VoxelVelocity.Method)
	assert.Equal(t, velocity.MethodCircularHist, p.ObstacleVelocity.Method)
	assert.Equal(t, r3.Vec{X: 2, Y: 2}, p.VoxelVelocity.MaxVel)
	assert.Equal(t, 30, p.MaxParticles)
	assert.Equal(t, 100, p.ParticlesPerVoxel)
	assert.Equal(t, time.Second, p.MaxTransformAge)
	assert.Equal(t, 8, p.Segment.MinVoxels)
	assert.Equal(t, 80, p.Extent.Dims().X)
}

func TestParamsFromTuning_UnknownMethod(t *testing.T) {
	bad := "median"
	_, err := pipeline.ParamsFromTuning(&config.TuningConfig{ObstacleSpeedMethod: &bad})
	assert.ErrorIs(t, err, velocity.ErrUnknownMethod)
}

func TestParamsFromTuning_DefaultsFile(t *testing.T) {
	p, err := pipeline.ParamsFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultParams(), p)
}

func TestNewEngine_RejectsBadParams(t *testing.T) {
	p := pipeline.DefaultParams()
	p.MaxParticles = 0
	_, err := pipeline.NewEngine(p, nil)
	assert.Error(t, err)

	p = pipeline.DefaultParams()
	p.Extent.Cell.X = 0.3
	_, err = pipeline.NewEngine(p, nil)
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// Frame handling
// -----------------------------------------------------------------------------

func TestStep_FirstFrameInitialises(t *testing.T) {
	e := newEngine(t, pipeline.DefaultParams(), nil)
	g := synthetic.NewGenerator(synthetic.DefaultScene())

	st, res := step(t, e, e.NewState(), g.Frame(0))

	assert.True(t, st.Initialized)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Len(t, res.Voxels, 34)
	for _, v := range res.Voxels {
		assert.Equal(t, 1.0, v.Prob)
		assert.Equal(t, 100, v.Particles)
	}
	assert.Equal(t, 3400, res.Stats.Spawned)
	assert.Equal(t, 3400, res.Stats.Particles)
	assert.Equal(t, uint64(3400), st.LastParticleID)
	assert.Nil(t, res.Odometry, "no odometry before the first prediction")
	assert.Empty(t, res.Obstacles)
	assert.Zero(t, res.Stats.Prediction.Before)
}

func TestStep_EmptyCloudKeepsState(t *testing.T) {
	e := newEngine(t, pipeline.DefaultParams(), nil)
	g := synthetic.NewGenerator(synthetic.DefaultScene())
	st, _ := step(t, e, e.NewState(), g.Frame(0))

	empty := pipeline.Frame{Seq: 1, Timestamp: g.Frame(1).Timestamp}
	next, res, err := e.Step(st, empty)
	assert.ErrorIs(t, err, pipeline.ErrEmptyCloud)
	assert.Nil(t, res)
	assert.Same(t, st.Grid, next.Grid)
	assert.Equal(t, st.Frames, next.Frames)
	assert.Equal(t, st.LastTimestamp, next.LastTimestamp)
	assert.Equal(t, 3400, next.Grid.ParticleCount())
}

func TestStep_ConservesParticlesUnderPrediction(t *testing.T) {
	p := pipeline.DefaultParams()
	p.Threads = 2
	e := newEngine(t, p, nil)
	g := synthetic.NewGenerator(synthetic.DefaultScene())

	st, res := step(t, e, e.NewState(), g.Frame(0))
	for k := 1; k < 8; k++ {
		before := res.Stats.Particles
		st, res = step(t, e, st, g.Frame(k))
		pr := res.Stats.Prediction
		assert.Equal(t, before, pr.Before, "frame %d", k)
		assert.Equal(t, pr.Before, pr.OutOfBounds+pr.Unoccupied+pr.Survived, "frame %d", k)
		assert.Equal(t, pr.Survived-res.Stats.Update.Removed+res.Stats.Spawned, res.Stats.Particles, "frame %d", k)
	}
}

func TestStep_PopulationBound(t *testing.T) {
	p := pipeline.DefaultParams()
	p.ParticlesPerVoxel = 20
	p.MaxParticles = 12
	e := newEngine(t, p, nil)
	g := synthetic.NewGenerator(synthetic.DefaultScene())

	st, _ := step(t, e, e.NewState(), g.Frame(0))
	for k := 1; k < 10; k++ {
		var res *pipeline.FrameResult
		st, res = step(t, e, st, g.Frame(k))
		for _, v := range res.Voxels {
			// Voxels respawned this frame hold ParticlesPerVoxel; all others were capped.
			if v.Particles != 20 {
				assert.LessOrEqual(t, v.Particles, 12, "frame %d voxel %v", k, v.Index)
			}
		}
	}
}

func TestStep_DeterministicForSeed(t *testing.T) {
	run := func() []pipeline.VoxelOutput {
		e := newEngine(t, pipeline.DefaultParams(), nil)
		g := synthetic.NewGenerator(synthetic.DefaultScene())
		st := e.NewState()
		var res *pipeline.FrameResult
		for k := 0; k < 6; k++ {
			st, res = step(t, e, st, g.Frame(k))
		}
		return res.Voxels
	}
	assert.Equal(t, run(), run())
}

func TestStep_PhaseTimes(t *testing.T) {
	e := newEngine(t, pipeline.DefaultParams(), nil)
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.SetAutoStep(time.Millisecond)
	e.SetClock(clock)
	g := synthetic.NewGenerator(synthetic.DefaultScene())

	st, res := step(t, e, e.NewState(), g.Frame(0))
	assert.Equal(t, time.Millisecond, res.Stats.Phases.Grid)
	assert.Zero(t, res.Stats.Phases.Prediction)
	assert.Equal(t, time.Millisecond, res.Stats.Phases.Init)
	assert.Equal(t, 2*time.Millisecond, res.Stats.Phases.Total)

	_, res = step(t, e, st, g.Frame(1))
	ph := res.Stats.Phases
	assert.Equal(t, time.Millisecond, ph.Prediction)
	assert.Equal(t, time.Millisecond, ph.Segment)
	assert.Equal(t, time.Millisecond, ph.Odometry)
	assert.Equal(t, 7*time.Millisecond, ph.Total)
}

// -----------------------------------------------------------------------------
// Transforms
// -----------------------------------------------------------------------------

func TestStep_ReusesTransformUntilStale(t *testing.T) {
	g := synthetic.NewGenerator(synthetic.DefaultScene())
	tf := flakyTransforms{failFrom: g.Frame(1).Timestamp}
	e := newEngine(t, pipeline.DefaultParams(), tf)

	st, res := step(t, e, e.NewState(), g.Frame(0))
	assert.False(t, res.Stats.TransformReused)
	stamp := st.PoseStamp

	// 0.5 s and 1.0 s old: reused.
	st, res = step(t, e, st, g.Frame(1))
	assert.True(t, res.Stats.TransformReused)
	st, res = step(t, e, st, g.Frame(2))
	assert.True(t, res.Stats.TransformReused)
	assert.Equal(t, stamp, st.PoseStamp)

	// 1.5 s old: skipped.
	next, res, err := e.Step(st, g.Frame(3))
	assert.ErrorIs(t, err, pipeline.ErrStaleTransform)
	assert.Nil(t, res)
	assert.Equal(t, st.Frames, next.Frames)
	assert.Same(t, st.Grid, next.Grid)
}

func TestStep_UnboundedTransformReuse(t *testing.T) {
	g := synthetic.NewGenerator(synthetic.DefaultScene())
	p := pipeline.DefaultParams()
	p.MaxTransformAge = 0
	e := newEngine(t, p, flakyTransforms{failFrom: g.Frame(1).Timestamp})

	st, _ := step(t, e, e.NewState(), g.Frame(0))
	for k := 1; k < 6; k++ {
		var res *pipeline.FrameResult
		st, res = step(t, e, st, g.Frame(k))
		assert.True(t, res.Stats.TransformReused)
	}
}

func TestStep_NoTransformEver(t *testing.T) {
	g := synthetic.NewGenerator(synthetic.DefaultScene())
	e := newEngine(t, pipeline.DefaultParams(), flakyTransforms{failFrom: g.Frame(0).Timestamp})

	st := e.NewState()
	next, res, err := e.Step(st, g.Frame(0))
	assert.ErrorIs(t, err, transform.ErrNoTransform)
	assert.False(t, errors.Is(err, pipeline.ErrStaleTransform))
	assert.Nil(t, res)
	assert.False(t, next.Initialized)
}

func TestStep_EgoExclusion(t *testing.T) {
	s := synthetic.DefaultScene()
	s.Background = synthetic.Block(r3.Vec{X: -1, Y: -1, Z: 1}, l3grid.Index{X: 4, Y: 4, Z: 1}, s.Cell)
	g := synthetic.NewGenerator(s)

	p := pipeline.DefaultParams()
	p.EgoHalfExtent = r3.Vec{X: 1, Y: 1, Z: 5}
	e := newEngine(t, p, synthetic.StaticPlatform(p.MapFrame, p.PoseFrame))

	_, res := step(t, e, e.NewState(), g.Frame(0))
	assert.Len(t, res.Voxels, 32, "background around the platform is excluded")
}

// -----------------------------------------------------------------------------
// Convergence
// -----------------------------------------------------------------------------

// averageTail steps e over frames of g and averages the primary obstacle's
// velocity and the platform twist over the last tail frames.
func averageTail(t *testing.T, e *pipeline.Engine, g *synthetic.Generator, frames, tail int) (pipeline.State, r3.Vec, r3.Vec) {
	t.Helper()
	st := e.NewState()
	var vel, twist r3.Vec
	n := 0
	var res *pipeline.FrameResult
	for k := 0; k < frames; k++ {
		st, res = step(t, e, st, g.Frame(k))
		if k < frames-tail || len(res.Obstacles) == 0 {
			continue
		}
		vel = r3.Add(vel, res.Obstacles[0].Velocity)
		require.NotNil(t, res.Odometry)
		twist = r3.Add(twist, r3.Vec{X: res.Odometry.Twist.VX, Y: res.Odometry.Twist.VY})
		n++
	}
	require.GreaterOrEqual(t, n, tail/2, "obstacle found in too few frames")
	return st, r3.Scale(1/float64(n), vel), r3.Scale(1/float64(n), twist)
}

func TestStep_ConvergesOnRigidTranslation(t *testing.T) {
	p := pipeline.DefaultParams()
	require.Equal(t, velocity.MethodCircularHist, p.ObstacleVelocity.Method)
	require.NotZero(t, p.MaxVel.Y, "envelope admits lateral velocity")
	p.Threads = 4
	e := newEngine(t, p, nil)
	g := synthetic.NewGenerator(blockOnly())

	st, avg, twist := averageTail(t, e, g, 56, 10)
	assert.InDelta(t, 1.0, r3.Norm(avg), 0.1)
	assert.InDelta(t, 1.0, avg.X, 0.1)
	assert.InDelta(t, 0.0, avg.Y, 0.1)
	assert.InDelta(t, 0.0, avg.Z, 1e-9)

	// The platform sees the world move +x, so it moves -x.
	assert.InDelta(t, -1.0, twist.X, 0.1)
	assert.InDelta(t, 0.0, twist.Y, 0.1)
	assert.Less(t, st.Odometer.Pose.X, -12.0)
}

// The mean estimator averages every surviving particle, so an envelope that
// admits lateral velocity biases it toward the spread of the cloud. It only
// converges when the envelope is confined to the motion axis.
func TestStep_MeanConvergesWithOnAxisEnvelope(t *testing.T) {
	p := pipeline.DefaultParams()
	p.MaxVel = r3.Vec{X: 1.2}
	p.VoxelVelocity.Method, p.VoxelVelocity.MaxVel = velocity.MethodMean, p.MaxVel
	p.ObstacleVelocity.Method, p.ObstacleVelocity.MaxVel = velocity.MethodMean, p.MaxVel
	p.Threads = 4
	e := newEngine(t, p, nil)
	g := synthetic.NewGenerator(blockOnly())

	st, avg, _ := averageTail(t, e, g, 40, 10)
	assert.InDelta(t, 1.0, avg.X, 0.35)
	assert.InDelta(t, 0.0, avg.Y, 1e-9)
	assert.InDelta(t, 0.0, avg.Z, 1e-9)
	assert.Less(t, st.Odometer.Pose.X, -12.0)
}

func TestStep_FlowSeedsExactVelocity(t *testing.T) {
	for _, method := range []velocity.Method{velocity.MethodMean, velocity.MethodCircularHist} {
		t.Run(string(method), func(t *testing.T) {
			p := pipeline.DefaultParams()
			p.UseFlow = true
			p.VoxelVelocity.Method = method
			p.ObstacleVelocity.Method = method
			e := newEngine(t, p, nil)
			s := blockOnly()
			s.Flow = true
			g := synthetic.NewGenerator(s)

			st, res := step(t, e, e.NewState(), g.Frame(0))
			assert.Equal(t, 32, res.Stats.Flow.Injected)
			assert.Zero(t, res.Stats.Spawned, "flow-seeded voxels are not spawned into")

			for k := 1; k < 10; k++ {
				st, res = step(t, e, st, g.Frame(k))
				assert.Equal(t, 32, res.Stats.Flow.Injected)
				assert.Equal(t, 32, res.Stats.Merged, "frame %d", k)
				assert.Equal(t, 32, res.Stats.Prediction.Survived)
				require.Len(t, res.Obstacles, 1)
				o := res.Obstacles[0]
				assert.Len(t, o.Voxels, 32)
				assert.InDelta(t, 1.0, o.Velocity.X, 1e-6)
				assert.InDelta(t, 1.0, o.Magnitude, 1e-6)
				require.NotNil(t, res.Odometry)
				assert.InDelta(t, -1.0, res.Odometry.Twist.VX, 1e-6)
			}
			assert.InDelta(t, -4.5, st.Odometer.Pose.X, 1e-6)
			assert.NotEmpty(t, res.Paths)
		})
	}
}

// -----------------------------------------------------------------------------
// Camera input
// -----------------------------------------------------------------------------

func TestStep_CameraMeasurementModel(t *testing.T) {
	s := synthetic.DefaultScene()
	s.Camera = &transform.StereoModel{Fx: 1, Fy: 1, Baseline: 0.1}
	g := synthetic.NewGenerator(s)

	p := pipeline.DefaultParams()
	p.InputFromCameras = true
	e := newEngine(t, p, nil)

	_, res := step(t, e, e.NewState(), g.Frame(0))
	require.Len(t, res.Voxels, 34)
	block, post := 0, 0
	for _, v := range res.Voxels {
		switch {
		case v.Centroid.X < 0:
			// Every block voxel lies in every other's ±3 window: 32 votes over 3·7.
			assert.InDelta(t, 32.0/21.0, v.Prob, 1e-12)
			assert.Equal(t, 100, v.Particles)
			block++
		default:
			assert.InDelta(t, 2.0/21.0, v.Prob, 1e-12)
			assert.Equal(t, 10, v.Particles)
			post++
		}
	}
	assert.Equal(t, 32, block)
	assert.Equal(t, 2, post)
}

func TestStep_CameraIgnoredWhenDisabled(t *testing.T) {
	s := synthetic.DefaultScene()
	s.Camera = &transform.StereoModel{Fx: 1, Fy: 1}
	e := newEngine(t, pipeline.DefaultParams(), nil)

	_, res := step(t, e, e.NewState(), synthetic.NewGenerator(s).Frame(0))
	for _, v := range res.Voxels {
		assert.Equal(t, 1.0, v.Prob)
	}
}
