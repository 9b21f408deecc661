package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l4perception"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
)

var (
	// ErrEmptyCloud marks a frame with no points. The frame is skipped and
	// the state is returned unchanged.
	ErrEmptyCloud = errors.New("empty point cloud")

	// ErrStaleTransform marks a frame whose transform lookup failed while the
	// last good transform was older than Params.MaxTransformAge.
	ErrStaleTransform = errors.New("stale transform")
)

// State is everything the engine carries from one frame to the next.
// Step consumes a State and returns its successor; the grid of the consumed
// state must not be used again.
type State struct {
	Grid      *l3grid.Grid
	Obstacles []*l4perception.VoxelObstacle
	Odometer  l5odometry.Odometer

	// Pose is the last good platform-to-map transform and PoseStamp the
	// frame time it was resolved for.
	Pose      transform.Pose
	PoseStamp time.Time
	HasPose   bool

	Initialized   bool
	LastTimestamp time.Time
	Frames        uint64

	// LastParticleID is the highest particle id issued so far.
	LastParticleID uint64
}

// Engine runs frames through the tracking phases. It holds no per-frame
// state and may be shared by goroutines stepping independent States.
type Engine struct {
	params     Params
	transforms TransformSource
	segmenter  l4perception.Segmenter
	clock      timeutil.Clock
}

// NewEngine returns an engine. A nil transform source treats the map and
// platform frames as identical.
func NewEngine(p Params, transforms TransformSource) (*Engine, error) {
	if err := p.Extent.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if p.MaxParticles < 1 || p.ParticlesPerVoxel < 1 {
		return nil, fmt.Errorf("engine: particle counts must be positive (max %d, spawn %d)", p.MaxParticles, p.ParticlesPerVoxel)
	}
	return &Engine{
		params:     p,
		transforms: transforms,
		segmenter:  l4perception.NewRegionGrower(p.Segment),
		clock:      timeutil.RealClock{},
	}, nil
}

// SetSegmenter replaces the default region grower.
func (e *Engine) SetSegmenter(s l4perception.Segmenter) { e.segmenter = s }

// SetClock replaces the clock used for phase timing.
func (e *Engine) SetClock(c timeutil.Clock) { e.clock = c }

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// NewState returns the state before the first frame.
func (e *Engine) NewState() State {
	return State{Odometer: l5odometry.NewOdometer(e.params.Odometry)}
}

// Step processes one frame. On ErrEmptyCloud or a transform failure st is
// returned unchanged with a nil result.
func (e *Engine) Step(st State, in Frame) (State, *FrameResult, error) {
	if len(in.Cloud) == 0 {
		return st, nil, fmt.Errorf("frame %d: %w", in.Seq, ErrEmptyCloud)
	}
	pose, reused, err := e.resolvePose(st, in)
	if err != nil {
		return st, nil, err
	}

	ctx := context.Background()
	p := e.params
	ids := l3grid.NewIDSource(st.LastParticleID)
	stats := FrameStats{Points: len(in.Cloud), TransformReused: reused}
	start := e.clock.Now()
	mark := start
	lap := func(d *time.Duration) {
		now := e.clock.Now()
		*d = now.Sub(mark)
		mark = now
	}

	// Grid.
	grid := l3grid.Build(in.Cloud, e.buildParams(in, pose))
	lap(&stats.Phases.Grid)
	stats.Voxels = grid.Len()

	// Flow injection.
	if p.UseFlow && len(in.Flow) > 0 {
		stats.Flow = l3grid.InjectFlow(grid, in.Flow, r3.Norm(p.MaxVel), pose, ids)
		lap(&stats.Phases.Flow)
	}

	// Measurement model.
	if e.cameraFed(in) {
		if err := l3grid.MeasurementModel(ctx, grid, p.MaxSigma, p.Threads); err != nil {
			return st, nil, fmt.Errorf("frame %d: measurement model: %w", in.Seq, err)
		}
		lap(&stats.Phases.Measurement)
	}

	next := st
	next.Grid = grid
	next.Obstacles = nil
	var odom *l5odometry.Estimate
	var paths []l4perception.PredictedPath

	if st.Initialized {
		dt := in.Timestamp.Sub(st.LastTimestamp).Seconds()
		if dt <= 0 {
			opsf("[Engine] frame %d: non-increasing timestamp (dt=%.3fs), particles held in place", in.Seq, dt)
			dt = 0
		}

		stats.Prediction = l3grid.Predict(st.Grid, grid, dt)
		if p.UseFlow {
			stats.Merged = l3grid.MergeCoLocated(grid, p.FlowMergeTolerance)
		}
		lap(&stats.Phases.Prediction)

		stats.Update = l3grid.Update(grid, e.updateParams(in, ids))
		lap(&stats.Phases.Update)

		var unclustered []int
		next.Obstacles, unclustered = e.segmenter.Segment(grid)
		stats.Obstacles, stats.Unclustered = len(next.Obstacles), len(unclustered)
		lap(&stats.Phases.Segment)

		l4perception.AggregateSpeeds(grid, next.Obstacles, p.ObstacleVelocity)
		paths = l4perception.PredictPaths(grid, next.Obstacles, p.PathHorizon, p.PathStep)
		lap(&stats.Phases.Speed)

		var est l5odometry.Estimate
		var ok bool
		next.Odometer, est, ok = st.Odometer.Advance(next.Obstacles, dt, in.Timestamp)
		if ok {
			odom = &est
		}
		lap(&stats.Phases.Odometry)
	}

	// Initialisation.
	spawned, err := l3grid.Spawn(ctx, grid, l3grid.SpawnParams{
		ParticlesPerVoxel: p.ParticlesPerVoxel,
		MaxVel:            p.MaxVel,
		Threads:           p.Threads,
		Seed:              p.Seed,
		Frame:             st.Frames,
		Pose:              pose,
	}, ids)
	if err != nil {
		return st, nil, fmt.Errorf("frame %d: spawn: %w", in.Seq, err)
	}
	stats.Spawned = spawned
	lap(&stats.Phases.Init)
	stats.Phases.Total = mark.Sub(start)
	stats.Particles = grid.ParticleCount()

	next.Initialized = true
	next.LastTimestamp = in.Timestamp
	next.Frames = st.Frames + 1
	next.LastParticleID = ids.Last()
	if !reused {
		next.Pose, next.PoseStamp, next.HasPose = pose, in.Timestamp, true
	}

	res := &FrameResult{
		Seq:       in.Seq,
		Timestamp: in.Timestamp,
		Voxels:    snapshotVoxels(grid),
		Obstacles: snapshotObstacles(grid, next.Obstacles),
		Paths:     paths,
		Odometry:  odom,
		Pose:      pose,
		Stats:     stats,
	}
	diagf("[Engine] frame %d: %d points, %d voxels, %d particles (%d spawned, %d survived), %d obstacles in %v",
		in.Seq, stats.Points, stats.Voxels, stats.Particles, stats.Spawned, stats.Prediction.Survived, stats.Obstacles, stats.Phases.Total)
	for _, o := range res.Obstacles {
		size := o.BBox.Size()
		tracef("[Engine] frame %d obstacle %d: %d voxels in %.1fx%.1fx%.1f m, velocity (%.2f, %.2f, %.2f) |%.2f|",
			in.Seq, o.ID, len(o.Voxels), size.X, size.Y, size.Z, o.Velocity.X, o.Velocity.Y, o.Velocity.Z, o.Magnitude)
	}
	return next, res, nil
}

// resolvePose looks up the platform-to-map transform for the frame, falling
// back to the last good one while it is younger than MaxTransformAge.
func (e *Engine) resolvePose(st State, in Frame) (transform.Pose, bool, error) {
	if e.transforms == nil {
		return transform.Identity(), false, nil
	}
	pose, err := e.transforms.Lookup(e.params.MapFrame, e.params.PoseFrame, in.Timestamp)
	if err == nil {
		return pose, false, nil
	}
	if !st.HasPose {
		return transform.Pose{}, false, fmt.Errorf("frame %d: no transform %s<-%s: %w", in.Seq, e.params.MapFrame, e.params.PoseFrame, err)
	}
	age := in.Timestamp.Sub(st.PoseStamp)
	if e.params.MaxTransformAge > 0 && age > e.params.MaxTransformAge {
		opsf("[Engine] frame %d: transform lookup failed (%v) and last good transform is %v old, skipping frame", in.Seq, err, age)
		return transform.Pose{}, false, fmt.Errorf("frame %d: last transform %v old: %w", in.Seq, age, ErrStaleTransform)
	}
	opsf("[Engine] frame %d: transform lookup failed (%v), reusing transform from %v ago", in.Seq, err, age)
	return st.Pose, true, nil
}

func (e *Engine) cameraFed(in Frame) bool {
	return e.params.InputFromCameras && in.Camera != nil && in.Camera.Valid()
}

func (e *Engine) buildParams(in Frame, pose transform.Pose) l3grid.BuildParams {
	p := e.params
	bp := l3grid.BuildParams{
		Extent:          p.Extent,
		OccupancyThresh: p.OccupancyThresh,
		MaxSigma:        p.MaxSigma,
		Ego:             l3grid.EgoBox{HalfExtent: p.EgoHalfExtent, MapToPlatform: pose.Inverse()},
		Method:          p.VoxelVelocity.Method,
	}
	if e.cameraFed(in) {
		bp.Camera = &l3grid.CameraParams{Model: *in.Camera, MapToCamera: e.mapToCamera(in, pose)}
	}
	return bp
}

// mapToCamera composes the platform-to-camera mount with the inverse
// platform pose. Without a mount transform the camera sits at the platform
// origin.
func (e *Engine) mapToCamera(in Frame, pose transform.Pose) transform.Pose {
	mapToPlatform := pose.Inverse()
	if e.transforms == nil {
		return mapToPlatform
	}
	mount, err := e.transforms.Lookup(e.params.CameraFrame, e.params.PoseFrame, in.Timestamp)
	if err != nil {
		diagf("[Engine] frame %d: no camera mount transform (%v), using platform origin", in.Seq, err)
		return mapToPlatform
	}
	return mount.Compose(mapToPlatform)
}

func (e *Engine) updateParams(in Frame, ids *l3grid.IDSource) l3grid.UpdateParams {
	up := l3grid.UpdateParams{
		Velocity:     e.params.VoxelVelocity,
		MaxParticles: e.params.MaxParticles,
		Resampler:    l3grid.CapResampler{},
	}
	if e.params.Resampling == "proportional" {
		up.Resampler = l3grid.ProportionalResampler{
			ParticlesPerVoxel: e.params.ParticlesPerVoxel,
			Rand:              rand.New(rand.NewPCG(e.params.Seed, in.Seq)),
			IDs:               ids,
		}
	}
	return up
}
