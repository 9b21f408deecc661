package pipeline

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/voxel-odometry/internal/config"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l4perception"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// Params is the engine's static configuration.
type Params struct {
	Extent          l3grid.Extent
	OccupancyThresh float64
	MaxSigma        int
	EgoHalfExtent   r3.Vec

	// MaxVel bounds spawned particle velocities per axis and clamps estimates.
	MaxVel            r3.Vec
	ParticlesPerVoxel int
	MaxParticles      int
	Resampling        string
	Threads           int
	Seed              uint64

	VoxelVelocity    velocity.Params
	ObstacleVelocity velocity.Params

	Segment  l4perception.SegmentParams
	Odometry l5odometry.Params

	InputFromCameras   bool
	UseFlow            bool
	FlowMergeTolerance float64

	// MaxTransformAge bounds how long the last good transform may stand in
	// for a failed lookup. Zero reuses it indefinitely.
	MaxTransformAge time.Duration
	MapFrame        string
	PoseFrame       string
	CameraFrame     string

	PathHorizon float64
	PathStep    float64
}

// DefaultParams returns the engine defaults, matching an empty tuning file.
func DefaultParams() Params {
	p, err := ParamsFromTuning(config.EmptyTuningConfig())
	if err != nil {
		panic(err)
	}
	return p
}

// ParamsFromTuning converts a validated tuning configuration into engine
// parameters. Method strings are parsed here as well as in Validate so a
// hand-built TuningConfig cannot slip an unknown method through.
func ParamsFromTuning(cfg *config.TuningConfig) (Params, error) {
	voxelMethod, err := velocity.ParseMethod(cfg.GetVoxelSpeedMethod())
	if err != nil {
		return Params{}, fmt.Errorf("voxel_speed_method: %w", err)
	}
	obstacleMethod, err := velocity.ParseMethod(cfg.GetObstacleSpeedMethod())
	if err != nil {
		return Params{}, fmt.Errorf("obstacle_speed_method: %w", err)
	}

	ext := l3grid.Extent{
		Min:  r3.Vec{X: cfg.GetMinX(), Y: cfg.GetMinY(), Z: cfg.GetMinZ()},
		Max:  r3.Vec{X: cfg.GetMaxX(), Y: cfg.GetMaxY(), Z: cfg.GetMaxZ()},
		Cell: r3.Vec{X: cfg.GetCellSizeX(), Y: cfg.GetCellSizeY(), Z: cfg.GetCellSizeZ()},
	}
	if err := ext.Validate(); err != nil {
		return Params{}, fmt.Errorf("grid extent: %w", err)
	}

	maxVel := r3.Vec{X: cfg.GetMaxVelX(), Y: cfg.GetMaxVelY(), Z: cfg.GetMaxVelZ()}
	vp := velocity.Params{
		YawBinDeg:   cfg.GetYawIntervalDeg(),
		PitchBinDeg: cfg.GetPitchIntervalDeg(),
		SpeedFactor: cfg.GetSpeedFactor(),
		MaxVel:      maxVel,
	}
	voxelVel, obstacleVel := vp, vp
	voxelVel.Method = voxelMethod
	obstacleVel.Method = obstacleMethod

	return Params{
		Extent:            ext,
		OccupancyThresh:   cfg.GetOccupancyProbThresh(),
		MaxSigma:          cfg.GetMaxSigma(),
		EgoHalfExtent:     r3.Vec{X: cfg.GetEgoExclusionX(), Y: cfg.GetEgoExclusionY(), Z: cfg.GetEgoExclusionZ()},
		MaxVel:            maxVel,
		ParticlesPerVoxel: cfg.GetParticlesPerVoxel(),
		MaxParticles:      cfg.GetMaxParticlesPerVoxel(),
		Resampling:        cfg.GetResampling(),
		Threads:           cfg.GetNumThreads(),
		Seed:              cfg.GetSeed(),
		VoxelVelocity:     voxelVel,
		ObstacleVelocity:  obstacleVel,
		Segment: l4perception.SegmentParams{
			Neighbor:        l3grid.Index{X: cfg.GetNeighborL1X(), Y: cfg.GetNeighborL1Y(), Z: cfg.GetNeighborL1Z()},
			YawThreshDeg:    cfg.GetYawThreshDeg(),
			PitchThreshDeg:  cfg.GetPitchThreshDeg(),
			MagnitudeThresh: cfg.GetMagnitudeThresh(),
			MinVoxels:       cfg.GetMinVoxelsPerObstacle(),
			MinDensity:      cfg.GetMinVoxelDensity(),
		},
		Odometry: l5odometry.Params{
			MinVel: r3.Vec{X: cfg.GetMinVelX(), Y: cfg.GetMinVelY(), Z: cfg.GetMinVelZ()},
		},
		InputFromCameras:   cfg.GetInputFromCameras(),
		UseFlow:            cfg.GetUseOFlow(),
		FlowMergeTolerance: cfg.GetFlowMergeTolerance(),
		MaxTransformAge:    cfg.GetMaxTransformAge(),
		MapFrame:           cfg.GetMapFrame(),
		PoseFrame:          cfg.GetPoseFrame(),
		CameraFrame:        cfg.GetCameraFrame(),
		PathHorizon:        l4perception.DefaultPathHorizon,
		PathStep:           l4perception.DefaultPathStep,
	}, nil
}
