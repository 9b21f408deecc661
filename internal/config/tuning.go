package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/voxel-odometry/internal/lidar/velocity"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Resampling strategies.
const (
	ResamplingCap          = "cap"
	ResamplingProportional = "proportional"
)

//go:embed tuning.schema.json
var tuningSchema string

// TuningConfig is the flat set of tracker options. Every field is optional;
// the Get* accessors supply defaults for omitted ones, so partial files are safe.
type TuningConfig struct {
	// Volume of interest
	CellSizeX *float64 `json:"cell_size_x,omitempty" yaml:"cell_size_x,omitempty"`
	CellSizeY *float64 `json:"cell_size_y,omitempty" yaml:"cell_size_y,omitempty"`
	CellSizeZ *float64 `json:"cell_size_z,omitempty" yaml:"cell_size_z,omitempty"`
	MinX      *float64 `json:"min_x,omitempty" yaml:"min_x,omitempty"`
	MaxX      *float64 `json:"max_x,omitempty" yaml:"max_x,omitempty"`
	MinY      *float64 `json:"min_y,omitempty" yaml:"min_y,omitempty"`
	MaxY      *float64 `json:"max_y,omitempty" yaml:"max_y,omitempty"`
	MinZ      *float64 `json:"min_z,omitempty" yaml:"min_z,omitempty"`
	MaxZ      *float64 `json:"max_z,omitempty" yaml:"max_z,omitempty"`

	// Velocity envelope and deadband (m/s)
	MaxVelX *float64 `json:"max_vel_x,omitempty" yaml:"max_vel_x,omitempty"`
	MaxVelY *float64 `json:"max_vel_y,omitempty" yaml:"max_vel_y,omitempty"`
	MaxVelZ *float64 `json:"max_vel_z,omitempty" yaml:"max_vel_z,omitempty"`
	MinVelX *float64 `json:"min_vel_x,omitempty" yaml:"min_vel_x,omitempty"`
	MinVelY *float64 `json:"min_vel_y,omitempty" yaml:"min_vel_y,omitempty"`
	MinVelZ *float64 `json:"min_vel_z,omitempty" yaml:"min_vel_z,omitempty"`

	// Velocity estimation
	YawIntervalDeg      *float64 `json:"yaw_interval_deg,omitempty" yaml:"yaw_interval_deg,omitempty"`
	PitchIntervalDeg    *float64 `json:"pitch_interval_deg,omitempty" yaml:"pitch_interval_deg,omitempty"`
	SpeedFactor         *float64 `json:"speed_factor,omitempty" yaml:"speed_factor,omitempty"`
	VoxelSpeedMethod    *string  `json:"voxel_speed_method,omitempty" yaml:"voxel_speed_method,omitempty"`
	ObstacleSpeedMethod *string  `json:"obstacle_speed_method,omitempty" yaml:"obstacle_speed_method,omitempty"`

	// Occupancy and particles
	OccupancyProbThresh  *float64 `json:"occupancy_prob_thresh,omitempty" yaml:"occupancy_prob_thresh,omitempty"`
	MaxParticlesPerVoxel *int     `json:"max_particles_per_voxel,omitempty" yaml:"max_particles_per_voxel,omitempty"`
	ParticlesPerVoxel    *int     `json:"particles_per_voxel,omitempty" yaml:"particles_per_voxel,omitempty"`
	Resampling           *string  `json:"resampling,omitempty" yaml:"resampling,omitempty"`
	MaxSigma             *int     `json:"max_sigma,omitempty" yaml:"max_sigma,omitempty"`
	NumThreads           *int     `json:"num_threads,omitempty" yaml:"num_threads,omitempty"`
	Seed                 *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Obstacle segmentation
	NeighborL1X          *int     `json:"neighbor_l1_x,omitempty" yaml:"neighbor_l1_x,omitempty"`
	NeighborL1Y          *int     `json:"neighbor_l1_y,omitempty" yaml:"neighbor_l1_y,omitempty"`
	NeighborL1Z          *int     `json:"neighbor_l1_z,omitempty" yaml:"neighbor_l1_z,omitempty"`
	YawThreshDeg         *float64 `json:"yaw_thresh_deg,omitempty" yaml:"yaw_thresh_deg,omitempty"`
	PitchThreshDeg       *float64 `json:"pitch_thresh_deg,omitempty" yaml:"pitch_thresh_deg,omitempty"`
	MagnitudeThresh      *float64 `json:"magnitude_thresh,omitempty" yaml:"magnitude_thresh,omitempty"`
	MinVoxelsPerObstacle *int     `json:"min_voxels_per_obstacle,omitempty" yaml:"min_voxels_per_obstacle,omitempty"`
	MinVoxelDensity      *float64 `json:"min_voxel_density,omitempty" yaml:"min_voxel_density,omitempty"`

	// Input mode
	InputFromCameras   *bool    `json:"input_from_cameras,omitempty" yaml:"input_from_cameras,omitempty"`
	UseOFlow           *bool    `json:"use_oflow,omitempty" yaml:"use_oflow,omitempty"`
	FlowMergeTolerance *float64 `json:"flow_merge_tolerance,omitempty" yaml:"flow_merge_tolerance,omitempty"`

	// Platform
	EgoExclusionX   *float64 `json:"ego_exclusion_x,omitempty" yaml:"ego_exclusion_x,omitempty"`
	EgoExclusionY   *float64 `json:"ego_exclusion_y,omitempty" yaml:"ego_exclusion_y,omitempty"`
	EgoExclusionZ   *float64 `json:"ego_exclusion_z,omitempty" yaml:"ego_exclusion_z,omitempty"`
	MaxTransformAge *string  `json:"max_transform_age,omitempty" yaml:"max_transform_age,omitempty"` // duration string like "1s"; "0s" never expires
	MapFrame        *string  `json:"map_frame,omitempty" yaml:"map_frame,omitempty"`
	PoseFrame       *string  `json:"pose_frame,omitempty" yaml:"pose_frame,omitempty"`
	CameraFrame     *string  `json:"camera_frame,omitempty" yaml:"camera_frame,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file.
// The document is checked against the embedded JSON Schema and then by
// Validate, so an unknown velocity method fails here, before any frame is
// processed.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if ext != ".json" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes, schema-checks and validates a JSON document.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	schema, err := jsonschema.CompileString("tuning.schema.json", tuningSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks option values that the schema cannot express.
func (c *TuningConfig) Validate() error {
	if _, err := velocity.ParseMethod(c.GetVoxelSpeedMethod()); err != nil {
		return fmt.Errorf("voxel_speed_method: %w", err)
	}
	if _, err := velocity.ParseMethod(c.GetObstacleSpeedMethod()); err != nil {
		return fmt.Errorf("obstacle_speed_method: %w", err)
	}

	axes := []struct {
		name         string
		lo, hi, cell float64
	}{
		{"x", c.GetMinX(), c.GetMaxX(), c.GetCellSizeX()},
		{"y", c.GetMinY(), c.GetMaxY(), c.GetCellSizeY()},
		{"z", c.GetMinZ(), c.GetMaxZ(), c.GetCellSizeZ()},
	}
	for _, a := range axes {
		if a.cell <= 0 {
			return fmt.Errorf("cell_size_%s must be positive, got %g", a.name, a.cell)
		}
		if a.hi <= a.lo {
			return fmt.Errorf("max_%s (%g) must exceed min_%s (%g)", a.name, a.hi, a.name, a.lo)
		}
	}

	if r := c.GetResampling(); r != ResamplingCap && r != ResamplingProportional {
		return fmt.Errorf("resampling must be %q or %q, got %q", ResamplingCap, ResamplingProportional, r)
	}
	if c.GetMaxParticlesPerVoxel() < 1 {
		return fmt.Errorf("max_particles_per_voxel must be at least 1, got %d", c.GetMaxParticlesPerVoxel())
	}
	if c.GetParticlesPerVoxel() < 1 {
		return fmt.Errorf("particles_per_voxel must be at least 1, got %d", c.GetParticlesPerVoxel())
	}
	if c.MaxTransformAge != nil && *c.MaxTransformAge != "" {
		d, err := time.ParseDuration(*c.MaxTransformAge)
		if err != nil {
			return fmt.Errorf("invalid max_transform_age '%s': %w", *c.MaxTransformAge, err)
		}
		if d < 0 {
			return fmt.Errorf("max_transform_age must be non-negative, got %s", d)
		}
	}
	return nil
}

func orDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func (c *TuningConfig) GetCellSizeX() float64 { return orDefault(c.CellSizeX, 0.5) }
func (c *TuningConfig) GetCellSizeY() float64 { return orDefault(c.CellSizeY, 0.5) }
func (c *TuningConfig) GetCellSizeZ() float64 { return orDefault(c.CellSizeZ, 0.5) }
func (c *TuningConfig) GetMinX() float64 { return orDefault(c.MinX, -20) }
func (c *TuningConfig) GetMaxX() float64 { return orDefault(c.MaxX, 20) }
func (c *TuningConfig) GetMinY() float64 { return orDefault(c.MinY, -20) }
func (c *TuningConfig) GetMaxY() float64 { return orDefault(c.MaxY, 20) }
func (c *TuningConfig) GetMinZ() float64 { return orDefault(c.MinZ, 0.5) }
func (c *TuningConfig) GetMaxZ() float64 { return orDefault(c.MaxZ, 3.5) }

func (c *TuningConfig) GetMaxVelX() float64 { return orDefault(c.MaxVelX, 2) }
func (c *TuningConfig) GetMaxVelY() float64 { return orDefault(c.MaxVelY, 2) }
func (c *TuningConfig) GetMaxVelZ() float64 { return orDefault(c.MaxVelZ, 0) }
func (c *TuningConfig) GetMinVelX() float64 { return orDefault(c.MinVelX, 0.3) }
func (c *TuningConfig) GetMinVelY() float64 { return orDefault(c.MinVelY, 0.3) }
func (c *TuningConfig) GetMinVelZ() float64 { return orDefault(c.MinVelZ, 0) }

func (c *TuningConfig) GetYawIntervalDeg() float64 { return orDefault(c.YawIntervalDeg, 1) }
func (c *TuningConfig) GetPitchIntervalDeg() float64 { return orDefault(c.PitchIntervalDeg, 1) }
func (c *TuningConfig) GetSpeedFactor() float64 { return orDefault(c.SpeedFactor, 0.1) }

// GetVoxelSpeedMethod returns the voxel-level estimator name.
func (c *TuningConfig) GetVoxelSpeedMethod() string {
	return orDefault(c.VoxelSpeedMethod, string(velocity.MethodCircularHist))
}

// GetObstacleSpeedMethod returns the obstacle-level estimator name.
func (c *TuningConfig) GetObstacleSpeedMethod() string {
	return orDefault(c.ObstacleSpeedMethod, string(velocity.MethodCircularHist))
}

func (c *TuningConfig) GetOccupancyProbThresh() float64 { return orDefault(c.OccupancyProbThresh, 0.5) }
func (c *TuningConfig) GetMaxParticlesPerVoxel() int { return orDefault(c.MaxParticlesPerVoxel, 30) }
func (c *TuningConfig) GetParticlesPerVoxel() int { return orDefault(c.ParticlesPerVoxel, 100) }
func (c *TuningConfig) GetResampling() string { return orDefault(c.Resampling, ResamplingCap) }
func (c *TuningConfig) GetMaxSigma() int { return orDefault(c.MaxSigma, 3) }
func (c *TuningConfig) GetNumThreads() int { return orDefault(c.NumThreads, 8) }
func (c *TuningConfig) GetSeed() uint64 { return orDefault(c.Seed, 1) }

func (c *TuningConfig) GetNeighborL1X() int { return orDefault(c.NeighborL1X, 1) }
func (c *TuningConfig) GetNeighborL1Y() int { return orDefault(c.NeighborL1Y, 1) }
func (c *TuningConfig) GetNeighborL1Z() int { return orDefault(c.NeighborL1Z, 1) }
func (c *TuningConfig) GetYawThreshDeg() float64 { return orDefault(c.YawThreshDeg, 90) }
func (c *TuningConfig) GetPitchThreshDeg() float64 { return orDefault(c.PitchThreshDeg, 9999999) }
func (c *TuningConfig) GetMagnitudeThresh() float64 { return orDefault(c.MagnitudeThresh, 9999999) }
func (c *TuningConfig) GetMinVoxelsPerObstacle() int { return orDefault(c.MinVoxelsPerObstacle, 8) }
func (c *TuningConfig) GetMinVoxelDensity() float64 { return orDefault(c.MinVoxelDensity, 0.2) }
func (c *TuningConfig) GetInputFromCameras() bool { return orDefault(c.InputFromCameras, false) }
func (c *TuningConfig) GetUseOFlow() bool { return orDefault(c.UseOFlow, false) }
func (c *TuningConfig) GetFlowMergeTolerance() float64 { return orDefault(c.FlowMergeTolerance, 0.05) }
func (c *TuningConfig) GetEgoExclusionX() float64 { return orDefault(c.EgoExclusionX, 0) }
func (c *TuningConfig) GetEgoExclusionY() float64 { return orDefault(c.EgoExclusionY, 0) }
func (c *TuningConfig) GetEgoExclusionZ() float64 { return orDefault(c.EgoExclusionZ, 0) }
func (c *TuningConfig) GetMapFrame() string { return orDefault(c.MapFrame, "/map") }
func (c *TuningConfig) GetPoseFrame() string { return orDefault(c.PoseFrame, "/base_footprint") }
func (c *TuningConfig) GetCameraFrame() string { return orDefault(c.CameraFrame, "/base_left_cam") }

// GetMaxTransformAge parses max_transform_age. Zero means a stale transform
// is reused indefinitely.
func (c *TuningConfig) GetMaxTransformAge() time.Duration {
	if c.MaxTransformAge == nil || *c.MaxTransformAge == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.MaxTransformAge)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}
