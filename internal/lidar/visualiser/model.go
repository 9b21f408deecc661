package visualiser

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
)

// FrameBundle is the wire model for one published frame. Both the gRPC
// stream and the WebSocket stream are rendered from it.
type FrameBundle struct {
	FrameID        uint64 `msgpack:"frame_id"`
	TimestampNanos int64  `msgpack:"ts_ns"`
	MapFrame       string `msgpack:"map_frame"`

	// Pose is the platform pose, row-major.
	Pose [16]float64 `msgpack:"pose"`

	Voxels    *VoxelCloud   `msgpack:"voxels,omitempty"`
	Obstacles []Obstacle    `msgpack:"obstacles"`
	Paths     []Path        `msgpack:"paths,omitempty"`
	Odometry  *OdometryInfo `msgpack:"odometry,omitempty"`
	Stats     FrameStats    `msgpack:"stats"`
}

// VoxelCloud holds occupied voxels as parallel arrays.
type VoxelCloud struct {
	X    []float32 `msgpack:"x"`
	Y    []float32 `msgpack:"y"`
	Z    []float32 `msgpack:"z"`
	Prob []float32 `msgpack:"prob"`
	VX   []float32 `msgpack:"vx"`
	VY   []float32 `msgpack:"vy"`
	VZ   []float32 `msgpack:"vz"`
}

// Len returns the number of voxels.
func (c *VoxelCloud) Len() int {
	if c == nil {
		return 0
	}
	return len(c.X)
}

// Obstacle is one segmented obstacle.
type Obstacle struct {
	ID       int        `msgpack:"id"`
	Voxels   int        `msgpack:"voxels"`
	Centroid [3]float64 `msgpack:"centroid"`
	Min      [3]float64 `msgpack:"min"`
	Max      [3]float64 `msgpack:"max"`
	Velocity [3]float64 `msgpack:"velocity"`
	SpeedMps float64    `msgpack:"speed_mps"`
}

// Path is the projected trajectory of one obstacle's voxels.
type Path struct {
	ObstacleID int          `msgpack:"obstacle_id"`
	T          []float32    `msgpack:"t"`
	Points     [][3]float64 `msgpack:"points"`
}

// OdometryInfo is the platform motion estimate.
type OdometryInfo struct {
	X       float64 `msgpack:"x"`
	Y       float64 `msgpack:"y"`
	Yaw     float64 `msgpack:"yaw"`
	VX      float64 `msgpack:"vx"`
	VY      float64 `msgpack:"vy"`
	YawRate float64 `msgpack:"yaw_rate"`
}

// FrameStats summarises a step.
type FrameStats struct {
	Points    int     `msgpack:"points"`
	Particles int     `msgpack:"particles"`
	Spawned   int     `msgpack:"spawned"`
	TotalMs   float64 `msgpack:"total_ms"`
}

// StreamOptions selects the optional parts of a bundle.
type StreamOptions struct {
	IncludeVoxels bool
	IncludePaths  bool
}

// DefaultStreamOptions includes everything.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{IncludeVoxels: true, IncludePaths: true}
}

// BundleFromResult renders a frame result into a bundle.
func BundleFromResult(res *pipeline.FrameResult, mapFrame string) *FrameBundle {
	b := &FrameBundle{
		FrameID:        res.Seq,
		TimestampNanos: res.Timestamp.UnixNano(),
		MapFrame:       mapFrame,
		Pose:           res.Pose,
		Obstacles:      make([]Obstacle, len(res.Obstacles)),
		Stats: FrameStats{
			Points:    res.Stats.Points,
			Particles: res.Stats.Particles,
			Spawned:   res.Stats.Spawned,
			TotalMs:   float64(res.Stats.Phases.Total.Microseconds()) / 1000,
		},
	}

	n := len(res.Voxels)
	vc := &VoxelCloud{
		X: make([]float32, n), Y: make([]float32, n), Z: make([]float32, n),
		Prob: make([]float32, n),
		VX:   make([]float32, n), VY: make([]float32, n), VZ: make([]float32, n),
	}
	for i, v := range res.Voxels {
		vc.X[i], vc.Y[i], vc.Z[i] = float32(v.Centroid.X), float32(v.Centroid.Y), float32(v.Centroid.Z)
		vc.Prob[i] = float32(v.Prob)
		vc.VX[i], vc.VY[i], vc.VZ[i] = float32(v.Velocity.X), float32(v.Velocity.Y), float32(v.Velocity.Z)
	}
	b.Voxels = vc

	for i, o := range res.Obstacles {
		b.Obstacles[i] = Obstacle{
			ID:       o.ID,
			Voxels:   len(o.Voxels),
			Centroid: [3]float64{o.Centroid.X, o.Centroid.Y, o.Centroid.Z},
			Min:      [3]float64{o.BBox.Min.X, o.BBox.Min.Y, o.BBox.Min.Z},
			Max:      [3]float64{o.BBox.Max.X, o.BBox.Max.Y, o.BBox.Max.Z},
			Velocity: [3]float64{o.Velocity.X, o.Velocity.Y, o.Velocity.Z},
			SpeedMps: o.Magnitude,
		}
	}

	for _, p := range res.Paths {
		path := Path{ObstacleID: p.ObstacleID, T: make([]float32, len(p.Points)), Points: make([][3]float64, len(p.Points))}
		for i, pt := range p.Points {
			path.T[i] = float32(pt.T)
			path.Points[i] = [3]float64{pt.Pos.X, pt.Pos.Y, pt.Pos.Z}
		}
		b.Paths = append(b.Paths, path)
	}

	if od := res.Odometry; od != nil {
		b.Odometry = &OdometryInfo{
			X: od.Pose.X, Y: od.Pose.Y, Yaw: od.Pose.Yaw,
			VX: od.Twist.VX, VY: od.Twist.VY, YawRate: od.Twist.YawRate,
		}
	}
	return b
}

// Filter returns a shallow copy of b without the parts opts excludes.
func (b *FrameBundle) Filter(opts StreamOptions) *FrameBundle {
	out := *b
	if !opts.IncludeVoxels {
		out.Voxels = nil
	}
	if !opts.IncludePaths {
		out.Paths = nil
	}
	return &out
}

// ToStruct renders the bundle as a protobuf Struct for the gRPC stream.
func (b *FrameBundle) ToStruct() (*structpb.Struct, error) {
	m := map[string]interface{}{
		"frame_id":  float64(b.FrameID),
		"timestamp": time.Unix(0, b.TimestampNanos).UTC().Format(time.RFC3339Nano),
		"ts_ns":     float64(b.TimestampNanos),
		"map_frame": b.MapFrame,
		"pose":      floatList(b.Pose[:]),
		"stats": map[string]interface{}{
			"points":    b.Stats.Points,
			"particles": b.Stats.Particles,
			"spawned":   b.Stats.Spawned,
			"total_ms":  b.Stats.TotalMs,
		},
	}

	obstacles := make([]interface{}, len(b.Obstacles))
	for i, o := range b.Obstacles {
		obstacles[i] = map[string]interface{}{
			"id":        o.ID,
			"voxels":    o.Voxels,
			"centroid":  floatList(o.Centroid[:]),
			"min":       floatList(o.Min[:]),
			"max":       floatList(o.Max[:]),
			"velocity":  floatList(o.Velocity[:]),
			"speed_mps": o.SpeedMps,
		}
	}
	m["obstacles"] = obstacles

	if vc := b.Voxels; vc != nil {
		m["voxels"] = map[string]interface{}{
			"x":    float32List(vc.X),
			"y":    float32List(vc.Y),
			"z":    float32List(vc.Z),
			"prob": float32List(vc.Prob),
			"vx":   float32List(vc.VX),
			"vy":   float32List(vc.VY),
			"vz":   float32List(vc.VZ),
		}
	}

	if len(b.Paths) > 0 {
		paths := make([]interface{}, len(b.Paths))
		for i, p := range b.Paths {
			pts := make([]interface{}, len(p.Points))
			for j, pt := range p.Points {
				pts[j] = floatList(pt[:])
			}
			paths[i] = map[string]interface{}{
				"obstacle_id": p.ObstacleID,
				"t":           float32List(p.T),
				"points":      pts,
			}
		}
		m["paths"] = paths
	}

	if od := b.Odometry; od != nil {
		m["odometry"] = map[string]interface{}{
			"x": od.X, "y": od.Y, "yaw": od.Yaw,
			"vx": od.VX, "vy": od.VY, "yaw_rate": od.YawRate,
		}
	}

	return structpb.NewStruct(m)
}

func floatList(v []float64) []interface{} {
	out := make([]interface{}, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func float32List(v []float32) []interface{} {
	out := make([]interface{}, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}
