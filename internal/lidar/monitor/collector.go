package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
)

// DefaultHistory is the number of frames a Collector keeps.
const DefaultHistory = 600

// Sample is the per-frame summary kept for charts.
type Sample struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Points    int `json:"points"`
	Voxels    int `json:"voxels"`
	Particles int `json:"particles"`
	Obstacles int `json:"obstacles"`

	// ObstacleSpeed is the magnitude of the first obstacle, valid when
	// Obstacles > 0.
	ObstacleSpeed float64 `json:"obstacle_speed"`

	HasOdometry bool               `json:"has_odometry"`
	Pose        l5odometry.Pose2D  `json:"pose"`
	Twist       l5odometry.Twist2D `json:"twist"`

	TotalMs float64 `json:"total_ms"`
}

// Collector is a pipeline.Sink that keeps a bounded history of frame
// summaries and the latest voxel snapshot.
type Collector struct {
	mu       sync.RWMutex
	capacity int
	samples  []Sample
	voxels   []pipeline.VoxelOutput
	frames   uint64
}

var _ pipeline.Sink = (*Collector)(nil)

// NewCollector keeps up to capacity samples; capacity <= 0 means
// DefaultHistory.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Collector{capacity: capacity}
}

// Publish records one frame.
func (c *Collector) Publish(res *pipeline.FrameResult) {
	if res == nil {
		return
	}
	s := Sample{
		Seq:       res.Seq,
		Timestamp: res.Timestamp,
		Points:    res.Stats.Points,
		Voxels:    len(res.Voxels),
		Particles: res.Stats.Particles,
		Obstacles: len(res.Obstacles),
		TotalMs:   float64(res.Stats.Phases.Total.Microseconds()) / 1000,
	}
	if len(res.Obstacles) > 0 {
		s.ObstacleSpeed = res.Obstacles[0].Magnitude
	}
	if od := res.Odometry; od != nil {
		s.HasOdometry = true
		s.Pose = od.Pose
		s.Twist = od.Twist
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	if len(c.samples) == c.capacity {
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:len(c.samples)-1]
	}
	c.samples = append(c.samples, s)
	// Result slices are never modified after publication.
	c.voxels = res.Voxels
}

// Samples returns a copy of the history, oldest first.
func (c *Collector) Samples() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Latest returns the most recent sample.
func (c *Collector) Latest() (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return Sample{}, false
	}
	return c.samples[len(c.samples)-1], true
}

// LatestVoxels returns the voxel snapshot of the most recent frame.
func (c *Collector) LatestVoxels() []pipeline.VoxelOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voxels
}

// Frames returns the number of frames seen, including those evicted from
// the history.
func (c *Collector) Frames() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames
}
