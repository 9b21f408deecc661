package db

import (
	"sync"
	"time"

	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
)

// TelemetrySink is a pipeline.Sink that writes every frame result of one
// run to the database. Write failures are logged and counted; the first
// one is kept for Err.
type TelemetrySink struct {
	db    *DB
	runID string

	mu       sync.Mutex
	frames   int64
	failures int64
	firstErr error
}

var _ pipeline.Sink = (*TelemetrySink)(nil)

// NewTelemetrySink creates the run row and returns a sink bound to it.
func NewTelemetrySink(db *DB, run *Run) (*TelemetrySink, error) {
	if err := db.CreateRun(run); err != nil {
		return nil, err
	}
	logf("run %s started (source=%s)", run.RunID, run.Source)
	return &TelemetrySink{db: db, runID: run.RunID}, nil
}

// RunID returns the run this sink writes to.
func (s *TelemetrySink) RunID() string {
	return s.runID
}

// Publish stores one frame result.
func (s *TelemetrySink) Publish(res *pipeline.FrameResult) {
	if res == nil {
		return
	}
	frame, od, obstacles := rowsFromResult(res)
	err := s.db.InsertFrame(s.runID, frame, od, obstacles)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		if s.firstErr == nil {
			s.firstErr = err
		}
		logf("frame %d not stored: %v", res.Seq, err)
		return
	}
	s.frames++
}

// Close marks the run finished.
func (s *TelemetrySink) Close() error {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if err := s.db.FinishRun(s.runID, time.Now(), frames); err != nil {
		return err
	}
	logf("run %s finished: %d frames stored", s.runID, frames)
	return nil
}

// Err returns the first write error, if any.
func (s *TelemetrySink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Stored returns how many frames were written and how many failed.
func (s *TelemetrySink) Stored() (frames, failures int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.failures
}

func rowsFromResult(res *pipeline.FrameResult) (FrameRow, *OdometryRow, []ObstacleRow) {
	frame := FrameRow{
		Seq:             res.Seq,
		Timestamp:       res.Timestamp,
		Points:          res.Stats.Points,
		Voxels:          len(res.Voxels),
		Particles:       res.Stats.Particles,
		Spawned:         res.Stats.Spawned,
		Obstacles:       len(res.Obstacles),
		Unclustered:     res.Stats.Unclustered,
		TransformReused: res.Stats.TransformReused,
		Total:           res.Stats.Phases.Total,
	}

	var od *OdometryRow
	if e := res.Odometry; e != nil {
		od = &OdometryRow{
			Seq:        res.Seq,
			Timestamp:  e.Timestamp,
			X:          e.Pose.X,
			Y:          e.Pose.Y,
			Yaw:        e.Pose.Yaw,
			VX:         e.Twist.VX,
			VY:         e.Twist.VY,
			YawRate:    e.Twist.YawRate,
			ObstacleID: e.ObstacleID,
		}
	}

	obstacles := make([]ObstacleRow, len(res.Obstacles))
	for i, o := range res.Obstacles {
		obstacles[i] = ObstacleRow{
			Seq:        res.Seq,
			ObstacleID: o.ID,
			Voxels:     len(o.Voxels),
			CX:         o.Centroid.X,
			CY:         o.Centroid.Y,
			CZ:         o.Centroid.Z,
			VX:         o.Velocity.X,
			VY:         o.Velocity.Y,
			VZ:         o.Velocity.Z,
			Speed:      o.Magnitude,
		}
	}
	return frame, od, obstacles
}
