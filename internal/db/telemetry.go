package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one engine run.
type Run struct {
	RunID      string
	Source     string
	ConfigJSON string
	Started    time.Time
	Finished   *time.Time
	Frames     int64
}

// FrameRow is the per-frame telemetry row.
type FrameRow struct {
	Seq             uint64
	Timestamp       time.Time
	Points          int
	Voxels          int
	Particles       int
	Spawned         int
	Obstacles       int
	Unclustered     int
	TransformReused bool
	Total           time.Duration
}

// OdometryRow is one odometry estimate.
type OdometryRow struct {
	Seq        uint64
	Timestamp  time.Time
	X, Y, Yaw  float64
	VX, VY     float64
	YawRate    float64
	ObstacleID int
}

// ObstacleRow is one obstacle observed in a frame.
type ObstacleRow struct {
	Seq        uint64
	ObstacleID int
	Voxels     int
	CX, CY, CZ float64
	VX, VY, VZ float64
	Speed      float64
}

// CreateRun inserts a new run. An empty RunID is replaced by a fresh UUID.
func (db *DB) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.ConfigJSON == "" {
		run.ConfigJSON = "{}"
	}
	if run.Started.IsZero() {
		run.Started = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, source, config_json, started_ns) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Source, run.ConfigJSON, run.Started.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps a run as finished and stores its frame count.
func (db *DB) FinishRun(runID string, finished time.Time, frames int64) error {
	res, err := db.Exec(
		`UPDATE runs SET finished_ns = ?, frames = ? WHERE run_id = ?`,
		finished.UnixNano(), frames, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", runID)
	}
	return nil
}

// GetRun loads a run by id.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(
		`SELECT run_id, source, config_json, started_ns, finished_ns, frames FROM runs WHERE run_id = ?`,
		runID,
	)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT run_id, source, config_json, started_ns, finished_ns, frames
		 FROM runs ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r          Run
		startedNs  int64
		finishedNs sql.NullInt64
	)
	if err := s.Scan(&r.RunID, &r.Source, &r.ConfigJSON, &startedNs, &finishedNs, &r.Frames); err != nil {
		return nil, err
	}
	r.Started = time.Unix(0, startedNs)
	if finishedNs.Valid {
		t := time.Unix(0, finishedNs.Int64)
		r.Finished = &t
	}
	return &r, nil
}

// InsertFrame stores one frame with its odometry (may be nil) and
// obstacles in a single transaction.
func (db *DB) InsertFrame(runID string, f FrameRow, od *OdometryRow, obstacles []ObstacleRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO frames (run_id, seq, ts_ns, points, voxels, particles, spawned,
			obstacles, unclustered, transform_reused, total_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(f.Seq), f.Timestamp.UnixNano(), f.Points, f.Voxels, f.Particles, f.Spawned,
		f.Obstacles, f.Unclustered, f.TransformReused, f.Total.Microseconds(),
	); err != nil {
		return fmt.Errorf("insert frame %d: %w", f.Seq, err)
	}

	if od != nil {
		if _, err := tx.Exec(
			`INSERT INTO odometry (run_id, seq, ts_ns, x, y, yaw, vx, vy, yaw_rate, obstacle_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, int64(od.Seq), od.Timestamp.UnixNano(), od.X, od.Y, od.Yaw, od.VX, od.VY, od.YawRate, od.ObstacleID,
		); err != nil {
			return fmt.Errorf("insert odometry %d: %w", od.Seq, err)
		}
	}

	if len(obstacles) > 0 {
		stmt, err := tx.Prepare(
			`INSERT INTO obstacles (run_id, seq, obstacle_id, voxels, cx, cy, cz, vx, vy, vz, speed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, o := range obstacles {
			if _, err := stmt.Exec(runID, int64(o.Seq), o.ObstacleID, o.Voxels,
				o.CX, o.CY, o.CZ, o.VX, o.VY, o.VZ, o.Speed); err != nil {
				return fmt.Errorf("insert obstacle %d/%d: %w", o.Seq, o.ObstacleID, err)
			}
		}
	}

	return tx.Commit()
}

// Frames returns all frame rows of a run in sequence order.
func (db *DB) Frames(runID string) ([]FrameRow, error) {
	rows, err := db.Query(
		`SELECT seq, ts_ns, points, voxels, particles, spawned, obstacles, unclustered,
			transform_reused, total_us
		 FROM frames WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRow
	for rows.Next() {
		var (
			f       FrameRow
			seq     int64
			tsNs    int64
			totalUs int64
		)
		if err := rows.Scan(&seq, &tsNs, &f.Points, &f.Voxels, &f.Particles, &f.Spawned,
			&f.Obstacles, &f.Unclustered, &f.TransformReused, &totalUs); err != nil {
			return nil, err
		}
		f.Seq = uint64(seq)
		f.Timestamp = time.Unix(0, tsNs)
		f.Total = time.Duration(totalUs) * time.Microsecond
		out = append(out, f)
	}
	return out, rows.Err()
}

// Trajectory returns the odometry rows of a run in sequence order.
func (db *DB) Trajectory(runID string) ([]OdometryRow, error) {
	rows, err := db.Query(
		`SELECT seq, ts_ns, x, y, yaw, vx, vy, yaw_rate, obstacle_id
		 FROM odometry WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OdometryRow
	for rows.Next() {
		var (
			o    OdometryRow
			seq  int64
			tsNs int64
		)
		if err := rows.Scan(&seq, &tsNs, &o.X, &o.Y, &o.Yaw, &o.VX, &o.VY, &o.YawRate, &o.ObstacleID); err != nil {
			return nil, err
		}
		o.Seq = uint64(seq)
		o.Timestamp = time.Unix(0, tsNs)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SpeedSummary aggregates obstacle speeds over a run.
type SpeedSummary struct {
	Observations int64
	MeanSpeed    float64
	MaxSpeed     float64
}

// ObstacleSpeedSummary returns obstacle speed statistics for a run.
func (db *DB) ObstacleSpeedSummary(runID string) (SpeedSummary, error) {
	var (
		s    SpeedSummary
		mean sql.NullFloat64
		max  sql.NullFloat64
	)
	err := db.QueryRow(
		`SELECT COUNT(*), AVG(speed), MAX(speed) FROM obstacles WHERE run_id = ?`, runID,
	).Scan(&s.Observations, &mean, &max)
	if err != nil {
		return s, err
	}
	s.MeanSpeed = mean.Float64
	s.MaxSpeed = max.Float64
	return s, nil
}
