package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/banshee-data/voxel-odometry/internal/lidar/transform"
)

// RunStats counts what happened to each frame offered by the source.
type RunStats struct {
	Frames    int // frames read from the source
	Processed int
	Empty     int // skipped with ErrEmptyCloud
	NoPose    int // skipped for a missing or stale transform
}

// Runner bundles an engine with its input and outputs. It owns the engine
// State for the duration of a run.
type Runner struct {
	Engine *Engine
	Source FrameSource
	Sinks  []Sink

	// MaxFrames stops the run after that many frames have been read.
	// Zero means run until the source is exhausted.
	MaxFrames int

	state State
}

// NewRunner returns a runner starting from the engine's initial state.
func NewRunner(e *Engine, src FrameSource, sinks ...Sink) *Runner {
	r := &Runner{Engine: e, Source: src, state: e.NewState()}
	for _, s := range sinks {
		if !isNilInterface(s) {
			r.Sinks = append(r.Sinks, s)
		}
	}
	return r
}

// State returns the engine state after the last processed frame.
func (r *Runner) State() State { return r.state }

// Run steps every frame from the source until it returns io.EOF, MaxFrames
// is reached or ctx is cancelled. Skipped frames are counted, not returned
// as errors.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	var rs RunStats
	for r.MaxFrames == 0 || rs.Frames < r.MaxFrames {
		if err := ctx.Err(); err != nil {
			return rs, err
		}
		frame, err := r.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			diagf("[Runner] source exhausted after %d frames", rs.Frames)
			return rs, nil
		}
		if err != nil {
			return rs, fmt.Errorf("read frame: %w", err)
		}
		rs.Frames++

		next, res, err := r.Engine.Step(r.state, frame)
		switch {
		case errors.Is(err, ErrEmptyCloud):
			rs.Empty++
			diagf("[Runner] %v, skipped", err)
			continue
		case errors.Is(err, ErrStaleTransform), errors.Is(err, transform.ErrNoTransform):
			rs.NoPose++
			opsf("[Runner] %v, skipped", err)
			continue
		case err != nil:
			return rs, err
		}
		r.state = next
		rs.Processed++
		for _, s := range r.Sinks {
			s.Publish(res)
		}
	}
	return rs, nil
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
