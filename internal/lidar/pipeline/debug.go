package pipeline

import (
	"io"
	"log"
	"sync/atomic"
)

// logStream is one independently routed log stream. Loads are atomic so
// writers can be swapped while a runner is stepping frames.
type logStream struct {
	logger atomic.Pointer[log.Logger]
}

func (s *logStream) set(w io.Writer) {
	if w == nil {
		s.logger.Store(nil)
		return
	}
	s.logger.Store(log.New(w, "[pipeline] ", log.LstdFlags|log.Lmicroseconds))
}

func (s *logStream) printf(format string, args ...interface{}) {
	if l := s.logger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

var opsStream, diagStream, traceStream logStream

// SetLogWriters configures the three logging streams for the pipeline package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsStream.set(ops)
	diagStream.set(diag)
	traceStream.set(trace)
}

// SetLogger routes all three streams to a single writer.
// Pass nil to disable all logging.
func SetLogger(w io.Writer) {
	SetLogWriters(w, w, w)
}

// opsf logs to the ops stream (stale transforms, skipped frames).
func opsf(format string, args ...interface{}) { opsStream.printf(format, args...) }

// diagf logs to the diag stream (per-frame summary and phase timing).
func diagf(format string, args ...interface{}) { diagStream.printf(format, args...) }

// tracef logs to the trace stream (per-voxel and per-obstacle detail).
func tracef(format string, args ...interface{}) { traceStream.printf(format, args...) }
