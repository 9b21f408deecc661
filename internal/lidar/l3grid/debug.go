package l3grid

import (
	"io"
	"log"
)

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the diagnostic and trace streams for the l3grid
// package. Pass nil to disable a stream.
func SetLogWriters(diag, trace io.Writer) {
	diagLogger = newLogger(diag)
	traceLogger = newLogger(trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[l3grid] ", log.LstdFlags|log.Lmicroseconds)
}

// diagf logs to the diag stream (rejected inputs, per-frame accounting).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-sample and per-build detail).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
