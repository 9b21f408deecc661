// Package recorder records engine input frames to disk and replays them as a
// frame source.
//
// A log is a directory holding header.json and frames/chunk_NNNN.jsonl.zst,
// each chunk a zstd-compressed stream of one JSON frame per line.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/monitoring"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
)

var logf = monitoring.Tagged("Recorder")

// FormatVersion is written to every header.
const FormatVersion = "1.0"

// ChunkSize is the number of frames per chunk file.
const ChunkSize = 1000

// maxLine bounds one encoded frame.
const maxLine = 64 * 1024 * 1024

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version     string `json:"version"`
	CreatedNs   int64  `json:"created_ns"`
	RunID       string `json:"run_id,omitempty"`
	MapFrame    string `json:"map_frame"`
	TotalFrames uint64 `json:"total_frames"`
	Chunks      int    `json:"chunks"`
	StartNs     int64  `json:"start_ns"`
	EndNs       int64  `json:"end_ns"`
}

func chunkPath(base string, idx int) string {
	return filepath.Join(base, "frames", fmt.Sprintf("chunk_%04d.jsonl.zst", idx))
}

// Recorder writes frames to a log directory.
type Recorder struct {
	basePath string
	header   LogHeader

	currentChunk int
	f            *os.File
	enc          *zstd.Encoder
	w            *bufio.Writer

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a log under basePath. If basePath is empty, a
// timestamped directory is created in the system temp dir.
func NewRecorder(basePath, runID, mapFrame string) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("voxelodom_%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Join(basePath, "frames"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		header: LogHeader{
			Version:   FormatVersion,
			CreatedNs: time.Now().UnixNano(),
			RunID:     runID,
			MapFrame:  mapFrame,
		},
	}, nil
}

// Record appends a frame to the log.
func (r *Recorder) Record(f pipeline.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	chunkIdx := int(r.header.TotalFrames / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateLocked(chunkIdx); err != nil {
			return err
		}
	}

	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
	}
	if _, err := r.w.Write(b); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
	}

	ts := f.Timestamp.UnixNano()
	if r.header.TotalFrames == 0 {
		r.header.StartNs = ts
	}
	r.header.EndNs = ts
	r.header.TotalFrames++
	return nil
}

func (r *Recorder) rotateLocked(chunkIdx int) error {
	if err := r.closeChunkLocked(); err != nil {
		return err
	}
	f, err := os.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to create chunk encoder: %w", err)
	}
	r.f, r.enc = f, enc
	r.w = bufio.NewWriterSize(enc, 128*1024)
	r.currentChunk = chunkIdx
	r.header.Chunks = chunkIdx + 1
	logf("writing chunk %d", chunkIdx)
	return nil
}

func (r *Recorder) closeChunkLocked() error {
	var firstErr error
	if r.w != nil {
		firstErr = r.w.Flush()
		r.w = nil
	}
	if r.enc != nil {
		if err := r.enc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.enc = nil
	}
	if r.f != nil {
		if err := r.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.f = nil
	}
	return firstErr
}

// Close flushes the open chunk and writes the header.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.closeChunkLocked(); err != nil {
		return fmt.Errorf("failed to close chunk: %w", err)
	}
	data, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	logf("closed %s: %d frames in %d chunks", r.basePath, r.header.TotalFrames, r.header.Chunks)
	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// FrameCount returns the number of frames recorded.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.TotalFrames
}

// Tee wraps a frame source so every frame it yields is also recorded.
// Recording failures end the stream.
func Tee(src pipeline.FrameSource, rec *Recorder) pipeline.FrameSource {
	return &teeSource{src: src, rec: rec}
}

type teeSource struct {
	src pipeline.FrameSource
	rec *Recorder
}

func (t *teeSource) Next(ctx context.Context) (pipeline.Frame, error) {
	f, err := t.src.Next(ctx)
	if err != nil {
		return f, err
	}
	if err := t.rec.Record(f); err != nil {
		return pipeline.Frame{}, fmt.Errorf("record frame %d: %w", f.Seq, err)
	}
	return f, nil
}

// Reader replays a log as a pipeline.FrameSource.
type Reader struct {
	basePath string
	header   LogHeader

	next  uint64
	chunk int
	f     *os.File
	dec   *zstd.Decoder
	sc    *bufio.Scanner

	// Pacing: when clock is set, Next sleeps for the recorded inter-frame
	// gap divided by rate.
	clock  timeutil.Clock
	rate   float64
	lastTS time.Time
}

var _ pipeline.FrameSource = (*Reader)(nil)

// NewReader opens a log for replay.
func NewReader(basePath string) (*Reader, error) {
	data, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	r := &Reader{basePath: basePath, chunk: -1, rate: 1}
	if err := json.Unmarshal(data, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if r.header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported log version %q", r.header.Version)
	}
	return r, nil
}

// Header returns the log header.
func (r *Reader) Header() LogHeader {
	return r.header
}

// Pace makes Next honour recorded timing at the given playback rate.
// A nil clock disables pacing.
func (r *Reader) Pace(clock timeutil.Clock, rate float64) {
	if rate <= 0 {
		rate = 1
	}
	r.clock, r.rate = clock, rate
}

// Seek positions the reader so the next frame returned is frame idx.
func (r *Reader) Seek(idx uint64) error {
	if idx >= r.header.TotalFrames {
		return fmt.Errorf("frame index out of range: %d >= %d", idx, r.header.TotalFrames)
	}
	chunk := int(idx / ChunkSize)
	if err := r.openChunk(chunk); err != nil {
		return err
	}
	r.next = uint64(chunk) * ChunkSize
	for r.next < idx {
		if !r.sc.Scan() {
			return fmt.Errorf("chunk %d ended before frame %d: %w", chunk, idx, r.scanErr())
		}
		r.next++
	}
	r.lastTS = time.Time{}
	return nil
}

// Next returns the next recorded frame, or io.EOF at the end of the log.
func (r *Reader) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	if r.next >= r.header.TotalFrames {
		return pipeline.Frame{}, io.EOF
	}
	if chunk := int(r.next / ChunkSize); chunk != r.chunk {
		if err := r.openChunk(chunk); err != nil {
			return pipeline.Frame{}, err
		}
	}
	if !r.sc.Scan() {
		return pipeline.Frame{}, fmt.Errorf("frame %d missing from chunk %d: %w", r.next, r.chunk, r.scanErr())
	}
	var f pipeline.Frame
	if err := json.Unmarshal(r.sc.Bytes(), &f); err != nil {
		return pipeline.Frame{}, fmt.Errorf("failed to decode frame %d: %w", r.next, err)
	}
	r.next++

	if r.clock != nil && !r.lastTS.IsZero() {
		if gap := f.Timestamp.Sub(r.lastTS); gap > 0 {
			r.clock.Sleep(time.Duration(float64(gap) / r.rate))
		}
	}
	r.lastTS = f.Timestamp
	return f, nil
}

func (r *Reader) scanErr() error {
	if err := r.sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (r *Reader) openChunk(idx int) error {
	r.closeChunk()
	f, err := os.Open(chunkPath(r.basePath, idx))
	if err != nil {
		return fmt.Errorf("failed to open chunk: %w", err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to open chunk decoder: %w", err)
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	r.f, r.dec, r.sc, r.chunk = f, dec, sc, idx
	return nil
}

func (r *Reader) closeChunk() {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	r.sc = nil
	r.chunk = -1
}

// Close releases the open chunk.
func (r *Reader) Close() error {
	r.closeChunk()
	return nil
}
