// Package visualiser streams engine output to viewers.
//
// A Publisher receives every frame result as a pipeline.Sink, renders it
// once into a FrameBundle and fans it out to connected clients over a gRPC
// server stream (structpb messages) or a WebSocket (msgpack messages).
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/monitoring"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
)

var logf = monitoring.Tagged("Visualiser")

const (
	frameQueueSize  = 100
	clientQueueSize = 10
	maxMsgSize      = 16 * 1024 * 1024
	statsInterval   = 5 * time.Second
)

// Config holds configuration for the publisher.
type Config struct {
	// ListenAddr is the gRPC listen address. Empty disables the gRPC server;
	// WebSocket clients are still served.
	ListenAddr string

	// MapFrame labels published coordinates.
	MapFrame string

	// MaxClients bounds concurrent streaming clients across both transports.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MapFrame:   "/map",
		MaxClients: 5,
	}
}

// Publisher manages the gRPC server and frame fan-out.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener
	clock    timeutil.Clock

	frameChan  chan *FrameBundle
	clients    map[string]*clientStream
	clientsMu  sync.RWMutex
	nextClient atomic.Uint64

	frameCount     atomic.Uint64
	clientCount    atomic.Int32
	droppedFrames  atomic.Uint64
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ pipeline.Sink = (*Publisher)(nil)

// clientStream is one connected client.
type clientStream struct {
	id      string
	opts    StreamOptions
	frameCh chan *FrameBundle
	doneCh  chan struct{}
}

// NewPublisher creates a publisher. Nothing is served until Start.
func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Publisher{
		config:    cfg,
		clock:     timeutil.RealClock{},
		frameChan: make(chan *FrameBundle, frameQueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// SetClock replaces the clock used for periodic stats.
func (p *Publisher) SetClock(c timeutil.Clock) {
	p.clock = c
}

// Start starts the broadcast loop and, if ListenAddr is set, the gRPC
// server.
func (p *Publisher) Start() error {
	if p.config.ListenAddr == "" {
		if !p.running.CompareAndSwap(false, true) {
			return fmt.Errorf("publisher already running")
		}
		p.wg.Add(1)
		go p.broadcastLoop()
		return nil
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := p.StartListener(lis); err != nil {
		lis.Close()
		return err
	}
	return nil
}

// StartListener serves the gRPC frame stream on lis and starts the
// broadcast loop.
func (p *Publisher) StartListener(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterService(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every client stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	logf("stopped after %d frames (%d dropped)", p.frameCount.Load(), p.droppedFrames.Load())
}

// Publish renders res and queues it for every client. Frames are dropped
// when the queue is full or the publisher is not running.
func (p *Publisher) Publish(res *pipeline.FrameResult) {
	if !p.running.Load() || res == nil {
		return
	}

	bundle := BundleFromResult(res, p.config.MapFrame)
	queueDepth := len(p.frameChan)
	if queueDepth > frameQueueSize/2 {
		logf("WARNING: frame queue depth high: %d/%d", queueDepth, frameQueueSize)
	}

	select {
	case p.frameChan <- bundle:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count, bundle.Voxels.Len(), len(bundle.Obstacles), queueDepth)
	default:
		dropped := p.droppedFrames.Add(1)
		logf("DROPPED frame %d (total dropped: %d), channel full", bundle.FrameID, dropped)
	}
}

func (p *Publisher) logPeriodicStats(frameCount uint64, voxels, obstacles, queueDepth int) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := p.clock.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}

	elapsed := now.Sub(p.lastStatsTime)
	if elapsed >= statsInterval {
		frames := frameCount - p.lastFrameCount
		fps := float64(frames) / elapsed.Seconds()
		logf("Stats: fps=%.1f frames=%d dropped=%d clients=%d queue=%d/%d last_frame: voxels=%d obstacles=%d",
			fps, frames, p.droppedFrames.Load(), p.clientCount.Load(), queueDepth, frameQueueSize, voxels, obstacles)
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
	}
}

// broadcastLoop distributes frames to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.frameCh <- frame:
				default:
					// Slow client.
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a streaming client, refusing once MaxClients are
// connected.
func (p *Publisher) addClient(kind string, opts StreamOptions) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	client := &clientStream{
		id:      fmt.Sprintf("%s-%d", kind, p.nextClient.Add(1)),
		opts:    opts,
		frameCh: make(chan *FrameBundle, clientQueueSize),
		doneCh:  make(chan struct{}),
	}
	p.clients[client.id] = client
	n := p.clientCount.Add(1)
	logf("Client connected: %s (total: %d)", client.id, n)
	return client, nil
}

// removeClient unregisters a streaming client.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	client, ok := p.clients[id]
	if ok {
		close(client.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	if ok {
		n := p.clientCount.Add(-1)
		logf("Client disconnected: %s (remaining: %d)", id, n)
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64
	DroppedFrames uint64
	ClientCount   int32
	Running       bool
}

// GRPCServer returns the underlying gRPC server, nil before Start.
func (p *Publisher) GRPCServer() *grpc.Server {
	return p.server
}
