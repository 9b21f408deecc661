// Command voxelodom runs the voxel tracking engine over a synthetic scene or
// a recorded frame log and serves its output to viewers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/voxel-odometry/internal/config"
	"github.com/banshee-data/voxel-odometry/internal/db"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l3grid"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/monitor"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/lidar/recorder"
	"github.com/banshee-data/voxel-odometry/internal/lidar/synthetic"
	"github.com/banshee-data/voxel-odometry/internal/lidar/visualiser"
	"github.com/banshee-data/voxel-odometry/internal/timeutil"
	"github.com/banshee-data/voxel-odometry/internal/units"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Tuning config (.json, .yaml or .yml); empty uses built-in defaults")
	replayPath = flag.String("replay", "", "Replay a recorded frame log instead of the synthetic scene")
	replayRate = flag.Float64("rate", 0, "Replay pacing multiplier (0 replays as fast as possible)")
	recordPath = flag.String("record", "", "Record every input frame to this directory")
	maxFrames  = flag.Int("frames", 200, "Stop after this many frames (0 runs until the source ends)")
	realtime   = flag.Bool("realtime", false, "Pace the synthetic scene at its frame period")
	jitter     = flag.Float64("jitter", 0, "Synthetic point noise in metres")
	grpcListen = flag.String("grpc-listen", "", "gRPC frame stream address (empty disables)")
	listen     = flag.String("listen", "", "HTTP address for charts, WebSocket stream and admin (empty disables)")
	dbPath     = flag.String("db", "", "Telemetry database path (empty disables)")
	speedUnits = flag.String("units", units.MPS, "Speed units for reports: "+units.GetValidUnitsString())
	pngDir     = flag.String("png-dir", "", "Write occupancy PNG snapshots to this directory")
	pngEvery   = flag.Int("png-every", 50, "Frames between occupancy snapshots")
	hold       = flag.Bool("hold", false, "Keep serving after the source ends until interrupted")
	verbose    = flag.Bool("v", false, "Log per-frame diagnostics")
)

// options is the resolved command line.
type options struct {
	ConfigPath string
	ReplayPath string
	ReplayRate float64
	RecordPath string
	MaxFrames  int
	Realtime   bool
	Jitter     float64
	GRPCListen string
	Listen     string
	DBPath     string
	SpeedUnits string
	PNGDir     string
	PNGEvery   int
	Hold       bool
}

// summary is what a run reports on exit.
type summary struct {
	RunID    string
	Stats    pipeline.RunStats
	Pose     l5odometry.Pose2D
	Odometry *l5odometry.Estimate
	Stored   int64
}

func main() {
	flag.Parse()

	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid -units %q, must be one of: %s", *speedUnits, units.GetValidUnitsString())
	}
	if *verbose {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, nil)
		l3grid.SetLogWriters(os.Stderr, nil)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, options{
		ConfigPath: *configPath,
		ReplayPath: *replayPath,
		ReplayRate: *replayRate,
		RecordPath: *recordPath,
		MaxFrames:  *maxFrames,
		Realtime:   *realtime,
		Jitter:     *jitter,
		GRPCListen: *grpcListen,
		Listen:     *listen,
		DBPath:     *dbPath,
		SpeedUnits: *speedUnits,
		PNGDir:     *pngDir,
		PNGEvery:   *pngEvery,
		Hold:       *hold,
	})
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
	printSummary(os.Stdout, sum, *speedUnits)
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func run(ctx context.Context, opts options) (summary, error) {
	sum := summary{RunID: uuid.NewString()}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return sum, fmt.Errorf("load config: %w", err)
	}
	params, err := pipeline.ParamsFromTuning(cfg)
	if err != nil {
		return sum, err
	}
	engine, err := pipeline.NewEngine(params, synthetic.StaticPlatform(params.MapFrame, params.PoseFrame))
	if err != nil {
		return sum, err
	}

	var src pipeline.FrameSource
	sourceName := "synthetic"
	if opts.ReplayPath != "" {
		reader, err := recorder.NewReader(opts.ReplayPath)
		if err != nil {
			return sum, err
		}
		defer reader.Close()
		if opts.ReplayRate > 0 {
			reader.Pace(timeutil.RealClock{}, opts.ReplayRate)
		}
		log.Printf("replaying %s: %d frames from run %s", opts.ReplayPath, reader.Header().TotalFrames, reader.Header().RunID)
		src = reader
		sourceName = "replay:" + opts.ReplayPath
	} else {
		scene := synthetic.DefaultScene()
		scene.Frames = opts.MaxFrames
		scene.Jitter = opts.Jitter
		if opts.Realtime {
			scene.Clock = timeutil.RealClock{}
		}
		src = synthetic.NewGenerator(scene)
	}

	if opts.RecordPath != "" {
		rec, err := recorder.NewRecorder(opts.RecordPath, sum.RunID, params.MapFrame)
		if err != nil {
			return sum, err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("failed to close recording: %v", err)
			}
		}()
		src = recorder.Tee(src, rec)
	}

	collector := monitor.NewCollector(monitor.DefaultHistory)

	publisher := visualiser.NewPublisher(visualiser.Config{
		ListenAddr: opts.GRPCListen,
		MapFrame:   params.MapFrame,
		MaxClients: visualiser.DefaultConfig().MaxClients,
	})
	if err := publisher.Start(); err != nil {
		return sum, err
	}
	defer publisher.Stop()

	var database *db.DB
	var telemetry *db.TelemetrySink
	if opts.DBPath != "" {
		database, err = db.NewDB(opts.DBPath)
		if err != nil {
			return sum, err
		}
		defer database.Close()
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return sum, err
		}
		telemetry, err = db.NewTelemetrySink(database, &db.Run{
			RunID:      sum.RunID,
			Source:     sourceName,
			ConfigJSON: string(cfgJSON),
		})
		if err != nil {
			return sum, err
		}
	}

	var snapshots *pngSink
	if opts.PNGDir != "" {
		snapshots = &pngSink{dir: opts.PNGDir, every: uint64(max(opts.PNGEvery, 1))}
	}

	var web *monitor.WebServer
	if opts.Listen != "" {
		web = monitor.NewWebServer(monitor.WebServerConfig{
			Address:    opts.Listen,
			Collector:  collector,
			SpeedUnits: opts.SpeedUnits,
		})
		web.Handle("GET /ws", publisher.WebSocketHandler())
		if database != nil {
			admin := http.NewServeMux()
			if err := database.AttachAdminRoutes(admin); err != nil {
				return sum, err
			}
			web.Handle("/debug/", admin)
		}
	}

	runner := pipeline.NewRunner(engine, src, publisher, collector, telemetry, snapshots)
	if opts.ReplayPath != "" {
		runner.MaxFrames = opts.MaxFrames
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()
	if web != nil {
		g.Go(func() error { return web.Start(serveCtx) })
	}
	g.Go(func() error {
		defer stopServing()
		stats, err := runner.Run(gctx)
		sum.Stats = stats
		if err != nil {
			return err
		}
		if opts.Hold {
			log.Printf("source finished after %d frames, serving until interrupted", stats.Frames)
			<-gctx.Done()
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return sum, err
	}

	st := runner.State()
	sum.Pose = st.Odometer.Pose
	if latest, ok := collector.Latest(); ok && latest.HasOdometry {
		sum.Odometry = &l5odometry.Estimate{
			Timestamp: latest.Timestamp,
			Pose:      latest.Pose,
			Twist:     latest.Twist,
		}
	}
	if telemetry != nil {
		if err := telemetry.Close(); err != nil {
			return sum, err
		}
		sum.Stored, _ = telemetry.Stored()
	}
	return sum, nil
}

// pngSink writes an occupancy snapshot every few frames.
type pngSink struct {
	dir   string
	every uint64
}

func (s *pngSink) Publish(res *pipeline.FrameResult) {
	if res.Seq%s.every != 0 {
		return
	}
	if _, err := monitor.SaveOccupancyPNG(s.dir, res.Seq, res.Voxels); err != nil {
		log.Printf("failed to save occupancy snapshot for frame %d: %v", res.Seq, err)
	}
}

func printSummary(w io.Writer, sum summary, unit string) {
	fmt.Fprintf(w, "run %s\n", sum.RunID)
	fmt.Fprintf(w, "frames: %d read, %d processed, %d empty, %d without pose\n",
		sum.Stats.Frames, sum.Stats.Processed, sum.Stats.Empty, sum.Stats.NoPose)
	fmt.Fprintf(w, "pose: x=%.2f y=%.2f yaw=%.3f\n", sum.Pose.X, sum.Pose.Y, sum.Pose.Yaw)
	if sum.Odometry != nil {
		fmt.Fprintf(w, "platform speed: %s\n", units.FormatSpeed(sum.Odometry.Twist.Speed(), unit))
	} else {
		fmt.Fprintln(w, "platform speed: no odometry")
	}
	if sum.Stored > 0 {
		fmt.Fprintf(w, "telemetry: %d frames stored\n", sum.Stored)
	}
}
