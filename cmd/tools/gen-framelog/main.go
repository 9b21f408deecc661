// Command gen-framelog writes a synthetic frame log for testing replay.
package main

import (
	"context"
	"flag"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/banshee-data/voxel-odometry/internal/lidar/recorder"
	"github.com/banshee-data/voxel-odometry/internal/lidar/synthetic"
)

func main() {
	output := flag.String("o", "sample-framelog", "output directory")
	frames := flag.Int("n", 100, "number of frames")
	jitter := flag.Float64("jitter", 0.05, "point noise in metres")
	flow := flag.Bool("flow", false, "attach optical flow samples to block points")
	flag.Parse()

	n, err := generate(context.Background(), *output, *frames, *jitter, *flow)
	if err != nil {
		log.Fatalf("failed to generate frame log: %v", err)
	}
	log.Printf("created %s with %d frames", *output, n)
}

func generate(ctx context.Context, dir string, frames int, jitter float64, flow bool) (uint64, error) {
	rec, err := recorder.NewRecorder(dir, uuid.NewString(), "/map")
	if err != nil {
		return 0, err
	}

	scene := synthetic.DefaultScene()
	scene.Frames = frames
	scene.Jitter = jitter
	scene.Flow = flow
	gen := synthetic.NewGenerator(scene)
	for {
		f, err := gen.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			rec.Close()
			return 0, err
		}
		if err := rec.Record(f); err != nil {
			rec.Close()
			return 0, err
		}
		if (f.Seq+1)%10 == 0 {
			log.Printf("%d/%d frames", f.Seq+1, frames)
		}
	}
	if err := rec.Close(); err != nil {
		return 0, err
	}
	return rec.FrameCount(), nil
}
