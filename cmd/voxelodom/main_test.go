package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/voxel-odometry/internal/db"
	"github.com/banshee-data/voxel-odometry/internal/lidar/l5odometry"
	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
	"github.com/banshee-data/voxel-odometry/internal/lidar/recorder"
	"github.com/banshee-data/voxel-odometry/internal/units"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, 200, *maxFrames)
	assert.Equal(t, units.MPS, *speedUnits)
	assert.Empty(t, *grpcListen)
	assert.Empty(t, *listen)
	assert.Empty(t, *dbPath)
}

func TestRunSyntheticRecordThenReplay(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "log")
	dbFile := filepath.Join(dir, "telemetry.db")
	pngDir := filepath.Join(dir, "png")

	sum, err := run(context.Background(), options{
		MaxFrames:  20,
		RecordPath: logDir,
		DBPath:     dbFile,
		PNGDir:     pngDir,
		PNGEvery:   10,
		SpeedUnits: units.MPS,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Stats.Frames)
	assert.Equal(t, 20, sum.Stats.Processed)
	assert.Equal(t, int64(20), sum.Stored)

	reader, err := recorder.NewReader(logDir)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), reader.Header().TotalFrames)
	assert.Equal(t, sum.RunID, reader.Header().RunID)
	require.NoError(t, reader.Close())

	pngs, err := filepath.Glob(filepath.Join(pngDir, "occupancy_*.png"))
	require.NoError(t, err)
	assert.Len(t, pngs, 2)

	database, err := db.NewDB(dbFile)
	require.NoError(t, err)
	defer database.Close()
	stored, err := database.GetRun(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stored.Frames)
	assert.NotNil(t, stored.Finished)

	replayed, err := run(context.Background(), options{
		ReplayPath: logDir,
		SpeedUnits: units.MPS,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, replayed.Stats.Processed)
	assert.Equal(t, sum.Pose, replayed.Pose)
}

func TestRunReplayMaxFrames(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")
	_, err := run(context.Background(), options{MaxFrames: 10, RecordPath: logDir})
	require.NoError(t, err)

	sum, err := run(context.Background(), options{ReplayPath: logDir, MaxFrames: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Stats.Frames)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := run(ctx, options{MaxFrames: 5})
	require.NoError(t, err)
	assert.Zero(t, sum.Stats.Processed)
}

func TestRunErrors(t *testing.T) {
	_, err := run(context.Background(), options{ConfigPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorContains(t, err, "load config")

	_, err = run(context.Background(), options{ReplayPath: t.TempDir()})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("voxel_speed_method: median\n"), 0o644))
	_, err = run(context.Background(), options{ConfigPath: bad})
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, summary{
		RunID: "r1",
		Stats: pipeline.RunStats{Frames: 3, Processed: 2, Empty: 1},
		Odometry: &l5odometry.Estimate{
			Twist: l5odometry.Twist2D{VX: 3, VY: 4},
		},
		Stored: 2,
	}, units.KPH)
	out := buf.String()
	assert.Contains(t, out, "run r1")
	assert.Contains(t, out, "3 read, 2 processed, 1 empty, 0 without pose")
	assert.Contains(t, out, "platform speed: 18.00 km/h")
	assert.Contains(t, out, "2 frames stored")

	buf.Reset()
	printSummary(&buf, summary{RunID: "r2"}, units.MPS)
	assert.True(t, strings.Contains(buf.String(), "no odometry"))
}
