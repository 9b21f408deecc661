package monitor

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestWriteOccupancyPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOccupancyPNG(&buf, result(0, false).Voxels, "test"); err != nil {
		t.Fatalf("WriteOccupancyPNG: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), pngMagic) {
		t.Error("output is not a PNG")
	}
}

func TestWriteOccupancyPNGEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOccupancyPNG(&buf, nil, "empty"); err != nil {
		t.Fatalf("WriteOccupancyPNG: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), pngMagic) {
		t.Error("output is not a PNG")
	}
}

func TestSaveOccupancyPNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	path, err := SaveOccupancyPNG(dir, 7, result(7, true).Voxels)
	if err != nil {
		t.Fatalf("SaveOccupancyPNG: %v", err)
	}
	if filepath.Base(path) != "occupancy_000007.png" {
		t.Errorf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("file is not a PNG")
	}
}

func TestGenerateColors(t *testing.T) {
	if generateColors(0) != nil {
		t.Error("expected nil palette for n=0")
	}
	if got := len(generateColors(1)); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}

	colors := generateColors(probBins)
	if len(colors) != probBins {
		t.Fatalf("len = %d, want %d", len(colors), probBins)
	}
	lowR, _, lowB, _ := colors[0].RGBA()
	highR, _, highB, _ := colors[probBins-1].RGBA()
	if lowB <= lowR {
		t.Errorf("lowest bin should be blue-ish: r=%d b=%d", lowR, lowB)
	}
	if highR <= highB {
		t.Errorf("highest bin should be red-ish: r=%d b=%d", highR, highB)
	}
}

func TestHSLToRGBGrey(t *testing.T) {
	r, g, b := hslToRGB(0.3, 0, 0.5)
	if r != g || g != b || r != 127 {
		t.Errorf("grey = %d,%d,%d, want 127,127,127", r, g, b)
	}
}
