package monitor

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/voxel-odometry/internal/lidar/pipeline"
)

// probBins is the number of colour steps used for occupancy probability.
const probBins = 10

// occupancyPlot builds a top-down scatter of voxel centroids coloured by
// occupancy probability.
func occupancyPlot(voxels []pipeline.VoxelOutput, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	if len(voxels) == 0 {
		return p, nil
	}

	pts := make(plotter.XYs, len(voxels))
	maxProb := 0.0
	for i, v := range voxels {
		pts[i] = plotter.XY{X: v.Centroid.X, Y: v.Centroid.Y}
		maxProb = math.Max(maxProb, v.Prob)
	}
	if maxProb == 0 {
		maxProb = 1
	}

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	colors := generateColors(probBins)
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		bin := int(voxels[i].Prob / maxProb * float64(probBins-1))
		return draw.GlyphStyle{
			Color:  colors[bin],
			Radius: vg.Points(2),
			Shape:  draw.BoxGlyph{},
		}
	}
	p.Add(sc, plotter.NewGrid())
	return p, nil
}

// WriteOccupancyPNG renders voxels as a PNG to w.
func WriteOccupancyPNG(w io.Writer, voxels []pipeline.VoxelOutput, title string) error {
	p, err := occupancyPlot(voxels, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveOccupancyPNG renders voxels into dir/occupancy_<seq>.png and returns
// the path.
func SaveOccupancyPNG(dir string, seq uint64, voxels []pipeline.VoxelOutput) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	p, err := occupancyPlot(voxels, fmt.Sprintf("Occupancy, frame %d", seq))
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("occupancy_%06d.png", seq))
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save occupancy plot: %w", err)
	}
	return path, nil
}

// generateColors returns n colours running from blue (low) to red (high).
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := 2.0 / 3.0
		if n > 1 {
			hue = (1 - float64(i)/float64(n-1)) * 2.0 / 3.0
		}
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
