package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/voxel-odometry/internal/units"
)

// trajectoryChart plots the integrated platform position in the map plane.
func (ws *WebServer) trajectoryChart(samples []Sample) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(samples))
	for _, s := range samples {
		if !s.HasOdometry {
			continue
		}
		data = append(data, opts.ScatterData{Value: []interface{}{s.Pose.X, s.Pose.Y, s.Seq}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Odometry", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: ws.assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Odometry Trajectory", Subtitle: fmt.Sprintf("poses=%d", len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("pose", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}

// speedChart plots obstacle speed and platform speed per frame in the
// configured display unit.
func (ws *WebServer) speedChart(samples []Sample) *charts.Line {
	x := make([]string, len(samples))
	obstacle := make([]opts.LineData, len(samples))
	platform := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = strconv.FormatUint(s.Seq, 10)
		if s.Obstacles > 0 {
			obstacle[i] = opts.LineData{Value: units.ConvertSpeed(s.ObstacleSpeed, ws.speedUnits)}
		} else {
			obstacle[i] = opts.LineData{Value: "-"}
		}
		if s.HasOdometry {
			platform[i] = opts.LineData{Value: units.ConvertSpeed(s.Twist.Speed(), ws.speedUnits)}
		} else {
			platform[i] = opts.LineData{Value: "-"}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Speed", Theme: "dark", Width: "900px", Height: "400px", AssetsHost: ws.assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Speed", Subtitle: units.Label(ws.speedUnits)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: units.Label(ws.speedUnits)}),
	)
	line.SetXAxis(x).
		AddSeries("obstacle", obstacle).
		AddSeries("platform", platform)
	return line
}

// handleTrajectory renders the odometry trajectory chart.
func (ws *WebServer) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ws.trajectoryChart(ws.collector.Samples()).Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	writeHTML(w, buf.Bytes())
}

// handleSpeed renders the per-frame speed chart.
func (ws *WebServer) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ws.speedChart(ws.collector.Samples()).Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	writeHTML(w, buf.Bytes())
}

// handleDashboard renders every chart on one page.
func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	samples := ws.collector.Samples()

	page := components.NewPage()
	if ws.assetsHost != "" {
		page.SetAssetsHost(ws.assetsHost)
	}
	page.PageTitle = "Voxel Odometry"
	page.AddCharts(ws.trajectoryChart(samples), ws.speedChart(samples))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	writeHTML(w, buf.Bytes())
}

func writeHTML(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}
