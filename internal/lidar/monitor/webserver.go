// Package monitor serves debug pages for a running engine: odometry and
// speed charts (go-echarts), a top-down occupancy image (gonum/plot) and a
// JSON stats endpoint, all fed by a Collector sink.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/voxel-odometry/internal/monitoring"
	"github.com/banshee-data/voxel-odometry/internal/units"
)

var logf = monitoring.Tagged("Monitor")

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address   string
	Collector *Collector

	// SpeedUnits selects the display unit for speed charts (see package
	// units). Empty means m/s.
	SpeedUnits string

	// AssetsHost overrides where chart pages load echarts from. Empty uses
	// the go-echarts default CDN.
	AssetsHost string
}

// WebServer handles the HTTP debug interface.
type WebServer struct {
	address    string
	server     *http.Server
	mux        *http.ServeMux
	collector  *Collector
	speedUnits string
	assetsHost string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	collector := config.Collector
	if collector == nil {
		collector = NewCollector(0)
	}
	speedUnits := config.SpeedUnits
	if !units.IsValid(speedUnits) {
		speedUnits = units.MPS
	}
	ws := &WebServer{
		address:    config.Address,
		collector:  collector,
		speedUnits: speedUnits,
		assetsHost: config.AssetsHost,
	}
	ws.mux = ws.setupRoutes()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Collector returns the collector feeding the pages.
func (ws *WebServer) Collector() *Collector {
	return ws.collector
}

// Handle mounts an additional handler, such as the visualiser WebSocket or
// the telemetry SQL console.
func (ws *WebServer) Handle(pattern string, h http.Handler) {
	ws.mux.Handle(pattern, h)
}

// Handler returns the root handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.mux
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", ws.handleHealth)
	mux.HandleFunc("GET /api/stats", ws.handleStats)
	mux.HandleFunc("GET /charts/", ws.handleDashboard)
	mux.HandleFunc("GET /charts/trajectory", ws.handleTrajectory)
	mux.HandleFunc("GET /charts/speed", ws.handleSpeed)
	mux.HandleFunc("GET /charts/occupancy.png", ws.handleOccupancy)
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"frames": ws.collector.Frames(),
	})
}

type statsResponse struct {
	Frames        uint64  `json:"frames"`
	Latest        *Sample `json:"latest,omitempty"`
	PlatformSpeed string  `json:"platform_speed,omitempty"`
	ObstacleSpeed string  `json:"obstacle_speed,omitempty"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Frames: ws.collector.Frames()}
	if s, ok := ws.collector.Latest(); ok {
		resp.Latest = &s
		if s.HasOdometry {
			resp.PlatformSpeed = units.FormatSpeed(s.Twist.Speed(), ws.speedUnits)
		}
		if s.Obstacles > 0 {
			resp.ObstacleSpeed = units.FormatSpeed(s.ObstacleSpeed, ws.speedUnits)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (ws *WebServer) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	latest, ok := ws.collector.Latest()
	if !ok {
		ws.writeJSONError(w, http.StatusNotFound, "no frames yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	title := fmt.Sprintf("Occupancy, frame %d", latest.Seq)
	if err := WriteOccupancyPNG(w, ws.collector.LatestVoxels(), title); err != nil {
		logf("occupancy render failed: %v", err)
	}
}
