// Package api exposes the monitoring HTTP interface: health and status
// endpoints, the stored-event listing and a debug chart of recent motion
// scores.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/fernwatch/camtrap/internal/config"
	"github.com/fernwatch/camtrap/internal/monitoring"
	"github.com/fernwatch/camtrap/internal/pipeline"
	"github.com/fernwatch/camtrap/internal/recovery"
	"github.com/fernwatch/camtrap/internal/version"
)

// WebServer handles the HTTP interface for monitoring the filtering pipeline.
type WebServer struct {
	address  string
	pipeline *pipeline.Pipeline
	store    *recovery.Store
	cfg      *config.Config
	server   *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address  string
	Pipeline *pipeline.Pipeline
	Store    *recovery.Store
	Config   *config.Config
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:  cfg.Address,
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		cfg:      cfg.Config,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: LoggingMiddleware(ws.setupRoutes()),
	}
	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and shuts it down when ctx is
// cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/config", ws.handleConfig)
	mux.HandleFunc("/api/events", ws.handleEvents)
	mux.HandleFunc("/debug/motion", ws.handleMotionChart)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "camtrap", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus returns the pipeline counters as JSON.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.pipeline == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "pipeline not running")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ws.pipeline.Status())
}

// handleConfig returns the effective configuration, defaults applied.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ws.cfg.Effective())
}

// handleEvents lists sequences still held in the recovery store.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "recovery store not available")
		return
	}
	summaries, err := ws.store.ListUndelivered()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// handleMotionChart renders an HTML line chart of recent motion scores using
// go-echarts. Debugging-only endpoint for tuning the motion thresholds in the
// field.
func (ws *WebServer) handleMotionChart(w http.ResponseWriter, r *http.Request) {
	if ws.pipeline == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "pipeline not running")
		return
	}
	points := ws.pipeline.RecentScores()
	if len(points) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no motion scores recorded yet")
		return
	}

	labels := make([]string, len(points))
	scores := make([]opts.LineData, len(points))
	threshold := make([]opts.LineData, len(points))
	for i, p := range points {
		labels[i] = p.At.Format("15:04:05.000")
		scores[i] = opts.LineData{Value: p.Score}
		threshold[i] = opts.LineData{Value: ws.cfg.GetMotionScoreThreshold()}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Motion Score", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Smoothed Motion Score", Subtitle: fmt.Sprintf("points=%d threshold=%.0f", len(points), ws.cfg.GetMotionScoreThreshold())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(labels)
	line.AddSeries("score", scores, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	line.AddSeries("threshold", threshold)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		monitoring.Logf("failed to render motion chart: %v", err)
	}
}

// Close shuts down the web server.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
