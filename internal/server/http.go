package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ireoo/autotalk/internal/config"
	"github.com/Ireoo/autotalk/internal/metrics"
	"github.com/Ireoo/autotalk/internal/pipeline"
	"github.com/Ireoo/autotalk/internal/telemetry"
)

// Components are the runtime parts exposed over HTTP. Only Pipeline is required.
type Components struct {
	Pipeline        *pipeline.Context
	Ingest          *UDPIngest
	Monitor         *telemetry.Monitor
	Hub             *Hub
	RecognizerStats func() any
	Gatherer        prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	comp    Components
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, comp Components, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		comp:      comp,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /ws/transcripts connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (not instrumented itself)
	if h.comp.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.comp.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if h.comp.Hub != nil {
		mux.Handle("/ws/transcripts", h.comp.Hub)
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics == nil {
			return
		}
		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	if h.comp.Hub != nil {
		h.comp.Hub.Close()
	}
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.comp.Pipeline.GetStats()
	status, code := "healthy", http.StatusOK
	if !stats.Running {
		status, code = "stopped", http.StatusServiceUnavailable
	}

	components := map[string]any{
		"pipeline": map[string]any{
			"running":         stats.Running,
			"scheduler_state": stats.Scheduler.State,
			"queue_depth":     stats.Queue.Depth,
			"frames_dropped":  stats.Queue.Dropped,
			"buffer_seconds":  stats.Buffer.Seconds,
		},
	}
	if h.comp.Ingest != nil {
		udp := h.comp.Ingest.GetStatistics()
		components["udp_ingest"] = map[string]any{
			"datagrams_received": udp.DatagramsReceived,
			"parse_errors":       udp.ParseErrors,
			"sequence_gaps":      udp.SequenceGaps,
		}
	}
	if h.comp.Hub != nil {
		components["websocket"] = h.comp.Hub.GetStats()
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "autotalk",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.comp.Pipeline.GetStats(),
	}
	if h.comp.RecognizerStats != nil {
		stats["recognizer"] = h.comp.RecognizerStats()
	}
	if h.comp.Monitor != nil {
		stats["monitor"] = h.comp.Monitor.GetStats()
	}
	if h.comp.Ingest != nil {
		stats["udp_ingest"] = h.comp.Ingest.GetStatistics()
	}
	if h.comp.Hub != nil {
		stats["websocket"] = h.comp.Hub.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "autotalk",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"GET /config":         "Get service configuration",
			"GET /stats":          "Get pipeline, recognizer and monitor statistics",
			"GET /metrics":        "Prometheus metrics",
			"GET /ws/transcripts": "Websocket stream of partial and final utterances",
		},
		"timestamp": time.Now().UTC(),
	})
}
