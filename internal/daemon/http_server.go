package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardenlabs/wardstate/internal/coordinator"
	"github.com/wardenlabs/wardstate/internal/logfields"
)

// HTTPServer serves the admin surface: health, status and metrics. It is an
// operator endpoint; record state is never mutated through it.
type HTTPServer struct {
	server      *http.Server
	coordinator *coordinator.Coordinator
	startTime   time.Time
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// NewHTTPServer builds the admin server on the given address.
func NewHTTPServer(addr string, coord *coordinator.Coordinator, registry *prom.Registry) *HTTPServer {
	s := &HTTPServer{
		coordinator: coord,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /statusz", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *HTTPServer) Start() {
	go func() {
		slog.Info("Admin HTTP server listening", slog.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin HTTP server failed", logfields.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(sctx); err != nil {
		slog.Warn("Admin HTTP server shutdown failed", logfields.Error(err))
	}
}

// handleHealth reports liveness. Degraded (store unhealthy) still answers 200
// because the cache keeps serving; only process-level failure is a 503, and
// then nothing answers at all.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if !s.coordinator.StoreHealthy() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	})
}

// handleStatus reports the coordinator's diagnostic snapshot.
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Diagnostics(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode admin response", logfields.Error(err))
	}
}
