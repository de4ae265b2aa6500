// Package health serves the operational endpoints on a port separate from the
// site:
// - GET /health returns 102 Processing until plugins are loaded and the
//   sentinel directory is in place, then 200 OK with body "ok"
// - GET /metrics exposes Prometheus metrics when a handler is given. For the
//   site these are the discovery histograms (toomanypages_discovery_duration_seconds,
//   toomanypages_pages_discovered), which show whether ordinary requests really
//   skip page discovery, plus the request and cache lookup counters.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Server provides health check endpoints
type Server struct {
	server *http.Server
	ready  *int32 // atomic flag for readiness state
}

// New creates a new health server on the specified port. metrics may be nil.
func New(port int, metrics http.Handler) *Server {
	var ready int32 // 0 = not ready, 1 = ready

	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:    ":" + strconv.Itoa(port),
			Handler: mux,
		},
		ready: &ready,
	}

	mux.HandleFunc("/health", s.healthHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return s
}

// Start begins listening for health check requests
func (s *Server) Start() error {
	slog.Info("Starting health server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Ready reports the current readiness state
func (s *Server) Ready() bool {
	return atomic.LoadInt32(s.ready) == 1
}

// Stop gracefully shuts down the health server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// MarkReady sets the server state to ready, causing /health to return 200
func (s *Server) MarkReady() {
	atomic.StoreInt32(s.ready, 1)
	slog.Info("Health server marked as ready")
}

// MarkNotReady sets the server state to not ready, causing /health to return 102
func (s *Server) MarkNotReady() {
	atomic.StoreInt32(s.ready, 0)
	slog.Info("Health server marked as not ready")
}

// healthHandler handles GET /health requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if s.Ready() {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("ok"))
		if err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	} else {
		w.WriteHeader(http.StatusProcessing) // 102 Processing
		_, err := w.Write([]byte("starting"))
		if err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	}
}