// Package health serves liveness, readiness and metrics endpoints over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

// Health states reported by /readiness.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StatsProvider is implemented by *peoplecounter.Driver.
type StatsProvider interface {
	Stats() peoplecounter.Stats
}

// BrokerStatus is implemented by the transports.
type BrokerStatus interface {
	Connected() bool
}

// Status is the /readiness response body.
type Status struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Running         bool   `json:"running"`
	BrokerConnected bool   `json:"broker_connected"`
	FramesProcessed uint64 `json:"frames_processed"`
	OccupancyCount  int    `json:"occupancy_count"`
	TotalEntries    int    `json:"total_entries"`
}

// Server exposes pipeline health over HTTP.
type Server struct {
	stats   StatsProvider
	broker  BrokerStatus
	clock   clock.Clock
	started time.Time
	router  *mux.Router
}

// NewServer creates the server. broker may be nil; clk nil means wall clock.
func NewServer(stats StatsProvider, broker BrokerStatus, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	s := &Server{
		stats:   stats,
		broker:  broker,
		clock:   clk,
		started: clk.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/readiness", s.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router = r

	return s
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Check computes the current health status.
func (s *Server) Check() Status {
	st := s.stats.Stats()
	status := Status{
		Status:          StatusHealthy,
		UptimeSeconds:   int64(s.clock.Since(s.started).Seconds()),
		Running:         st.Running,
		BrokerConnected: s.broker == nil || s.broker.Connected(),
		FramesProcessed: st.FramesProcessed,
		OccupancyCount:  st.Occupancy.DebouncedCount,
		TotalEntries:    st.Occupancy.TotalEntries,
	}

	switch {
	case !status.Running:
		status.Status = StatusUnhealthy
	case !status.BrokerConnected || st.ConsecutiveFailures > 0:
		status.Status = StatusDegraded
	}
	return status
}

// handleLiveness returns 200 while the process can serve requests.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(s.clock.Since(s.started).Seconds()),
	})
}

// handleReadiness returns 503 when the pipeline is not running.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	status := s.Check()
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: failed to write response", "error", err)
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
//
// The listener is opened before returning, so a bad address fails
// immediately; serving continues in a goroutine.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("health: serving",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health: server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health: shutdown", "error", err)
		}
	}()

	return nil
}
