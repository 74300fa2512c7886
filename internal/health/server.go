package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor *Monitor
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// healthSummary is the compact /health payload: one overall status and
// one status per pipeline.
type healthSummary struct {
	Status    SystemStatus            `json:"status"`
	Pipelines map[string]SystemStatus `json:"pipelines"`
	CheckedAt time.Time               `json:"checked_at"`
}

// aggregate folds per-pipeline health into a summary, worst case wins.
func aggregate(report map[string]PipelineHealth) healthSummary {
	summary := healthSummary{
		Status:    StatusHealthy,
		Pipelines: make(map[string]SystemStatus, len(report)),
		CheckedAt: time.Now().UTC(),
	}
	for name, p := range report {
		summary.Pipelines[name] = p.Status
		switch {
		case p.Status == StatusCritical:
			summary.Status = StatusCritical
		case p.Status == StatusDegraded && summary.Status == StatusHealthy:
			summary.Status = StatusDegraded
		}
	}
	return summary
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := aggregate(s.monitor.CheckHealth(r.Context()))

	w.Header().Set("Content-Type", "application/json")
	if summary.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    aggregate(report).Status,
		"pipelines": report,
	})
}
