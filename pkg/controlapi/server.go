// Package controlapi provides the engine's read-only control surface:
// /healthz, /status, /stats and /metrics, as named in the external
// interfaces section of the design. It never mutates engine state -
// configuration changes and fault injection are driven by the config
// file and the dispatcher, not this API.
package controlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/health"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/status"
)

// MetricsProvider supplies the Prometheus scrape handler mounted at
// /metrics. internal/metrics.Collector implements it.
type MetricsProvider interface {
	Handler() http.Handler
}

// StatsProvider supplies a snapshot of the engine's operation and fault
// counters for the /stats endpoint.
type StatsProvider interface {
	Snapshot() interface{}
}

// Server provides HTTP API endpoints for monitoring.
type Server struct {
	httpServer    *http.Server
	statusTracker *status.Tracker
	healthTracker *health.Tracker
	stats         StatsProvider
	metrics       MetricsProvider
	config        ServerConfig
}

// ServerConfig configures the control API server.
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:9470")
	Address string `yaml:"address" json:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:9470",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// NewServer creates a new control API server. metrics may be nil, in
// which case /metrics responds 503 rather than being unmounted, so
// clients get a clear signal rather than a generic 404.
func NewServer(config ServerConfig, statusTracker *status.Tracker, healthTracker *health.Tracker, stats StatsProvider, metrics MetricsProvider) *Server {
	s := &Server{
		statusTracker: statusTracker,
		healthTracker: healthTracker,
		stats:         stats,
		metrics:       metrics,
		config:        config,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	mux.HandleFunc("/status", s.handleSystemStatus)
	mux.HandleFunc("/status/operations", s.handleOperations)
	mux.HandleFunc("/status/operations/", s.handleOperation)
	mux.HandleFunc("/status/history", s.handleHistory)

	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("/info", s.handleInfo)

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting control API server on %s", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("control API server error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("shutting down control API server...")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	components := s.healthTracker.GetAllComponents()

	response := map[string]interface{}{
		"status":     overallHealth.String(),
		"timestamp":  time.Now(),
		"components": len(components),
	}

	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "health tracking not configured")
		return
	}

	components := s.healthTracker.GetAllComponents()
	s.respondJSON(w, http.StatusOK, components)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	ready := overallHealth != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overallHealth.String(),
		"timestamp": time.Now(),
	})
}

// Status endpoint handlers

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	systemStatus := s.statusTracker.GetSystemStatus()
	s.respondJSON(w, http.StatusOK, systemStatus)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	operations := s.statusTracker.GetAllOperations()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": operations,
		"count":      len(operations),
		"timestamp":  time.Now(),
	})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	opID := r.URL.Path[len("/status/operations/"):]
	if opID == "" {
		s.respondError(w, http.StatusBadRequest, "operation ID required")
		return
	}

	operation, err := s.statusTracker.GetOperation(opID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("operation not found: %s", opID))
		return
	}

	s.respondJSON(w, http.StatusOK, operation)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.statusTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "status tracking not configured")
		return
	}

	limitStr := r.URL.Query().Get("limit")
	limit := 10
	if limitStr != "" {
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err != nil {
			limit = 10
		}
	}

	history := s.statusTracker.GetHistory(limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"history":   history,
		"count":     len(history),
		"limit":     limit,
		"timestamp": time.Now(),
	})
}

// handleStats reports the statistics & trigger oracle's current counters:
// per-operation and global call counts and byte totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.stats == nil {
		s.respondError(w, http.StatusServiceUnavailable, "statistics not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.stats.Snapshot())
}

// handleMetrics serves Prometheus-formatted metrics by delegating to
// the metrics collector's own scrape handler.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "metrics not configured")
		return
	}

	s.metrics.Handler().ServeHTTP(w, r)
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info := map[string]interface{}{
		"service":   "fault-injection-engine control API",
		"timestamp": time.Now(),
		"endpoints": []string{
			"/healthz",
			"/health/components",
			"/health/live",
			"/health/ready",
			"/status",
			"/status/operations",
			"/status/operations/{id}",
			"/status/history",
			"/stats",
			"/metrics",
			"/info",
		},
	}

	s.respondJSON(w, http.StatusOK, info)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("control API: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		log.Printf("control API: %s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("error encoding JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
