// Package metrics exposes Prometheus counters and histograms for the
// fault-injection engine: per-operation call volume and latency, and
// per-kind fault injection counts, surfaced over the control API's
// /metrics endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements comprehensive metrics collection for the engine.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	faultCounter      *prometheus.CounterVec
	activeHandles     prometheus.Gauge
	errorCounter      *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// OperationMetrics tracks metrics for a specific operation kind.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           9469,
			Path:           "/metrics",
			Namespace:      "faultfs",
			Subsystem:      "",
			UpdateInterval: 30 * time.Second,
			Labels:         make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()

	collector := &Collector{
		config:     config,
		registry:   registry,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Handler returns the Prometheus scrape handler for this collector's
// registry, suitable for mounting directly into the control API's mux
// at /metrics instead of running a standalone server.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start starts a standalone metrics server, for deployments that prefer
// metrics on their own port rather than mounted into the control API.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/debug/metrics", c.debugMetricsHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	go c.updateLoop(ctx)

	return nil
}

// Stop stops the metrics collection server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one dispatcher call, successful or not.
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if metrics, exists := c.operations[operation]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		if !success {
			metrics.Errors++
		}
		metrics.LastOperation = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	} else {
		errs := int64(0)
		if !success {
			errs = 1
		}
		c.operations[operation] = &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			Errors:        errs,
			LastOperation: time.Now(),
			AvgDuration:   duration,
		}
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordFault records that the fault policy engine injected a fault of
// the given kind for the given operation.
func (c *Collector) RecordFault(operation, kind string) {
	if !c.config.Enabled {
		return
	}

	c.faultCounter.With(prometheus.Labels{
		"operation": operation,
		"kind":      kind,
	}).Inc()
}

// RecordError records a non-fault error (pass-through host error, engine
// internal error) surfaced to the caller.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      c.classifyError(err),
	}).Inc()
}

// UpdateActiveHandles updates the count of open file handles.
func (c *Collector) UpdateActiveHandles(count int) {
	if !c.config.Enabled {
		return
	}

	c.activeHandles.Set(float64(count))
}

// GetMetrics returns current metrics as a plain map for debug endpoints.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		cp := *v
		operations[k] = &cp
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics resets the internal per-operation tracking (not the
// Prometheus counters themselves, which are cumulative by design).
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() error {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operations_total",
			Help:      "Total number of dispatched filesystem operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of dispatched operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20), // 100us to ~50s, covers injected delays
		},
		[]string{"operation"},
	)

	c.faultCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "faults_injected_total",
			Help:      "Total number of faults injected, by operation and fault kind",
		},
		[]string{"operation", "kind"},
	)

	c.activeHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "open_handles",
			Help:      "Number of currently open file handles",
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Total number of non-fault errors returned to callers",
		},
		[]string{"operation", "type"},
	)

	return nil
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.faultCounter,
		c.activeHandles,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) classifyError(err error) string {
	errStr := err.Error()
	switch {
	case contains(errStr, "timeout"):
		return "timeout"
	case contains(errStr, "not found"):
		return "not_found"
	case contains(errStr, "permission"):
		return "permission"
	case contains(errStr, "busy"):
		return "resource"
	default:
		return "other"
	}
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Reserved for metrics that need periodic recomputation;
			// nothing currently does.
		}
	}
}

// HTTP handlers

func (c *Collector) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := c.GetMetrics()

	w.Header().Set("Content-Type", "application/json")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("{\n")
	writef("  \"uptime\": \"%v\",\n", metrics["uptime"])
	writef("  \"last_reset\": \"%v\",\n", metrics["last_reset"])
	writef("  \"operations\": {\n")

	if operations, ok := metrics["operations"].(map[string]*OperationMetrics); ok {
		first := true
		for name, op := range operations {
			if !first {
				writef(",\n")
			}
			writef("    \"%s\": {\n", name)
			writef("      \"count\": %d,\n", op.Count)
			writef("      \"errors\": %d,\n", op.Errors)
			writef("      \"avg_duration\": \"%v\"\n", op.AvgDuration)
			writef("    }")
			first = false
		}
	}

	writef("\n  }\n")
	writef("}\n")
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Operations Summary\n")
	writef("===================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-20s %10s %10s %14s %10s\n",
		"Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-20s %10s %10s %14s %10s\n",
		"----------", "-----", "------", "------------", "-------")

	for name, op := range c.operations {
		writef("%-20s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration,
			op.LastOperation.Format("15:04:05"))
	}
}

// Utility functions

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr ||
		(len(s) > len(substr) && indexOf(s, substr) >= 0))
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
