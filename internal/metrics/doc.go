/*
Package metrics provides Prometheus-based metrics collection for the
fault-injection engine.

# Overview

The metrics package tracks dispatched operations, injected faults, and
non-fault errors, exporting both Prometheus metrics (for scraping) and a
lightweight JSON/text debug view for troubleshooting without Prometheus.

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /debug/metrics │
	│ - Counters   │         │  /debug/operations │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: the main metrics collector. It maintains both Prometheus
metrics (for monitoring systems) and internal per-operation tracking
(for the debug endpoints).

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9469,
		Path:      "/metrics",
		Namespace: "faultfs",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

The collector tracks each dispatched operation's latency and outcome:

	start := time.Now()
	err := dispatch(op)
	collector.RecordOperation(op.String(), time.Since(start), err == nil)

# Fault Metrics

Each time the fault policy engine decides to inject a fault, it reports
the kind so operators can see fault rates broken down by operation:

	collector.RecordFault("write", "corruption")
	collector.RecordFault("read", "delay")

# Error Tracking

Errors that are not fault-driven (pass-through host failures, engine
internal errors) are recorded and classified separately:

	if err != nil {
		collector.RecordError("open", err)
	}

# Prometheus Metrics

The collector exports:

Counters:
  - faultfs_operations_total{operation,status}
  - faultfs_faults_injected_total{operation,kind}
  - faultfs_errors_total{operation,type}

Histograms:
  - faultfs_operation_duration_seconds{operation}

Gauges:
  - faultfs_open_handles

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)

/debug/metrics - Human-readable JSON metrics summary

/debug/operations - Tabular operations summary

# Thread Safety

All Collector methods are safe for concurrent use.

# See Also

  - pkg/health: liveness/readiness tracking
  - internal/circuit: circuit breaker guarding log-sink delivery
  - pkg/errors: structured error handling
*/
package metrics
