// Package metrics exposes Prometheus instrumentation for the engine
// and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished executions by terminal status.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "engine",
		Name:      "executions_total",
		Help:      "Finished workflow executions by terminal status.",
	}, []string{"status"})

	// ExecutionsInFlight tracks executions past admission.
	ExecutionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentflow",
		Subsystem: "engine",
		Name:      "executions_in_flight",
		Help:      "Workflow executions currently running.",
	})

	// ExecutionsTimedOut counts runs cancelled by the stale monitor.
	ExecutionsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "engine",
		Name:      "executions_timed_out_total",
		Help:      "Workflow executions cancelled for exceeding the wall clock limit.",
	})

	// NodeExecutions counts node-level agent runs by agent kind and result.
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "engine",
		Name:      "node_executions_total",
		Help:      "Node executions by agent kind and result.",
	}, []string{"agent_kind", "result"})

	// NodeDuration observes per-node agent latency.
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentflow",
		Subsystem: "engine",
		Name:      "node_duration_seconds",
		Help:      "Node execution latency by agent kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"agent_kind"})

	// WebsocketConnections tracks live collaboration clients.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentflow",
		Subsystem: "collab",
		Name:      "websocket_connections",
		Help:      "Open collaboration websocket connections.",
	})

	// HTTPRequests counts API requests by method, route and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})
)
