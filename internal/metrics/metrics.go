// Package metrics exposes Prometheus instrumentation for the workflow
// engine. A nil *Metrics disables collection, so callers never guard
// their instrumentation sites.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	turnsTotal       *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	workflowsTotal   *prometheus.CounterVec
	checkpointsOpen  prometheus.Gauge
	workflowsRunning prometheus.Gauge

	registry *prometheus.Registry
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "turns_total",
			Help:      "Model turns executed, by stop reason.",
		},
		[]string{"stop_reason"},
	)
	m.toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched, by server and outcome.",
		},
		[]string{"server", "status"},
	)
	m.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "weft",
			Name:      "tool_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server"},
	)
	m.workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "workflows_total",
			Help:      "Finished workflows, by outcome.",
		},
		[]string{"outcome"},
	)
	m.checkpointsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "weft",
			Name:      "checkpoints_open",
			Help:      "Workflows currently waiting on an approval.",
		},
	)
	m.workflowsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "weft",
			Name:      "workflows_running",
			Help:      "Workflows currently executing.",
		},
	)

	m.registry.MustRegister(
		m.turnsTotal,
		m.toolCallsTotal,
		m.toolDuration,
		m.workflowsTotal,
		m.checkpointsOpen,
		m.workflowsRunning,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Turn records one completed model turn.
func (m *Metrics) Turn(stopReason string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(stopReason).Inc()
}

// ToolCall records one dispatched tool call and its duration.
func (m *Metrics) ToolCall(server, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(server, status).Inc()
	m.toolDuration.WithLabelValues(server).Observe(d.Seconds())
}

// WorkflowFinished records a terminal workflow outcome.
func (m *Metrics) WorkflowFinished(outcome string) {
	if m == nil {
		return
	}
	m.workflowsTotal.WithLabelValues(outcome).Inc()
}

// WorkflowStarted marks a workflow as running.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsRunning.Inc()
}

// WorkflowStopped marks a workflow as no longer running.
func (m *Metrics) WorkflowStopped() {
	if m == nil {
		return
	}
	m.workflowsRunning.Dec()
}

// CheckpointOpened marks a workflow as blocked on approval.
func (m *Metrics) CheckpointOpened() {
	if m == nil {
		return
	}
	m.checkpointsOpen.Inc()
}

// CheckpointClosed marks an approval as resolved.
func (m *Metrics) CheckpointClosed() {
	if m == nil {
		return
	}
	m.checkpointsOpen.Dec()
}
