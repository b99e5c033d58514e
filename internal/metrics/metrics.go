// Package metrics holds the Prometheus collectors of one application
// instance on a private registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// Metrics holds all Prometheus metrics of the engine. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	nodesFinished   *prometheus.CounterVec
	nodeRetries     *prometheus.CounterVec
	connectorCalls  *prometheus.CounterVec
	connectorTiming *prometheus.HistogramVec
	checkpointHits  prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestsActive  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics instance with every collector registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		nodesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "privacyflow_nodes_finished_total",
				Help: "Nodes that reached a terminal state, by dataset and status",
			},
			[]string{"dataset", "status"},
		),
		nodeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "privacyflow_node_retries_total",
				Help: "Node attempts that failed with a recoverable error and were retried",
			},
			[]string{"dataset", "error_type"},
		),
		connectorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "privacyflow_connector_calls_total",
				Help: "Connector calls by connection, operation and outcome",
			},
			[]string{"connection", "op", "outcome"},
		),
		connectorTiming: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "privacyflow_connector_call_duration_seconds",
				Help:    "Connector call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"connection", "op"},
		),
		checkpointHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "privacyflow_checkpoint_hits_total",
				Help: "Nodes restored from the checkpoint cache instead of being executed",
			},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "privacyflow_requests_total",
				Help: "Finished privacy requests by mode and status",
			},
			[]string{"mode", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "privacyflow_request_duration_seconds",
				Help:    "End-to-end privacy request duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
			},
			[]string{"mode"},
		),
		requestsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "privacyflow_requests_active",
				Help: "Privacy requests currently executing",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.nodesFinished,
		m.nodeRetries,
		m.connectorCalls,
		m.connectorTiming,
		m.checkpointHits,
		m.requestsTotal,
		m.requestDuration,
		m.requestsActive,
	)
	return m
}

// Retried implements scheduler.Observer.
func (m *Metrics) Retried(addr nodeid.Address, _ int, err error) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(addr.Dataset, errorType(err)).Inc()
}

// Finished implements scheduler.Observer.
func (m *Metrics) Finished(addr nodeid.Address, status node.Status) {
	if m == nil {
		return
	}
	m.nodesFinished.WithLabelValues(addr.Dataset, status.String()).Inc()
}

// RecordCall records one connector call.
func (m *Metrics) RecordCall(connection, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorType(err)
	}
	m.connectorCalls.WithLabelValues(connection, op, outcome).Inc()
	m.connectorTiming.WithLabelValues(connection, op).Observe(d.Seconds())
}

// RecordCheckpointHits counts nodes restored from the cache.
func (m *Metrics) RecordCheckpointHits(n int) {
	if m == nil || n == 0 {
		return
	}
	m.checkpointHits.Add(float64(n))
}

// RequestStarted marks a request as executing.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsActive.Inc()
}

// RequestFinished records the end of a request.
func (m *Metrics) RequestFinished(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsActive.Dec()
	m.requestsTotal.WithLabelValues(mode, status).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func errorType(err error) string {
	var rl *privacyerr.RateLimitTimeout
	var ce *privacyerr.ConnectorError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &rl):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ce):
		return "connector"
	}
	return "other"
}
