// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection Metrics
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_verdicts_total",
			Help: "Total number of verdicts by action and reason",
		},
		[]string{"action", "reason"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "abuseguard_evaluation_duration_seconds",
			Help:    "Duration of a single request evaluation in seconds",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	BlockedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abuseguard_blocked_clients",
			Help: "Current number of blocked clients",
		},
	)

	TrackedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abuseguard_tracked_clients",
			Help: "Current number of clients with tracked activity",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abuseguard_active_connections",
			Help: "Current number of tracked open connections",
		},
	)

	MitigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_mitigations_total",
			Help: "Total number of block records created, by kind",
		},
		[]string{"kind"}, // "block", "escalation"
	)

	// Sweeper Metrics
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "abuseguard_sweep_duration_seconds",
			Help:    "Duration of a sweep pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_sweep_released_total",
			Help: "Total number of records released by the sweeper",
		},
		[]string{"kind"}, // "block", "suspicion", "client", "violation", "connection"
	)

	// Block List Metrics
	BlocklistSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_blocklist_sync_total",
			Help: "Total number of block list archive and feed operations",
		},
		[]string{"operation", "outcome"}, // operation: "snapshot", "restore", "pull", "push"
	)

	FeedCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "abuseguard_feed_circuit_state",
			Help: "Feed circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "abuseguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abuseguard_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abuseguard_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseguard_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseguard_websocket_messages_dropped_total",
			Help: "Total number of WebSocket messages dropped because a buffer was full",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "abuseguard_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordVerdict records one evaluation.
func RecordVerdict(action, reason string, duration time.Duration) {
	VerdictsTotal.WithLabelValues(action, reason).Inc()
	EvaluationDuration.Observe(duration.Seconds())
}

// RecordMitigation counts a created block record.
func RecordMitigation(kind string) {
	MitigationsTotal.WithLabelValues(kind).Inc()
}

// RecordSweep records a sweep pass and the records it released, keyed by kind.
func RecordSweep(duration time.Duration, released map[string]int) {
	SweepDuration.Observe(duration.Seconds())
	for kind, n := range released {
		if n > 0 {
			SweepReleased.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// SetEngineGauges updates the engine state gauges.
func SetEngineGauges(blocked, tracked, connections int) {
	BlockedClients.Set(float64(blocked))
	TrackedClients.Set(float64(tracked))
	ActiveConnections.Set(float64(connections))
}

// SetActiveConnections updates the open connection gauge.
func SetActiveConnections(n int) {
	ActiveConnections.Set(float64(n))
}

// RecordBlocklistSync records an archive or feed operation.
func RecordBlocklistSync(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	BlocklistSyncTotal.WithLabelValues(operation, outcome).Inc()
}

// SetFeedCircuitState records a breaker state: 0=closed, 1=half-open, 2=open.
func SetFeedCircuitState(name string, state int) {
	FeedCircuitState.WithLabelValues(name).Set(float64(state))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight HTTP requests.
func TrackActiveRequest(inc bool) {
	if inc {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}
