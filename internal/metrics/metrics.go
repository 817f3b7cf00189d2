// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest Metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of events accepted at the ingest surface",
		},
		[]string{"source"},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_dropped_total",
			Help: "Total number of malformed records dropped during normalization",
		},
		[]string{"source"},
	)

	IngestWorkerDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_worker_depth",
			Help: "Current number of events buffered in the ingest worker",
		},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of event store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "put", "get", "scan", "update", "stats"
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of event store operation errors",
		},
		[]string{"operation"},
	)

	// Queue Metrics
	QueueMessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_published_total",
			Help: "Total number of messages published to the work queue",
		},
	)

	QueueMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_received_total",
			Help: "Total number of messages received from the work queue",
		},
	)

	QueueMessagesAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_acked_total",
			Help: "Total number of messages acknowledged after processing",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of messages pending in the work queue",
		},
	)

	// Pipeline Metrics
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_events_processed_total",
			Help: "Total number of events scored and persisted by the processor",
		},
	)

	ProcessingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_processing_failures_total",
			Help: "Total number of messages left unacked for redelivery",
		},
	)

	CorrelationsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_correlations_found_total",
			Help: "Total number of correlation records detected",
		},
		[]string{"rule"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_tick_duration_seconds",
			Help:    "Duration of processor ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_size",
			Help:    "Number of messages pulled per processor tick",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	RiskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_risk_scores",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Alerting Metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Total number of alerts dispatched",
		},
		[]string{"type"}, // "event", "correlation"
	)

	AlertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_failures_total",
			Help: "Total number of alert dispatch failures",
		},
	)

	AlertBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_breaker_state",
			Help: "Alert sink circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordStoreOperation records one store operation.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records one API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTick records one processor tick.
func RecordTick(batch int, duration time.Duration) {
	BatchSize.Observe(float64(batch))
	TickDuration.Observe(duration.Seconds())
}
