// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

/*
Package metrics provides Prometheus metrics collection and export.

Metrics cover every stage of the event path: ingest, the event store,
the work queue, the correlation pipeline, and alert dispatch. They are
exposed at the /metrics endpoint of the query server in Prometheus text
format:

	curl http://localhost:8081/metrics

# Available Metrics

Ingest:
  - ingest_events_total: accepted events (counter)
    Labels: source (cloudaudit, threatdetector, custom)
  - ingest_records_dropped_total: malformed records dropped (counter)
    Labels: source
  - ingest_worker_depth: buffered events awaiting store-and-publish (gauge)

Store:
  - store_operation_duration_seconds: BadgerDB operation latency (histogram)
    Labels: operation (put, get, scan, update, stats)
  - store_errors_total: failed store operations (counter)
    Labels: operation

Queue:
  - queue_messages_published_total / _received_total / _acked_total (counters)
  - queue_depth: pending messages in the JetStream work queue (gauge)

Pipeline:
  - pipeline_events_processed_total: events scored and persisted (counter)
  - pipeline_processing_failures_total: messages left for redelivery (counter)
  - pipeline_correlations_found_total: detections (counter)
    Labels: rule (brute_force, privilege_escalation, ...)
  - pipeline_tick_duration_seconds, pipeline_batch_size, pipeline_risk_scores
    (histograms)

Alerting:
  - alerts_sent_total: dispatched alerts (counter); Labels: type (event, correlation)
  - alert_failures_total: dispatch failures (counter)
  - alert_breaker_state: sink breaker state, 0=closed 1=half-open 2=open (gauge)

API:
  - api_requests_total (counter); Labels: method, endpoint, status_code
  - api_request_duration_seconds (histogram); Labels: method, endpoint

Example PromQL:

	# Ingest rate by source
	rate(ingest_events_total[5m])

	# p95 API latency
	histogram_quantile(0.95, rate(api_request_duration_seconds_bucket[5m]))

	# Detection rate by rule
	rate(pipeline_correlations_found_total[15m])

# Thread Safety

All recording functions are safe for concurrent use; synchronization is
handled by the Prometheus client library.

# Cardinality

Endpoint labels use chi route patterns, not raw paths, and rule labels
come from the fixed rule set, so series counts stay bounded.
*/
package metrics
