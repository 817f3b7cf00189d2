// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package alerting

import (
	"context"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/metrics"
	"github.com/talosops/cloudsentry/internal/model"
)

// Alert subjects on the notification bus.
const (
	SubjectEventAlerts       = "alerts.events"
	SubjectCorrelationAlerts = "alerts.correlations"
)

// Sink publishes one alert message with attributes. Implemented by the
// NATS connection in production and by fakes in tests.
type Sink interface {
	Publish(ctx context.Context, subject string, body []byte, attrs map[string]string) error
}

// NATSSink publishes alerts as NATS messages with attribute headers.
type NATSSink struct {
	nc *nats.Conn
}

// NewNATSSink wraps a NATS connection as an alert sink.
func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

// Publish sends one alert message. Attributes travel as headers.
func (s *NATSSink) Publish(ctx context.Context, subject string, body []byte, attrs map[string]string) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    body,
	}
	if len(attrs) > 0 {
		msg.Header = make(nats.Header, len(attrs))
		for k, v := range attrs {
			msg.Header.Set(k, v)
		}
	}
	return s.nc.PublishMsg(msg)
}

// Dispatcher sends formatted alerts through a circuit breaker so a dead
// sink cannot stall the pipeline with per-message timeouts.
type Dispatcher struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewDispatcher creates a dispatcher around the sink.
func NewDispatcher(sink Sink) *Dispatcher {
	settings := gobreaker.Settings{
		Name:        "alert-sink",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.AlertBreakerState.Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Alert sink circuit breaker state changed")
		},
	}
	return &Dispatcher{
		sink:    sink,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// SendEventAlert formats and dispatches an alert for one event. Returns
// whether the alert went out; failure is logged, never propagated.
func (d *Dispatcher) SendEventAlert(ctx context.Context, event *model.CanonicalEvent, riskScore int, correlations []*model.CorrelationRecord) bool {
	body := FormatEventAlert(event, riskScore, correlations)
	attrs := map[string]string{
		"Subject":    EventAlertSubject(event),
		"Severity":   string(event.Severity),
		"Event-Type": event.EventType,
		"Risk-Score": strconv.Itoa(riskScore),
	}

	if err := d.publish(ctx, SubjectEventAlerts, []byte(body), attrs); err != nil {
		metrics.AlertFailures.Inc()
		logging.Error().
			Err(err).
			Str("event_id", event.EventID).
			Msg("Failed to send event alert")
		return false
	}

	metrics.AlertsSent.WithLabelValues("event").Inc()
	logging.Info().
		Str("event_id", event.EventID).
		Str("severity", string(event.Severity)).
		Int("risk_score", riskScore).
		Msg("Sent event alert")
	return true
}

// SendCorrelationAlert formats and dispatches an alert for one correlation.
func (d *Dispatcher) SendCorrelationAlert(ctx context.Context, correlation *model.CorrelationRecord) bool {
	body := FormatCorrelationAlert(correlation)
	attrs := map[string]string{
		"Subject":    CorrelationAlertSubject(correlation),
		"Alert-Type": "correlation",
		"Rule":       correlation.Rule,
		"Severity":   string(correlation.Severity),
	}

	if err := d.publish(ctx, SubjectCorrelationAlerts, []byte(body), attrs); err != nil {
		metrics.AlertFailures.Inc()
		logging.Error().
			Err(err).
			Str("correlation_id", correlation.CorrelationID).
			Str("rule", correlation.Rule).
			Msg("Failed to send correlation alert")
		return false
	}

	metrics.AlertsSent.WithLabelValues("correlation").Inc()
	logging.Info().
		Str("correlation_id", correlation.CorrelationID).
		Str("rule", correlation.Rule).
		Msg("Sent correlation alert")
	return true
}

func (d *Dispatcher) publish(ctx context.Context, subject string, body []byte, attrs map[string]string) error {
	_, err := d.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, d.sink.Publish(ctx, subject, body, attrs)
	})
	return err
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
