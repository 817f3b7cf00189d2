// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package pipeline drives event processing: pull a batch from the queue,
// correlate the recent window once, then score, alert, and persist each
// event. Messages are acked only after their event is durably updated, so
// a crash mid-batch redelivers the remainder.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/alerting"
	"github.com/talosops/cloudsentry/internal/correlate"
	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/metrics"
	"github.com/talosops/cloudsentry/internal/model"
	"github.com/talosops/cloudsentry/internal/queue"
	"github.com/talosops/cloudsentry/internal/store"
)

// AlertDispatcher is the alert surface the processor needs. Satisfied by
// *alerting.Dispatcher.
type AlertDispatcher interface {
	SendEventAlert(ctx context.Context, event *model.CanonicalEvent, riskScore int, correlations []*model.CorrelationRecord) bool
	SendCorrelationAlert(ctx context.Context, correlation *model.CorrelationRecord) bool
}

// Config tunes the processor loop.
type Config struct {
	// BatchSize is the maximum messages pulled per tick.
	BatchSize int

	// PollInterval is the long-poll wait when the queue is empty, and the
	// backoff after a receive failure.
	PollInterval time.Duration

	// CorrelationWindow is the lookback loaded from the store per batch.
	CorrelationWindow time.Duration

	// Alerting thresholds per the alerting decision.
	Thresholds alerting.Thresholds
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         10,
		PollInterval:      5 * time.Second,
		CorrelationWindow: 60 * time.Minute,
		Thresholds:        alerting.DefaultThresholds(),
	}
}

// Stats is a snapshot of processor counters.
type Stats struct {
	EventsProcessed   int64      `json:"events_processed"`
	AlertsSent        int64      `json:"alerts_sent"`
	CorrelationsFound int        `json:"correlations_found"`
	LastProcessedAt   *time.Time `json:"last_processed_at,omitempty"`
}

// Processor is the supervised queue-processing service.
type Processor struct {
	cfg        Config
	store      store.EventStore
	queue      queue.WorkQueue
	engine     *correlate.Engine
	dispatcher AlertDispatcher

	// now is injectable for deterministic tick tests.
	now func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a processor.
func New(cfg Config, st store.EventStore, q queue.WorkQueue, engine *correlate.Engine, dispatcher AlertDispatcher) *Processor {
	return &Processor{
		cfg:        cfg,
		store:      st,
		queue:      q,
		engine:     engine,
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Serve implements suture.Service: run ticks until the context is
// cancelled. An in-flight tick completes before exit; unacked messages
// redeliver after the visibility timeout.
func (p *Processor) Serve(ctx context.Context) error {
	logging.Info().
		Int("batch_size", p.cfg.BatchSize).
		Dur("poll_interval", p.cfg.PollInterval).
		Dur("correlation_window", p.cfg.CorrelationWindow).
		Msg("Event processor started")

	for {
		if err := ctx.Err(); err != nil {
			logging.Info().Msg("Event processor stopping")
			return err
		}
		p.Tick(ctx)
	}
}

// String implements fmt.Stringer for supervision logs.
func (p *Processor) String() string {
	return "event-processor"
}

// Tick runs one poll-correlate-process round.
func (p *Processor) Tick(ctx context.Context) {
	messages, err := p.queue.Receive(ctx, p.cfg.BatchSize, p.cfg.PollInterval)
	if err != nil {
		logging.Error().Err(err).Msg("Queue receive failed")
		p.sleep(ctx, p.cfg.PollInterval)
		return
	}
	if len(messages) == 0 {
		return
	}
	tickStart := time.Now()

	now := p.now()
	window, err := p.loadWindow(ctx, now)
	if err != nil {
		// Leave the whole batch unacked; it redelivers.
		logging.Error().Err(err).Msg("Window load failed")
		return
	}

	correlations := p.engine.Correlate(window)

	byID := make(map[string]*model.CanonicalEvent, len(window))
	for _, e := range window {
		byID[e.EventID] = e
	}

	p.mu.Lock()
	p.stats.CorrelationsFound = len(correlations)
	p.mu.Unlock()
	for _, c := range correlations {
		metrics.CorrelationsFound.WithLabelValues(c.Rule).Inc()
	}

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg, byID, correlations, now); err != nil {
			metrics.ProcessingFailures.Inc()
			logging.Warn().
				Err(err).
				Str("receipt", msg.ReceiptHandle).
				Msg("Message left for redelivery")
			continue
		}
		if err := p.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			logging.Warn().Err(err).Msg("Queue delete failed")
		}
	}
	metrics.RecordTick(len(messages), time.Since(tickStart))
}

// loadWindow reads the correlation lookback from the store.
func (p *Processor) loadWindow(ctx context.Context, now time.Time) ([]*model.CanonicalEvent, error) {
	start := now.Add(-p.cfg.CorrelationWindow)
	return p.store.Scan(ctx, &model.EventFilter{Start: &start})
}

// processMessage handles one queue message. An error leaves the message
// unacked.
func (p *Processor) processMessage(ctx context.Context, msg queue.Message, window map[string]*model.CanonicalEvent, correlations []*model.CorrelationRecord, now time.Time) error {
	var body model.QueueMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return fmt.Errorf("parse message body: %w", err)
	}
	if body.EventID == "" {
		return fmt.Errorf("message body has no event_id")
	}

	event, ok := window[body.EventID]
	if !ok {
		return fmt.Errorf("event %s not in correlation window", body.EventID)
	}

	riskScore := correlate.RiskScore(event, correlations)
	metrics.RiskScores.Observe(float64(riskScore))

	var eventCorrelations []*model.CorrelationRecord
	for _, c := range correlations {
		if c.Contains(event.EventID) {
			eventCorrelations = append(eventCorrelations, c)
		}
	}

	alertsSent := int64(0)
	if alerting.ShouldAlert(event, riskScore, p.cfg.Thresholds) {
		if p.dispatcher.SendEventAlert(ctx, event, riskScore, eventCorrelations) {
			alertsSent++
		}
	}

	// One correlation alert per correlation, dispatched by its
	// chronologically-first member only.
	for _, c := range eventCorrelations {
		if c.FirstEventID() == event.EventID {
			if p.dispatcher.SendCorrelationAlert(ctx, c) {
				alertsSent++
			}
		}
	}

	patch := store.UpdatePatch{
		Status:      model.StatusProcessed,
		ProcessedAt: &now,
		RiskScore:   &riskScore,
	}
	if len(eventCorrelations) > 0 {
		patch.CorrelationID = eventCorrelations[0].CorrelationID
	}
	if err := p.store.Update(ctx, event.EventID, patch); err != nil {
		return fmt.Errorf("update event %s: %w", event.EventID, err)
	}

	metrics.EventsProcessed.Inc()
	p.mu.Lock()
	p.stats.EventsProcessed++
	p.stats.AlertsSent += alertsSent
	t := now
	p.stats.LastProcessedAt = &t
	p.mu.Unlock()

	logging.Debug().
		Str("event_id", event.EventID).
		Int("risk_score", riskScore).
		Int("correlations", len(eventCorrelations)).
		Msg("Processed event")
	return nil
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := p.stats
	if p.stats.LastProcessedAt != nil {
		t := *p.stats.LastProcessedAt
		snapshot.LastProcessedAt = &t
	}
	return snapshot
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
