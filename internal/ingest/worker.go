// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package ingest

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/metrics"
	"github.com/talosops/cloudsentry/internal/model"
	"github.com/talosops/cloudsentry/internal/queue"
	"github.com/talosops/cloudsentry/internal/store"
)

// defaultWorkerBuffer bounds the store-and-publish backlog. A full buffer
// blocks the request handler, applying backpressure instead of dropping.
const defaultWorkerBuffer = 1024

// Worker persists and publishes normalized events off the request path.
// A store failure drops the event with a log line; a publish failure logs
// only (the event is durable, just not queued).
type Worker struct {
	store store.EventStore
	queue queue.WorkQueue

	events chan *model.CanonicalEvent
}

// NewWorker creates a worker with the default buffer.
func NewWorker(st store.EventStore, q queue.WorkQueue) *Worker {
	return NewWorkerWithBuffer(st, q, defaultWorkerBuffer)
}

// NewWorkerWithBuffer creates a worker with an explicit buffer size.
func NewWorkerWithBuffer(st store.EventStore, q queue.WorkQueue, buffer int) *Worker {
	return &Worker{
		store:  st,
		queue:  q,
		events: make(chan *model.CanonicalEvent, buffer),
	}
}

// Enqueue hands an event to the worker. Blocks when the buffer is full.
func (w *Worker) Enqueue(event *model.CanonicalEvent) {
	w.events <- event
	metrics.IngestWorkerDepth.Set(float64(len(w.events)))
}

// Serve implements suture.Service: drain the buffer until the context is
// cancelled, then finish what is already buffered.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.events:
			w.process(ctx, event)
			metrics.IngestWorkerDepth.Set(float64(len(w.events)))
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (w *Worker) String() string {
	return "ingest-worker"
}

// drain processes whatever is already buffered at shutdown.
func (w *Worker) drain() {
	for {
		select {
		case event := <-w.events:
			w.process(context.Background(), event)
		default:
			return
		}
	}
}

// process stores then publishes one event.
func (w *Worker) process(ctx context.Context, event *model.CanonicalEvent) {
	if err := w.store.Put(ctx, event); err != nil {
		logging.Error().
			Err(err).
			Str("event_id", event.EventID).
			Msg("Store put failed, dropping event")
		return
	}

	body, err := json.Marshal(model.QueueMessage{
		EventID:   event.EventID,
		Source:    string(event.Source),
		Severity:  string(event.Severity),
		EventType: event.EventType,
	})
	if err != nil {
		logging.Error().Err(err).Str("event_id", event.EventID).Msg("Queue message marshal failed")
		return
	}

	attrs := map[string]string{
		"Severity": string(event.Severity),
		"Source":   string(event.Source),
	}
	if err := w.queue.Publish(ctx, body, attrs); err != nil {
		// Event is durable; the processor will never see it until a
		// republish, but ingestion does not fail.
		logging.Error().
			Err(err).
			Str("event_id", event.EventID).
			Msg("Queue publish failed")
	}
}
