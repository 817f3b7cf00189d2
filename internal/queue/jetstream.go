// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/metrics"
)

// Stream and consumer identity. One stream carries all normalized events;
// the pipeline consumes through one durable pull consumer.
const (
	StreamName      = "CLOUDSENTRY_EVENTS"
	SubjectOfEvents = "events.normalized"
	durableConsumer = "event-pipeline"
)

// JetStreamConfig tunes the stream and consumer.
type JetStreamConfig struct {
	// AckWait is the visibility timeout: how long a received message stays
	// invisible before redelivery.
	AckWait time.Duration

	MaxAge     time.Duration
	MaxBytes   int64
	MaxMsgs    int64
	MaxDeliver int
	MaxAckPend int
}

// DefaultJetStreamConfig returns production defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		AckWait:    5 * time.Minute,
		MaxAge:     72 * time.Hour,
		MaxBytes:   1 << 30, // 1GiB
		MaxMsgs:    1_000_000,
		MaxDeliver: 5,
		MaxAckPend: 1024,
	}
}

// JetStreamQueue implements WorkQueue on a NATS JetStream pull consumer.
type JetStreamQueue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      JetStreamConfig

	mu       sync.Mutex
	inFlight map[string]jetstream.Msg
}

// NewJetStreamQueue sets up the stream and durable consumer on an existing
// NATS connection.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	q := &JetStreamQueue{
		nc:       nc,
		js:       js,
		cfg:      cfg,
		inFlight: make(map[string]jetstream.Msg),
	}
	if err := q.ensureStream(ctx); err != nil {
		return nil, err
	}
	if err := q.ensureConsumer(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// ensureStream creates or updates the event stream.
func (q *JetStreamQueue) ensureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectOfEvents},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    q.cfg.MaxAge,
		MaxBytes:  q.cfg.MaxBytes,
		MaxMsgs:   q.cfg.MaxMsgs,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}

	if _, err := q.js.Stream(ctx, StreamName); err == nil {
		if _, err := q.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}
	if _, err := q.js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// ensureConsumer creates or updates the durable pull consumer.
func (q *JetStreamQueue) ensureConsumer(ctx context.Context) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
		MaxAckPending: q.cfg.MaxAckPend,
		FilterSubject: SubjectOfEvents,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	q.consumer = consumer
	return nil
}

// Publish enqueues one message. Attributes travel as NATS headers.
func (q *JetStreamQueue) Publish(ctx context.Context, body []byte, attrs map[string]string) error {
	msg := &nats.Msg{
		Subject: SubjectOfEvents,
		Data:    body,
	}
	if len(attrs) > 0 {
		msg.Header = make(nats.Header, len(attrs))
		for k, v := range attrs {
			msg.Header.Set(k, v)
		}
	}

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", SubjectOfEvents, err)
	}
	metrics.QueueMessagesPublished.Inc()
	return nil
}

// Receive fetches up to max messages, long-polling up to wait. Messages
// remain in flight until Delete is called or the ack-wait window expires.
func (q *JetStreamQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	batch, err := q.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var messages []Message
	for msg := range batch.Messages() {
		receipt := uuid.New().String()

		q.mu.Lock()
		q.inFlight[receipt] = msg
		q.mu.Unlock()

		attrs := make(map[string]string)
		for k := range msg.Headers() {
			attrs[k] = msg.Headers().Get(k)
		}

		messages = append(messages, Message{
			Body:          msg.Data(),
			ReceiptHandle: receipt,
			Attributes:    attrs,
		})
	}
	if err := batch.Error(); err != nil {
		// Partial fetch: deliver what arrived, log the rest.
		logging.Warn().Err(err).Msg("Fetch batch completed with error")
	}
	metrics.QueueMessagesReceived.Add(float64(len(messages)))
	return messages, nil
}

// Delete acknowledges the in-flight message for the receipt handle.
func (q *JetStreamQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	msg, ok := q.inFlight[receiptHandle]
	delete(q.inFlight, receiptHandle)
	q.mu.Unlock()

	if !ok {
		return ErrReceiptNotFound
	}
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	metrics.QueueMessagesAcked.Inc()
	return nil
}

// Health verifies the NATS connection and stream are reachable.
func (q *JetStreamQueue) Health(ctx context.Context) error {
	if !q.nc.IsConnected() {
		return errors.New("nats connection down")
	}
	if _, err := q.js.Stream(ctx, StreamName); err != nil {
		return fmt.Errorf("stream %s: %w", StreamName, err)
	}
	return nil
}

// PendingCount reports messages waiting in the stream, for the stats
// endpoint.
func (q *JetStreamQueue) PendingCount(ctx context.Context) (uint64, error) {
	stream, err := q.js.Stream(ctx, StreamName)
	if err != nil {
		return 0, fmt.Errorf("stream %s: %w", StreamName, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream info: %w", err)
	}
	metrics.QueueDepth.Set(float64(info.State.Msgs))
	return info.State.Msgs, nil
}
