// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package queue decouples ingestion from processing.
//
// The contract is at-least-once: a received message stays invisible for the
// ack-wait window and redelivers unless deleted. Consumers must tolerate
// duplicate delivery.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrReceiptNotFound indicates a delete for a receipt handle that is not
// in flight, usually because the ack-wait window expired and the message
// was redelivered.
var ErrReceiptNotFound = errors.New("receipt handle not in flight")

// Message is one received queue entry. ReceiptHandle identifies the
// in-flight delivery for Delete.
type Message struct {
	Body          []byte
	ReceiptHandle string
	Attributes    map[string]string
}

// WorkQueue is the transport between ingestion and the processing pipeline.
type WorkQueue interface {
	// Publish enqueues a message body with optional attributes.
	Publish(ctx context.Context, body []byte, attrs map[string]string) error

	// Receive returns up to max messages, long-polling up to wait when the
	// queue is empty. An empty queue returns an empty slice, not an error.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a received message so it is not redelivered.
	Delete(ctx context.Context, receiptHandle string) error

	// Health reports whether the queue connection is usable.
	Health(ctx context.Context) error
}
