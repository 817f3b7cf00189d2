// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package store persists canonical events.
//
// The store is a keyed document table: events live under `event:<id>` as
// JSON. Scans iterate the prefix applying the caller's filter; range queries
// beyond that are a non-goal at this scale.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/talosops/cloudsentry/internal/model"
)

// ErrEventNotFound indicates a lookup for an id the store does not hold.
var ErrEventNotFound = errors.New("event not found")

// EventStore is the persistence boundary for canonical events.
type EventStore interface {
	// Put stores an event. Writing the same event id twice is idempotent;
	// the last write wins.
	Put(ctx context.Context, event *model.CanonicalEvent) error

	// Get returns the event with the given id, or ErrEventNotFound.
	Get(ctx context.Context, eventID string) (*model.CanonicalEvent, error)

	// Scan returns events matching the filter, newest first, honoring the
	// filter's limit and offset.
	Scan(ctx context.Context, filter *model.EventFilter) ([]*model.CanonicalEvent, error)

	// Update applies a patch to the stored event. Status moves only
	// forward and severity never downgrades; a patch that would regress
	// either is applied partially, keeping the stored value.
	Update(ctx context.Context, eventID string, patch UpdatePatch) error

	// Stats aggregates counts for the query API.
	Stats(ctx context.Context) (*EventStats, error)

	// Health reports whether the store can serve reads.
	Health(ctx context.Context) error

	Close() error
}

// UpdatePatch is a partial update for a stored event. Nil/zero fields are
// left untouched.
type UpdatePatch struct {
	Status        model.Status
	ProcessedAt   *time.Time
	RiskScore     *int
	CorrelationID string

	// Severity upgrades the stored severity; downgrades are ignored.
	Severity model.Severity

	// RelatedEventIDs replaces the stored set when non-nil.
	RelatedEventIDs []string
}

// EventStats summarizes the stored event population.
type EventStats struct {
	TotalEvents int            `json:"total_events"`
	BySeverity  map[string]int `json:"by_severity"`
	BySource    map[string]int `json:"by_source"`
	ByCategory  map[string]int `json:"by_category"`
	Last24h     int            `json:"last_24h"`
	Correlated  int            `json:"correlated"`
}
