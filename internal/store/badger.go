// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/metrics"
	"github.com/talosops/cloudsentry/internal/model"
)

const eventKeyPrefix = "event:"

// BadgerStore implements EventStore on BadgerDB. Suitable for single-node
// deploys with persistence across restarts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) a BadgerDB-backed event store at
// the given path. An empty path opens an in-memory store.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already-open BadgerDB handle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Put stores an event under its id. Last write wins.
func (s *BadgerStore) Put(ctx context.Context, event *model.CanonicalEvent) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("put", time.Since(start), err) }()

	if event.EventID == "" {
		return errors.New("event has no id")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(event.EventID), data)
	})
}

// Get returns the event with the given id.
func (s *BadgerStore) Get(ctx context.Context, eventID string) (_ *model.CanonicalEvent, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("get", time.Since(start), err) }()

	var event model.CanonicalEvent

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Scan returns events matching the filter, newest first.
func (s *BadgerStore) Scan(ctx context.Context, filter *model.EventFilter) (_ []*model.CanonicalEvent, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("scan", time.Since(start), err) }()

	if filter == nil {
		filter = &model.EventFilter{}
	}

	var events []*model.CanonicalEvent
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var event model.CanonicalEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				// A corrupt value is skipped, not fatal for the scan.
				logging.Warn().Err(err).Msg("Skipping undecodable event record")
				continue
			}
			if filter.Matches(&event) {
				events = append(events, &event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].EventTime.After(events[j].EventTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			return nil, nil
		}
		events = events[filter.Offset:]
	}
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

// Update applies a patch under a single read-modify-write transaction.
func (s *BadgerStore) Update(ctx context.Context, eventID string, patch UpdatePatch) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("update", time.Since(start), err) }()

	return s.db.Update(func(txn *badger.Txn) error {
		key := eventKey(eventID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		var event model.CanonicalEvent
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		}); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}

		applyPatch(&event, patch)

		data, err := json.Marshal(&event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		return txn.Set(key, data)
	})
}

// applyPatch mutates the event per the patch, enforcing status and severity
// monotonicity.
func applyPatch(event *model.CanonicalEvent, patch UpdatePatch) {
	if patch.Status != "" && event.Status.CanAdvanceTo(patch.Status) {
		event.Status = patch.Status
	}
	if patch.Severity != "" && patch.Severity.Rank() > event.Severity.Rank() {
		event.Severity = patch.Severity
	}
	if patch.ProcessedAt != nil {
		t := patch.ProcessedAt.UTC()
		event.ProcessedAt = &t
	}
	if patch.RiskScore != nil {
		score := *patch.RiskScore
		event.RiskScore = &score
	}
	if patch.CorrelationID != "" {
		event.CorrelationID = patch.CorrelationID
	}
	if patch.RelatedEventIDs != nil {
		event.RelatedEventIDs = patch.RelatedEventIDs
	}
}

// Stats aggregates counts over a full prefix scan.
func (s *BadgerStore) Stats(ctx context.Context) (_ *EventStats, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("stats", time.Since(start), err) }()

	stats := &EventStats{
		BySeverity: make(map[string]int),
		BySource:   make(map[string]int),
		ByCategory: make(map[string]int),
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var event model.CanonicalEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				continue
			}

			stats.TotalEvents++
			stats.BySeverity[string(event.Severity)]++
			stats.BySource[string(event.Source)]++
			stats.ByCategory[string(event.EventCategory)]++
			if event.EventTime.After(cutoff) {
				stats.Last24h++
			}
			if event.CorrelationID != "" {
				stats.Correlated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}

// Health verifies the store can serve a read.
func (s *BadgerStore) Health(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("store is closed")
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("health:probe"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs Badger value-log garbage collection on an interval until the
// context is cancelled. Intended to run under the supervision tree.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect this round.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("Badger value log GC failed")
			}
		}
	}
}

func eventKey(id string) []byte {
	return []byte(eventKeyPrefix + id)
}
