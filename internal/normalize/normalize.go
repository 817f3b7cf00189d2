// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package normalize converts raw vendor telemetry into canonical events.
//
// Vendor payloads are loosely-structured nested maps; extraction is partial
// and defensive by design. A normalizer never fails on a missing optional
// field — it fails only when the record lacks the one field that identifies
// it (eventName for cloud audit records, Type for threat detector findings).
//
// Normalization is pure given a fixed clock and id generator; both are
// injectable so tests can pin them.
package normalize

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/talosops/cloudsentry/internal/model"
)

// ErrMalformedRecord indicates a record that cannot be identified as an
// event of its claimed source. Callers log and drop the record; a malformed
// record never fails the batch.
var ErrMalformedRecord = errors.New("malformed source record")

// Normalizer converts one raw vendor record into a canonical event.
// The input bytes are preserved verbatim on the event's Raw field.
type Normalizer interface {
	Normalize(raw json.RawMessage) (*model.CanonicalEvent, error)
}

// Clock returns the current time. Injectable for deterministic tests.
type Clock func() time.Time

// IDGenerator produces globally-unique event ids.
type IDGenerator func() string

func defaultClock() time.Time { return time.Now().UTC() }

func defaultIDGenerator() string { return uuid.New().String() }

// decodeRecord unmarshals a raw payload into a generic map for extraction.
func decodeRecord(raw json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ErrMalformedRecord
	}
	if m == nil {
		return nil, ErrMalformedRecord
	}
	return m, nil
}

// getString extracts a string field, returning empty for missing or
// non-string values.
func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getMap extracts a nested map field, returning nil when absent.
func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// getFloat extracts a numeric field. JSON numbers decode as float64.
func getFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// getSlice extracts a list field, returning nil when absent.
func getSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

// parseEventTime parses an ISO-8601 timestamp with trailing Z. On failure it
// substitutes fallback rather than failing the record; back-dated or
// malformed source clocks must not block ingestion.
func parseEventTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return fallback
}
