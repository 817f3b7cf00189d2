// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package normalize

import (
	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/model"
)

// CustomNormalizer accepts pre-normalized events from third-party tools.
// Fields follow the canonical wire names; missing fields fall back to the
// closed-set defaults rather than failing.
type CustomNormalizer struct {
	now   Clock
	newID IDGenerator
}

// NewCustomNormalizer creates a normalizer with the production clock and id
// generator.
func NewCustomNormalizer() *CustomNormalizer {
	return &CustomNormalizer{now: defaultClock, newID: defaultIDGenerator}
}

// NewCustomNormalizerWithDeps creates a normalizer with injected clock and
// id generator for deterministic tests.
func NewCustomNormalizerWithDeps(now Clock, newID IDGenerator) *CustomNormalizer {
	return &CustomNormalizer{now: now, newID: newID}
}

// Normalize converts one pre-normalized record.
func (n *CustomNormalizer) Normalize(raw json.RawMessage) (*model.CanonicalEvent, error) {
	record, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}

	now := n.now()

	eventType := getString(record, "event_type")
	if eventType == "" {
		eventType = "custom"
	}

	title := getString(record, "title")
	if title == "" {
		title = "Custom Security Event"
	}

	tags := []string{"custom"}
	for _, v := range getSlice(record, "tags") {
		if tag, ok := v.(string); ok && tag != "" {
			tags = append(tags, tag)
		}
	}

	return &model.CanonicalEvent{
		EventID:       n.newID(),
		Source:        model.SourceCustom,
		SourceEventID: getString(record, "source_event_id"),
		EventTime:     parseEventTime(getString(record, "event_time"), now),
		IngestedAt:    now,
		EventType:     eventType,
		EventCategory: model.ParseCategory(getString(record, "event_category")),
		Severity:      model.ParseSeverity(getString(record, "severity")),
		Status:        model.StatusNew,
		Title:         title,
		Description:   getString(record, "description"),
		Raw:           raw,
		Tags:          model.DedupeTags(tags),
	}, nil
}
