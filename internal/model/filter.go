// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package model

import "time"

// EventFilter selects events from the store. All populated criteria are
// AND-joined; empty criteria match everything.
type EventFilter struct {
	Start      *time.Time `json:"start_time,omitempty"`
	End        *time.Time `json:"end_time,omitempty"`
	Sources    []Source   `json:"sources,omitempty"`
	Severities []Severity `json:"severities,omitempty"`
	EventTypes []string   `json:"event_types,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// Matches reports whether the event satisfies every populated criterion.
func (f *EventFilter) Matches(e *CanonicalEvent) bool {
	if f.Start != nil && e.EventTime.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.EventTime.After(*f.End) {
		return false
	}
	if len(f.Sources) > 0 && !containsSource(f.Sources, e.Source) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.EventTypes) > 0 && !containsString(f.EventTypes, e.EventType) {
		return false
	}
	return true
}

func containsSource(set []Source, v Source) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsSeverity(set []Severity, v Severity) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// QueueMessage is the body published to the work queue when an event is
// ingested. Attributes on the transport mirror severity and source.
type QueueMessage struct {
	EventID   string `json:"event_id"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	EventType string `json:"event_type"`
}
