// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package model

// CorrelationRecord asserts that a set of events jointly matches an attack
// pattern. Records are transient per-evaluation outputs of the correlator;
// membership is reflected durably via correlation_id on the member events.
type CorrelationRecord struct {
	Rule          string   `json:"rule"`
	Description   string   `json:"description"`
	Severity      Severity `json:"severity"`
	CorrelationID string   `json:"correlation_id"`

	// EventIDs lists member events in chronological order.
	EventIDs   []string `json:"event_ids"`
	EventCount int      `json:"event_count"`

	// Rule-specific fields; zero values mean not applicable for the rule.
	SourceIP   string   `json:"source_ip,omitempty"`
	Actor      string   `json:"actor,omitempty"`
	Sequence   []string `json:"sequence,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Contains reports whether the given event is a member of the correlation.
func (c *CorrelationRecord) Contains(eventID string) bool {
	for _, id := range c.EventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// FirstEventID returns the chronologically-first member id, or empty when
// the record has no members.
func (c *CorrelationRecord) FirstEventID() string {
	if len(c.EventIDs) == 0 {
		return ""
	}
	return c.EventIDs[0]
}
