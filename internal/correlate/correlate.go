// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package correlate matches batches of canonical events against attack
// patterns and scores individual events.
//
// The engine is deterministic: given the same input list it emits the same
// records in the same order, regardless of input ordering. Rules group
// events into buckets in first-seen chronological order, so "first
// qualifying bucket" is well defined without relying on map iteration.
package correlate

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/model"
)

// Rule evaluates one attack pattern against a chronologically-sorted batch.
// A nil result means the pattern did not match.
type Rule interface {
	Name() string
	Evaluate(events []*model.CanonicalEvent) *model.CorrelationRecord
}

// Engine runs every registered rule against a batch of events.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine with the standard rule set.
func NewEngine() *Engine {
	return &Engine{
		rules: []Rule{
			&bruteForceRule{},
			&privilegeEscalationRule{},
			&loggingTamperingRule{},
			&reconnaissanceRule{},
			&dataExfiltrationRule{},
		},
	}
}

// NewEngineWithRules creates an engine with an explicit rule set.
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Correlate runs all rules and returns the emitted records sorted by rule
// name. The input is sorted chronologically first; rules see the sorted
// copy. A panicking rule is logged and skipped, never failing the batch.
func (e *Engine) Correlate(events []*model.CanonicalEvent) []*model.CorrelationRecord {
	sorted := make([]*model.CanonicalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventTime.Before(sorted[j].EventTime)
	})

	var records []*model.CorrelationRecord
	for _, rule := range e.rules {
		if record := e.evaluate(rule, sorted); record != nil {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Rule < records[j].Rule
	})
	return records
}

func (e *Engine) evaluate(rule Rule, events []*model.CanonicalEvent) (record *model.CorrelationRecord) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("rule", rule.Name()).
				Interface("panic", r).
				Msg("Correlation rule evaluation failed")
			record = nil
		}
	}()
	return rule.Evaluate(events)
}

// CorrelationID derives the stable 16-hex-char id for a group of member
// events. Members must already be in chronological order; the id hashes the
// rule name with the first member's event type and source IP.
func CorrelationID(ruleName string, members []*model.CanonicalEvent) string {
	var eventType, sourceIP string
	if len(members) > 0 {
		eventType = members[0].EventType
		sourceIP = members[0].SourceIP()
	}
	sum := sha256.Sum256([]byte(ruleName + ":" + eventType + ":" + sourceIP))
	return hex.EncodeToString(sum[:])[:16]
}

// eventIDs extracts member ids preserving order.
func eventIDs(events []*model.CanonicalEvent) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}
	return ids
}

// groupOrdered partitions events by key, returning bucket keys in first-seen
// order. Events arrive chronologically sorted, so the first key belongs to
// the earliest event.
func groupOrdered(events []*model.CanonicalEvent, key func(*model.CanonicalEvent) string) ([]string, map[string][]*model.CanonicalEvent) {
	var order []string
	buckets := make(map[string][]*model.CanonicalEvent)
	for _, e := range events {
		k := key(e)
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], e)
	}
	return order, buckets
}

// ipKey buckets events by source IP, with a shared bucket for events that
// carry none.
func ipKey(e *model.CanonicalEvent) string {
	if ip := e.SourceIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// actorKey buckets events by actor identity.
func actorKey(e *model.CanonicalEvent) string {
	if k := e.ActorKey(); k != "" {
		return k
	}
	return "unknown"
}
