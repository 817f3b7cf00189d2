// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package correlate

import (
	"strings"

	"github.com/talosops/cloudsentry/internal/model"
)

// failureTags mark an authentication attempt as failed for the brute force
// rule.
var failureTags = []string{"accessdenied", "unauthorizedaccess", "error"}

// privilegeFollowUps are the IAM mutations that complete the escalation
// sequence after a successful login.
var privilegeFollowUps = map[string]bool{
	"CreateAccessKey":  true,
	"CreateUser":       true,
	"AttachUserPolicy": true,
	"AttachRolePolicy": true,
}

// tamperingEventTypes are the trail-modification calls that are flagged
// unconditionally.
var tamperingEventTypes = map[string]bool{
	"StopLogging": true,
	"DeleteTrail": true,
	"UpdateTrail": true,
}

// discoveryPrefixes classify read-only enumeration calls.
var discoveryPrefixes = []string{"List", "Describe", "Get"}

// bruteForceRule flags repeated failed console logins from one IP.
type bruteForceRule struct{}

func (r *bruteForceRule) Name() string { return "brute_force" }

func (r *bruteForceRule) Evaluate(events []*model.CanonicalEvent) *model.CorrelationRecord {
	const minEvents = 5

	var logins []*model.CanonicalEvent
	for _, e := range events {
		if e.EventType == "ConsoleLogin" {
			logins = append(logins, e)
		}
	}
	if len(logins) < minEvents {
		return nil
	}

	order, buckets := groupOrdered(logins, ipKey)
	for _, ip := range order {
		var failed []*model.CanonicalEvent
		for _, e := range buckets[ip] {
			for _, tag := range failureTags {
				if e.HasTag(tag) {
					failed = append(failed, e)
					break
				}
			}
		}
		if len(failed) < minEvents {
			continue
		}
		return &model.CorrelationRecord{
			Rule:          r.Name(),
			Description:   "Multiple failed authentication attempts",
			Severity:      model.SeverityHigh,
			CorrelationID: CorrelationID(r.Name(), failed),
			EventIDs:      eventIDs(failed),
			EventCount:    len(failed),
			SourceIP:      ip,
		}
	}
	return nil
}

// privilegeEscalationRule flags IAM mutations following a successful login
// by the same actor.
type privilegeEscalationRule struct{}

func (r *privilegeEscalationRule) Name() string { return "privilege_escalation" }

func (r *privilegeEscalationRule) Evaluate(events []*model.CanonicalEvent) *model.CorrelationRecord {
	order, buckets := groupOrdered(events, actorKey)
	for _, actor := range order {
		var login *model.CanonicalEvent
		var followUps []*model.CanonicalEvent

		// Events within a bucket keep the batch's chronological order.
		for _, e := range buckets[actor] {
			switch {
			case e.EventType == "ConsoleLogin" && !e.HasTag("error"):
				login = e
			case login != nil && privilegeFollowUps[e.EventType]:
				followUps = append(followUps, e)
			}
		}
		if login == nil || len(followUps) == 0 {
			continue
		}

		members := append([]*model.CanonicalEvent{login}, followUps...)
		sequence := make([]string, len(members))
		for i, e := range members {
			sequence[i] = e.EventType
		}
		return &model.CorrelationRecord{
			Rule:          r.Name(),
			Description:   "IAM modifications following authentication",
			Severity:      model.SeverityCritical,
			CorrelationID: CorrelationID(r.Name(), members),
			EventIDs:      eventIDs(members),
			EventCount:    len(members),
			Actor:         actor,
			Sequence:      sequence,
		}
	}
	return nil
}

// loggingTamperingRule flags any trail modification immediately.
type loggingTamperingRule struct{}

func (r *loggingTamperingRule) Name() string { return "logging_tampering" }

func (r *loggingTamperingRule) Evaluate(events []*model.CanonicalEvent) *model.CorrelationRecord {
	var matches []*model.CanonicalEvent
	for _, e := range events {
		if tamperingEventTypes[e.EventType] {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	return &model.CorrelationRecord{
		Rule:          r.Name(),
		Description:   "Audit trail logging modifications",
		Severity:      model.SeverityCritical,
		CorrelationID: CorrelationID(r.Name(), matches),
		EventIDs:      eventIDs(matches),
		EventCount:    len(matches),
		EventTypes:    distinctEventTypes(matches, 0),
	}
}

// reconnaissanceRule flags bursts of discovery API calls from one IP.
type reconnaissanceRule struct{}

func (r *reconnaissanceRule) Name() string { return "reconnaissance" }

func (r *reconnaissanceRule) Evaluate(events []*model.CanonicalEvent) *model.CorrelationRecord {
	const (
		minEvents     = 20
		maxEventIDs   = 20
		maxEventTypes = 10
	)

	var discovery []*model.CanonicalEvent
	for _, e := range events {
		for _, prefix := range discoveryPrefixes {
			if strings.HasPrefix(e.EventType, prefix) {
				discovery = append(discovery, e)
				break
			}
		}
	}
	if len(discovery) < minEvents {
		return nil
	}

	order, buckets := groupOrdered(discovery, ipKey)
	for _, ip := range order {
		members := buckets[ip]
		if len(members) < minEvents {
			continue
		}
		ids := eventIDs(members)
		if len(ids) > maxEventIDs {
			ids = ids[:maxEventIDs]
		}
		return &model.CorrelationRecord{
			Rule:          r.Name(),
			Description:   "Multiple discovery API calls",
			Severity:      model.SeverityMedium,
			CorrelationID: CorrelationID(r.Name(), members),
			EventIDs:      ids,
			EventCount:    len(members),
			SourceIP:      ip,
			EventTypes:    distinctEventTypes(members, maxEventTypes),
		}
	}
	return nil
}

// dataExfiltrationRule flags bulk object reads from one IP.
type dataExfiltrationRule struct{}

func (r *dataExfiltrationRule) Name() string { return "data_exfiltration" }

func (r *dataExfiltrationRule) Evaluate(events []*model.CanonicalEvent) *model.CorrelationRecord {
	const minEvents = 50

	var reads []*model.CanonicalEvent
	for _, e := range events {
		if e.EventType == "GetObject" {
			reads = append(reads, e)
		}
	}
	if len(reads) < minEvents {
		return nil
	}

	order, buckets := groupOrdered(reads, ipKey)
	for _, ip := range order {
		members := buckets[ip]
		if len(members) < minEvents {
			continue
		}
		return &model.CorrelationRecord{
			Rule:          r.Name(),
			Description:   "Unusual data access pattern",
			Severity:      model.SeverityHigh,
			CorrelationID: CorrelationID(r.Name(), members),
			EventIDs:      eventIDs(members),
			EventCount:    len(members),
			SourceIP:      ip,
		}
	}
	return nil
}

// distinctEventTypes returns the distinct member event types in first-seen
// order, capped at max when max > 0.
func distinctEventTypes(events []*model.CanonicalEvent, max int) []string {
	seen := make(map[string]bool, len(events))
	var types []string
	for _, e := range events {
		if seen[e.EventType] {
			continue
		}
		seen[e.EventType] = true
		types = append(types, e.EventType)
		if max > 0 && len(types) == max {
			break
		}
	}
	return types
}
