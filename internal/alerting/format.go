// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/talosops/cloudsentry/internal/model"
)

const (
	alertDelimiter = "============================================================"

	// maxUserAgentLen clips noisy user-agent strings in alert bodies.
	maxUserAgentLen = 100

	// maxCorrelationIDs bounds the related-event list in correlation alerts.
	maxCorrelationIDs = 5
)

// FormatEventAlert renders a processed event as a plain-text alert block.
func FormatEventAlert(event *model.CanonicalEvent, riskScore int, correlations []*model.CorrelationRecord) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(alertDelimiter)
	line("SECURITY ALERT")
	line(alertDelimiter)
	line("")
	line("Title: %s", event.Title)
	line("Severity: %s", strings.ToUpper(string(event.Severity)))
	line("Risk Score: %d/100", riskScore)
	line("")
	line("Event ID: %s", event.EventID)
	line("Source: %s", event.Source)
	line("Event Type: %s", event.EventType)
	line("Category: %s", event.EventCategory)
	line("Time: %s", event.EventTime.UTC().Format(time.RFC3339))
	line("")

	if ctx := event.CloudContext; ctx != nil {
		line("Cloud Context:")
		if ctx.AccountID != "" {
			line("  Account: %s", ctx.AccountID)
		}
		if ctx.Region != "" {
			line("  Region: %s", ctx.Region)
		}
		if ctx.Service != "" {
			line("  Service: %s", ctx.Service)
		}
		if ctx.ResourceID != "" {
			line("  Resource: %s", ctx.ResourceID)
		}
		line("")
	}

	if actor := event.Actor; actor != nil {
		line("Actor:")
		if actor.UserName != "" {
			line("  User: %s", actor.UserName)
		}
		if actor.IdentityARN != "" {
			line("  ARN: %s", actor.IdentityARN)
		}
		if actor.PrincipalType != "" {
			line("  Type: %s", actor.PrincipalType)
		}
		line("")
	}

	if network := event.Network; network != nil {
		line("Network:")
		if network.SourceIP != "" {
			line("  Source IP: %s", network.SourceIP)
		}
		if network.UserAgent != "" {
			line("  User Agent: %s", clip(network.UserAgent, maxUserAgentLen))
		}
		line("")
	}

	if technique := event.Technique; technique != nil {
		line("MITRE ATT&CK:")
		if technique.Tactic != "" {
			line("  Tactic: %s", technique.Tactic)
		}
		if technique.TechniqueID != "" {
			line("  Technique: %s - %s", technique.TechniqueID, technique.TechniqueName)
		}
		line("")
	}

	var member []*model.CorrelationRecord
	for _, c := range correlations {
		if c.Contains(event.EventID) {
			member = append(member, c)
		}
	}
	if len(member) > 0 {
		line("Correlated Patterns:")
		for _, c := range member {
			line("  - %s: %s", c.Rule, c.Description)
		}
		line("")
	}

	if event.Description != "" {
		line("Description:")
		line("  %s", event.Description)
		line("")
	}

	line(alertDelimiter)
	return strings.TrimSuffix(b.String(), "\n")
}

// FormatCorrelationAlert renders a correlation record as a plain-text
// alert block.
func FormatCorrelationAlert(correlation *model.CorrelationRecord) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(alertDelimiter)
	line("SECURITY CORRELATION ALERT")
	line(alertDelimiter)
	line("")
	line("Pattern: %s", correlation.Rule)
	line("Description: %s", correlation.Description)
	line("Severity: %s", strings.ToUpper(string(correlation.Severity)))
	line("")
	line("Correlation ID: %s", correlation.CorrelationID)
	line("Event Count: %d", correlation.EventCount)
	line("")

	if correlation.SourceIP != "" {
		line("Source IP: %s", correlation.SourceIP)
	}
	if correlation.Actor != "" {
		line("Actor: %s", correlation.Actor)
	}
	if len(correlation.Sequence) > 0 {
		line("Event Sequence: %s", strings.Join(correlation.Sequence, " -> "))
	}
	if len(correlation.EventTypes) > 0 {
		types := correlation.EventTypes
		if len(types) > maxCorrelationIDs {
			types = types[:maxCorrelationIDs]
		}
		line("Event Types: %s", strings.Join(types, ", "))
	}

	line("")
	ids := correlation.EventIDs
	shown := ids
	if len(shown) > maxCorrelationIDs {
		shown = shown[:maxCorrelationIDs]
	}
	line("Related Event IDs: %s", strings.Join(shown, ", "))
	if remainder := len(ids) - len(shown); remainder > 0 {
		line("  ... and %d more", remainder)
	}

	line("")
	line(alertDelimiter)
	return strings.TrimSuffix(b.String(), "\n")
}

// EventAlertSubject builds the notification subject line for an event alert.
func EventAlertSubject(event *model.CanonicalEvent) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(event.Severity)), clip(event.Title, 80))
}

// CorrelationAlertSubject builds the subject line for a correlation alert.
func CorrelationAlertSubject(correlation *model.CorrelationRecord) string {
	return fmt.Sprintf("[CORRELATION] %s: %s", correlation.Rule, clip(correlation.Description, 60))
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
