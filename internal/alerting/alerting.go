// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package alerting decides which processed events warrant operator
// attention and dispatches plain-text alerts to the notification topic.
//
// Dispatch is fire-and-forget: a failed send logs and reports false, it
// never fails the processing pipeline.
package alerting

import "github.com/talosops/cloudsentry/internal/model"

// Thresholds configure the alerting decision.
type Thresholds struct {
	// Severity is the minimum severity that alerts on its own. Critical
	// always alerts regardless of this setting.
	Severity model.Severity

	// RiskScore alerts any event scoring at or above it.
	RiskScore int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Severity:  model.SeverityHigh,
		RiskScore: 70,
	}
}

// ShouldAlert reports whether a processed event warrants an alert.
//
// Critical always alerts. High alerts when the threshold permits it. Any
// event alerts when its risk score reaches the configured floor.
func ShouldAlert(event *model.CanonicalEvent, riskScore int, t Thresholds) bool {
	if event.Severity == model.SeverityCritical {
		return true
	}
	if event.Severity == model.SeverityHigh && model.SeverityHigh.AtLeast(t.Severity) {
		return true
	}
	return riskScore >= t.RiskScore
}
