// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package correlate

import "github.com/talosops/cloudsentry/internal/model"

// severityBaseScores anchor the risk score on the event's own severity.
var severityBaseScores = map[model.Severity]int{
	model.SeverityCritical: 80,
	model.SeverityHigh:     60,
	model.SeverityMedium:   40,
	model.SeverityLow:      20,
	model.SeverityInfo:     10,
}

// RiskScore computes a 0-100 score for one event given the correlations
// from the same evaluation. Pure function: same inputs, same score.
//
// Base score comes from severity; +20 for each correlation the event is a
// member of, +10 for a MITRE technique mapping, +30 for root account usage,
// clamped to 100.
func RiskScore(event *model.CanonicalEvent, correlations []*model.CorrelationRecord) int {
	score, ok := severityBaseScores[event.Severity]
	if !ok {
		score = severityBaseScores[model.SeverityInfo]
	}

	for _, c := range correlations {
		if c.Contains(event.EventID) {
			score += 20
		}
	}
	if event.Technique != nil {
		score += 10
	}
	if event.HasTag("root-account") {
		score += 30
	}

	if score > 100 {
		score = 100
	}
	return score
}
