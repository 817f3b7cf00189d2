// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package correlate

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/talosops/cloudsentry/internal/model"
)

var testBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type eventOpt func(*model.CanonicalEvent)

func withIP(ip string) eventOpt {
	return func(e *model.CanonicalEvent) { e.Network = &model.Network{SourceIP: ip} }
}

func withTags(tags ...string) eventOpt {
	return func(e *model.CanonicalEvent) { e.Tags = tags }
}

func withActor(userName string) eventOpt {
	return func(e *model.CanonicalEvent) { e.Actor = &model.Actor{UserName: userName} }
}

func makeEvent(id, eventType string, offset time.Duration, opts ...eventOpt) *model.CanonicalEvent {
	e := &model.CanonicalEvent{
		EventID:   id,
		Source:    model.SourceCloudAudit,
		EventTime: testBase.Add(offset),
		EventType: eventType,
		Severity:  model.SeverityInfo,
		Status:    model.StatusNew,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func findRecord(records []*model.CorrelationRecord, rule string) *model.CorrelationRecord {
	for _, r := range records {
		if r.Rule == rule {
			return r
		}
	}
	return nil
}

func TestBruteForceDetection(t *testing.T) {
	var events []*model.CanonicalEvent
	for i := 0; i < 6; i++ {
		events = append(events, makeEvent(
			fmt.Sprintf("login-%d", i), "ConsoleLogin", time.Duration(i)*time.Minute,
			withIP("198.51.100.200"), withTags("accessdenied"),
		))
	}

	records := NewEngine().Correlate(events)
	record := findRecord(records, "brute_force")
	if record == nil {
		t.Fatalf("no brute_force record in %d records", len(records))
	}

	if record.Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want high", record.Severity)
	}
	if record.EventCount != 6 {
		t.Errorf("event_count = %d, want 6", record.EventCount)
	}
	if record.SourceIP != "198.51.100.200" {
		t.Errorf("source_ip = %q", record.SourceIP)
	}
	if len(record.CorrelationID) != 16 {
		t.Errorf("correlation_id = %q, want 16 hex chars", record.CorrelationID)
	}
}

func TestBruteForceRequiresFiveFailed(t *testing.T) {
	// Six logins but only four carry a failure tag.
	var events []*model.CanonicalEvent
	for i := 0; i < 6; i++ {
		opts := []eventOpt{withIP("203.0.113.1")}
		if i < 4 {
			opts = append(opts, withTags("error"))
		}
		events = append(events, makeEvent(
			fmt.Sprintf("login-%d", i), "ConsoleLogin", time.Duration(i)*time.Minute, opts...,
		))
	}

	if r := findRecord(NewEngine().Correlate(events), "brute_force"); r != nil {
		t.Errorf("unexpected brute_force record: %+v", r)
	}
}

func TestBruteForceErrorTagAloneQualifies(t *testing.T) {
	var events []*model.CanonicalEvent
	for i := 0; i < 5; i++ {
		events = append(events, makeEvent(
			fmt.Sprintf("login-%d", i), "ConsoleLogin", time.Duration(i)*time.Minute,
			withIP("203.0.113.1"), withTags("error"),
		))
	}

	if r := findRecord(NewEngine().Correlate(events), "brute_force"); r == nil {
		t.Error("expected brute_force record when all failures carry only the error tag")
	}
}

func TestBruteForceUnknownIPBucket(t *testing.T) {
	var events []*model.CanonicalEvent
	for i := 0; i < 5; i++ {
		events = append(events, makeEvent(
			fmt.Sprintf("login-%d", i), "ConsoleLogin", time.Duration(i)*time.Minute,
			withTags("accessdenied"),
		))
	}

	record := findRecord(NewEngine().Correlate(events), "brute_force")
	if record == nil {
		t.Fatal("expected brute_force record for IP-less events")
	}
	if record.SourceIP != "unknown" {
		t.Errorf("source_ip = %q, want unknown", record.SourceIP)
	}
}

func TestPrivilegeEscalationSequence(t *testing.T) {
	events := []*model.CanonicalEvent{
		makeEvent("e1", "ConsoleLogin", 0, withActor("alice")),
		makeEvent("e2", "CreateAccessKey", 5*time.Minute, withActor("alice")),
	}

	record := findRecord(NewEngine().Correlate(events), "privilege_escalation")
	if record == nil {
		t.Fatal("expected privilege_escalation record")
	}

	if record.Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want critical", record.Severity)
	}
	if record.Actor != "alice" {
		t.Errorf("actor = %q, want alice", record.Actor)
	}
	if want := []string{"ConsoleLogin", "CreateAccessKey"}; !reflect.DeepEqual(record.Sequence, want) {
		t.Errorf("sequence = %v, want %v", record.Sequence, want)
	}
	if want := []string{"e1", "e2"}; !reflect.DeepEqual(record.EventIDs, want) {
		t.Errorf("event_ids = %v, want %v", record.EventIDs, want)
	}
}

func TestPrivilegeEscalationIgnoresFailedLogin(t *testing.T) {
	events := []*model.CanonicalEvent{
		makeEvent("e1", "ConsoleLogin", 0, withActor("alice"), withTags("error")),
		makeEvent("e2", "CreateAccessKey", 5*time.Minute, withActor("alice")),
	}

	if r := findRecord(NewEngine().Correlate(events), "privilege_escalation"); r != nil {
		t.Errorf("failed login should not anchor the sequence: %+v", r)
	}
}

func TestPrivilegeEscalationRequiresSameActor(t *testing.T) {
	events := []*model.CanonicalEvent{
		makeEvent("e1", "ConsoleLogin", 0, withActor("alice")),
		makeEvent("e2", "CreateAccessKey", 5*time.Minute, withActor("bob")),
	}

	if r := findRecord(NewEngine().Correlate(events), "privilege_escalation"); r != nil {
		t.Errorf("cross-actor sequence should not match: %+v", r)
	}
}

func TestPrivilegeEscalationFollowUpBeforeLogin(t *testing.T) {
	events := []*model.CanonicalEvent{
		makeEvent("e1", "CreateAccessKey", 0, withActor("alice")),
		makeEvent("e2", "ConsoleLogin", 5*time.Minute, withActor("alice")),
	}

	if r := findRecord(NewEngine().Correlate(events), "privilege_escalation"); r != nil {
		t.Errorf("IAM change before the login should not match: %+v", r)
	}
}

func TestLoggingTamperingSingleEvent(t *testing.T) {
	events := []*model.CanonicalEvent{
		makeEvent("e1", "StopLogging", 0, withIP("192.0.2.5")),
	}

	record := findRecord(NewEngine().Correlate(events), "logging_tampering")
	if record == nil {
		t.Fatal("expected logging_tampering record for a single StopLogging")
	}
	if record.Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want critical", record.Severity)
	}
	if record.EventCount != 1 {
		t.Errorf("event_count = %d, want 1", record.EventCount)
	}
	if want := []string{"StopLogging"}; !reflect.DeepEqual(record.EventTypes, want) {
		t.Errorf("event_types = %v, want %v", record.EventTypes, want)
	}
}

func TestReconnaissanceCapsOutput(t *testing.T) {
	var events []*model.CanonicalEvent
	for i := 0; i < 25; i++ {
		eventType := fmt.Sprintf("Describe%c", 'A'+i%12)
		events = append(events, makeEvent(
			fmt.Sprintf("recon-%d", i), eventType, time.Duration(i)*time.Second,
			withIP("203.0.113.50"),
		))
	}

	record := findRecord(NewEngine().Correlate(events), "reconnaissance")
	if record == nil {
		t.Fatal("expected reconnaissance record")
	}
	if record.Severity != model.SeverityMedium {
		t.Errorf("severity = %v, want medium", record.Severity)
	}
	if record.EventCount != 25 {
		t.Errorf("event_count = %d, want 25", record.EventCount)
	}
	if len(record.EventIDs) != 20 {
		t.Errorf("event_ids capped at 20, got %d", len(record.EventIDs))
	}
	if len(record.EventTypes) != 10 {
		t.Errorf("event_types capped at 10, got %d", len(record.EventTypes))
	}
}

func TestReconnaissanceSplitAcrossIPsDoesNotMatch(t *testing.T) {
	// 24 discovery calls total but no single IP reaches 20.
	var events []*model.CanonicalEvent
	for i := 0; i < 24; i++ {
		ip := "203.0.113.1"
		if i%2 == 0 {
			ip = "203.0.113.2"
		}
		events = append(events, makeEvent(
			fmt.Sprintf("recon-%d", i), "ListBuckets", time.Duration(i)*time.Second, withIP(ip),
		))
	}

	if r := findRecord(NewEngine().Correlate(events), "reconnaissance"); r != nil {
		t.Errorf("no single IP reaches the threshold: %+v", r)
	}
}

func TestDataExfiltrationDetection(t *testing.T) {
	var events []*model.CanonicalEvent
	for i := 0; i < 50; i++ {
		events = append(events, makeEvent(
			fmt.Sprintf("read-%d", i), "GetObject", time.Duration(i)*time.Second,
			withIP("198.51.100.77"),
		))
	}

	record := findRecord(NewEngine().Correlate(events), "data_exfiltration")
	if record == nil {
		t.Fatal("expected data_exfiltration record for 50 GetObject calls")
	}
	if record.Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want high", record.Severity)
	}
	if record.EventCount != 50 {
		t.Errorf("event_count = %d, want 50", record.EventCount)
	}
	if record.SourceIP != "198.51.100.77" {
		t.Errorf("source_ip = %q", record.SourceIP)
	}
}

func TestCorrelateIsDeterministicUnderReordering(t *testing.T) {
	var events []*model.CanonicalEvent
	for i := 0; i < 6; i++ {
		events = append(events, makeEvent(
			fmt.Sprintf("login-%d", i), "ConsoleLogin", time.Duration(i)*time.Minute,
			withIP("198.51.100.200"), withTags("accessdenied"),
		))
	}
	events = append(events,
		makeEvent("e-login", "ConsoleLogin", 10*time.Minute, withActor("alice")),
		makeEvent("e-key", "CreateAccessKey", 15*time.Minute, withActor("alice")),
		makeEvent("e-stop", "StopLogging", 20*time.Minute),
	)

	engine := NewEngine()
	baseline := engine.Correlate(events)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]*model.CanonicalEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := engine.Correlate(shuffled)
		if !reflect.DeepEqual(got, baseline) {
			t.Fatalf("trial %d: output differs under input reordering:\n got %+v\nwant %+v",
				trial, got, baseline)
		}
	}

	// Rule names come back sorted.
	for i := 1; i < len(baseline); i++ {
		if baseline[i-1].Rule > baseline[i].Rule {
			t.Errorf("records not sorted by rule: %q before %q", baseline[i-1].Rule, baseline[i].Rule)
		}
	}
}

func TestCorrelationIDStability(t *testing.T) {
	a := makeEvent("a", "ConsoleLogin", 0, withIP("1.2.3.4"))
	b := makeEvent("b", "ConsoleLogin", time.Minute, withIP("1.2.3.4"))

	id1 := CorrelationID("brute_force", []*model.CanonicalEvent{a, b})
	id2 := CorrelationID("brute_force", []*model.CanonicalEvent{a, b})
	if id1 != id2 {
		t.Errorf("correlation id unstable: %q vs %q", id1, id2)
	}
	if len(id1) != 16 {
		t.Errorf("correlation id = %q, want 16 hex chars", id1)
	}

	// Different rule name yields a different id.
	if id3 := CorrelationID("reconnaissance", []*model.CanonicalEvent{a, b}); id3 == id1 {
		t.Error("ids for different rules should differ")
	}
}

type panickingRule struct{}

func (r *panickingRule) Name() string { return "panicking" }

func (r *panickingRule) Evaluate([]*model.CanonicalEvent) *model.CorrelationRecord {
	panic("rule bug")
}

func TestEngineRecoversPanickingRule(t *testing.T) {
	engine := NewEngineWithRules(&panickingRule{}, &loggingTamperingRule{})

	events := []*model.CanonicalEvent{makeEvent("e1", "DeleteTrail", 0)}
	records := engine.Correlate(events)

	if len(records) != 1 || records[0].Rule != "logging_tampering" {
		t.Errorf("expected the healthy rule to still emit, got %+v", records)
	}
}

func TestRiskScoreComposition(t *testing.T) {
	event := makeEvent("e1", "GetSecretValue", 0)
	event.Severity = model.SeverityHigh
	event.Technique = &model.Technique{Tactic: "Credential Access", TechniqueID: "T1555"}

	correlation := &model.CorrelationRecord{
		Rule:     "brute_force",
		EventIDs: []string{"e1", "e2"},
	}

	if got := RiskScore(event, []*model.CorrelationRecord{correlation}); got != 90 {
		t.Errorf("score = %d, want 90 (60 base + 10 technique + 20 correlation)", got)
	}

	event.Tags = []string{"root-account"}
	if got := RiskScore(event, []*model.CorrelationRecord{correlation}); got != 100 {
		t.Errorf("score = %d, want clamp at 100", got)
	}
}

func TestRiskScoreIsPure(t *testing.T) {
	event := makeEvent("e1", "ConsoleLogin", 0)
	event.Severity = model.SeverityMedium

	first := RiskScore(event, nil)
	second := RiskScore(event, nil)
	if first != second {
		t.Errorf("risk score not pure: %d vs %d", first, second)
	}
	if first != 40 {
		t.Errorf("score = %d, want 40 base for medium", first)
	}
}

func TestRiskScoreBaseTable(t *testing.T) {
	tests := []struct {
		severity model.Severity
		want     int
	}{
		{model.SeverityCritical, 80},
		{model.SeverityHigh, 60},
		{model.SeverityMedium, 40},
		{model.SeverityLow, 20},
		{model.SeverityInfo, 10},
	}

	for _, tt := range tests {
		event := makeEvent("e1", "X", 0)
		event.Severity = tt.severity
		if got := RiskScore(event, nil); got != tt.want {
			t.Errorf("RiskScore(severity=%v) = %d, want %d", tt.severity, got, tt.want)
		}
	}
}
