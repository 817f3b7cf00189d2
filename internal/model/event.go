// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package model defines the canonical security event schema.
//
// Every record ingested from a vendor source (cloud audit logs, threat
// detector findings, custom feeds) is normalized into a CanonicalEvent.
// The enums here are closed sets: parsers map unknown vendor values to the
// designated defaults instead of failing, so a new vendor value never breaks
// ingestion.
package model

import (
	"time"

	"github.com/goccy/go-json"
)

// Severity classifies how urgently an event demands attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRanks orders severities for monotonicity checks. Higher is worse.
var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering rank of the severity. Unknown values rank as info.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the closed-set values.
func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// ParseSeverity maps a string to a Severity, defaulting to info for
// unknown values.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if sev.Valid() {
		return sev
	}
	return SeverityInfo
}

// Status tracks an event through its processing lifecycle.
// Transitions only advance: new -> processing -> processed -> (correlated|alerted).
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusCorrelated Status = "correlated"
	StatusAlerted    Status = "alerted"
)

var statusRanks = map[Status]int{
	StatusNew:        0,
	StatusProcessing: 1,
	StatusProcessed:  2,
	StatusCorrelated: 3,
	StatusAlerted:    3,
}

// CanAdvanceTo reports whether the transition from s to next moves forward.
// correlated and alerted are terminal peers; neither regresses to the other.
func (s Status) CanAdvanceTo(next Status) bool {
	cur, okCur := statusRanks[s]
	nxt, okNext := statusRanks[next]
	if !okCur || !okNext {
		return false
	}
	if cur == nxt && s != next {
		return false
	}
	return nxt >= cur
}

// ParseStatus maps a string to a Status, defaulting to new.
func ParseStatus(s string) Status {
	st := Status(s)
	if _, ok := statusRanks[st]; ok {
		return st
	}
	return StatusNew
}

// Source identifies which vendor feed produced an event.
type Source string

const (
	SourceCloudAudit     Source = "cloudaudit"
	SourceThreatDetector Source = "threatdetector"
	SourceAuditHub       Source = "audithub"
	SourceCustom         Source = "custom"
)

var validSources = map[Source]struct{}{
	SourceCloudAudit:     {},
	SourceThreatDetector: {},
	SourceAuditHub:       {},
	SourceCustom:         {},
}

// ParseSource maps a string to a Source, defaulting to custom.
func ParseSource(s string) Source {
	src := Source(s)
	if _, ok := validSources[src]; ok {
		return src
	}
	return SourceCustom
}

// Category is the canonical event category assigned at normalization.
type Category string

const (
	CategoryAuthentication       Category = "authentication"
	CategoryIdentityManagement   Category = "identity_management"
	CategoryNetworkSecurity      Category = "network_security"
	CategoryDataAccess           Category = "data_access"
	CategoryLogging              Category = "logging"
	CategoryResourceModification Category = "resource_modification"
	CategoryDiscovery            Category = "discovery"
	CategoryReconnaissance       Category = "reconnaissance"
	CategoryUnauthorizedAccess   Category = "unauthorized_access"
	CategoryExecution            Category = "execution"
	CategoryPersistence          Category = "persistence"
	CategoryPrivilegeEscalation  Category = "privilege_escalation"
	CategoryDefenseEvasion       Category = "defense_evasion"
	CategoryCredentialAccess     Category = "credential_access"
	CategoryExfiltration         Category = "exfiltration"
	CategoryImpact               Category = "impact"
	CategoryCryptomining         Category = "cryptomining"
	CategoryMalware              Category = "malware"
	CategoryAnomaly              Category = "anomaly"
	CategoryPentest              Category = "pentest"
	CategoryPolicyViolation      Category = "policy_violation"
	CategoryOther                Category = "other"
)

var validCategories = map[Category]struct{}{
	CategoryAuthentication:       {},
	CategoryIdentityManagement:   {},
	CategoryNetworkSecurity:      {},
	CategoryDataAccess:           {},
	CategoryLogging:              {},
	CategoryResourceModification: {},
	CategoryDiscovery:            {},
	CategoryReconnaissance:       {},
	CategoryUnauthorizedAccess:   {},
	CategoryExecution:            {},
	CategoryPersistence:          {},
	CategoryPrivilegeEscalation:  {},
	CategoryDefenseEvasion:       {},
	CategoryCredentialAccess:     {},
	CategoryExfiltration:         {},
	CategoryImpact:               {},
	CategoryCryptomining:         {},
	CategoryMalware:              {},
	CategoryAnomaly:              {},
	CategoryPentest:              {},
	CategoryPolicyViolation:      {},
	CategoryOther:                {},
}

// Valid reports whether c is one of the closed-set values.
func (c Category) Valid() bool {
	_, ok := validCategories[c]
	return ok
}

// ParseCategory maps a string to a Category, defaulting to other.
func ParseCategory(s string) Category {
	c := Category(s)
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// CloudContext carries cloud-provider context for an event.
type CloudContext struct {
	AccountID    string `json:"account_id,omitempty"`
	Region       string `json:"region,omitempty"`
	Service      string `json:"service,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
}

// Actor identifies the principal that performed the action.
type Actor struct {
	PrincipalID   string `json:"principal_id,omitempty"`
	PrincipalType string `json:"principal_type,omitempty"`
	IdentityARN   string `json:"identity_arn,omitempty"`
	AccessKeyID   string `json:"access_key_id,omitempty"`
	UserName      string `json:"user_name,omitempty"`
	SessionName   string `json:"session_name,omitempty"`
}

// Network carries network-level details of the event.
type Network struct {
	SourceIP        string `json:"source_ip,omitempty"`
	SourcePort      int    `json:"source_port,omitempty"`
	DestinationIP   string `json:"destination_ip,omitempty"`
	DestinationPort int    `json:"destination_port,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
}

// Technique is the adversary-framework (MITRE ATT&CK) mapping for an event.
type Technique struct {
	Tactic        string `json:"tactic,omitempty"`
	TechniqueID   string `json:"technique_id,omitempty"`
	TechniqueName string `json:"technique_name,omitempty"`
}

// CanonicalEvent is the unified schema every source is normalized into.
//
// raw is preserved verbatim from the source and is immutable. Every other
// field is either fixed at normalization or mutated only by the processor.
type CanonicalEvent struct {
	EventID       string `json:"event_id"`
	Source        Source `json:"source"`
	SourceEventID string `json:"source_event_id,omitempty"`

	EventTime   time.Time  `json:"event_time"`
	IngestedAt  time.Time  `json:"ingested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	EventType     string   `json:"event_type"`
	EventCategory Category `json:"event_category"`
	Severity      Severity `json:"severity"`
	Status        Status   `json:"status"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	CloudContext *CloudContext `json:"cloud_context,omitempty"`
	Actor        *Actor        `json:"actor,omitempty"`
	Network      *Network      `json:"network,omitempty"`
	Technique    *Technique    `json:"technique,omitempty"`

	CorrelationID   string   `json:"correlation_id,omitempty"`
	RelatedEventIDs []string `json:"related_event_ids,omitempty"`

	Raw      json.RawMessage `json:"raw,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`

	RiskScore *int `json:"risk_score,omitempty"`
}

// SourceIP returns the event's network source IP, or empty when unknown.
func (e *CanonicalEvent) SourceIP() string {
	if e.Network == nil {
		return ""
	}
	return e.Network.SourceIP
}

// ActorKey returns the identity the event is grouped by for actor-scoped
// correlation: user name first, identity ARN as fallback.
func (e *CanonicalEvent) ActorKey() string {
	if e.Actor == nil {
		return ""
	}
	if e.Actor.UserName != "" {
		return e.Actor.UserName
	}
	return e.Actor.IdentityARN
}

// HasTag reports whether the event carries the given tag.
func (e *CanonicalEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DedupeTags returns the tags with duplicates removed, preserving first-seen
// order. Sources may repeat tags; the canonical schema treats tags as an
// ordered set.
func DedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
