// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/model"
)

// cloudAuditTechniques maps audit event names to MITRE ATT&CK techniques.
// Missing entries leave the event's technique unset.
var cloudAuditTechniques = map[string]model.Technique{
	// Initial Access
	"ConsoleLogin": {Tactic: "Initial Access", TechniqueID: "T1078", TechniqueName: "Valid Accounts"},
	// Persistence
	"CreateUser":       {Tactic: "Persistence", TechniqueID: "T1136.003", TechniqueName: "Create Account: Cloud Account"},
	"CreateAccessKey":  {Tactic: "Persistence", TechniqueID: "T1098.001", TechniqueName: "Account Manipulation: Additional Cloud Credentials"},
	"CreateRole":       {Tactic: "Persistence", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	"AttachUserPolicy": {Tactic: "Persistence", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	"AttachRolePolicy": {Tactic: "Persistence", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	// Privilege Escalation
	"AssumeRole":             {Tactic: "Privilege Escalation", TechniqueID: "T1548", TechniqueName: "Abuse Elevation Control Mechanism"},
	"UpdateAssumeRolePolicy": {Tactic: "Privilege Escalation", TechniqueID: "T1548", TechniqueName: "Abuse Elevation Control Mechanism"},
	// Defense Evasion
	"StopLogging":       {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	"DeleteTrail":       {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	"UpdateTrail":       {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	"PutEventSelectors": {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	"DeleteFlowLogs":    {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	// Credential Access
	"GetSecretValue":  {Tactic: "Credential Access", TechniqueID: "T1555", TechniqueName: "Credentials from Password Stores"},
	"GetPasswordData": {Tactic: "Credential Access", TechniqueID: "T1555", TechniqueName: "Credentials from Password Stores"},
	// Discovery
	"DescribeInstances": {Tactic: "Discovery", TechniqueID: "T1580", TechniqueName: "Cloud Infrastructure Discovery"},
	"ListBuckets":       {Tactic: "Discovery", TechniqueID: "T1580", TechniqueName: "Cloud Infrastructure Discovery"},
	"ListUsers":         {Tactic: "Discovery", TechniqueID: "T1087.004", TechniqueName: "Account Discovery: Cloud Account"},
	"ListRoles":         {Tactic: "Discovery", TechniqueID: "T1087.004", TechniqueName: "Account Discovery: Cloud Account"},
	// Exfiltration
	"GetObject": {Tactic: "Exfiltration", TechniqueID: "T1530", TechniqueName: "Data from Cloud Storage"},
	// Impact
	"DeleteBucket":       {Tactic: "Impact", TechniqueID: "T1485", TechniqueName: "Data Destruction"},
	"TerminateInstances": {Tactic: "Impact", TechniqueID: "T1489", TechniqueName: "Service Stop"},
}

// highSeverityEventNames are audit event names that classify as high
// severity regardless of outcome.
var highSeverityEventNames = map[string]struct{}{
	"ConsoleLogin":                  {},
	"CreateUser":                    {},
	"CreateAccessKey":               {},
	"DeleteTrail":                   {},
	"StopLogging":                   {},
	"PutBucketPolicy":               {},
	"PutBucketAcl":                  {},
	"AuthorizeSecurityGroupIngress": {},
	"CreateSecurityGroup":           {},
	"ModifyInstanceAttribute":       {},
	"RunInstances":                  {},
}

// criticalSeverityPatterns flag event names indicating logging tampering or
// root-level activity.
var criticalSeverityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^.*Delete.*Trail.*`),
	regexp.MustCompile(`(?i)^.*Stop.*Logging.*`),
	regexp.MustCompile(`(?i)^.*Disable.*`),
	regexp.MustCompile(`(?i)^.*Root.*`),
}

// deniedErrorCodes are authorization failures that raise severity to high.
var deniedErrorCodes = map[string]struct{}{
	"AccessDenied":         {},
	"UnauthorizedAccess":   {},
	"InvalidClientTokenId": {},
}

// authenticationEventNames classify as the authentication category.
var authenticationEventNames = map[string]struct{}{
	"ConsoleLogin":              {},
	"GetFederationToken":        {},
	"GetSessionToken":           {},
	"AssumeRole":                {},
	"AssumeRoleWithSAML":        {},
	"AssumeRoleWithWebIdentity": {},
}

// CloudAuditNormalizer converts cloud audit log records into canonical
// events.
type CloudAuditNormalizer struct {
	now   Clock
	newID IDGenerator
}

// NewCloudAuditNormalizer creates a normalizer with the production clock and
// id generator.
func NewCloudAuditNormalizer() *CloudAuditNormalizer {
	return &CloudAuditNormalizer{now: defaultClock, newID: defaultIDGenerator}
}

// NewCloudAuditNormalizerWithDeps creates a normalizer with injected clock
// and id generator. Intended for tests that need deterministic output.
func NewCloudAuditNormalizerWithDeps(now Clock, newID IDGenerator) *CloudAuditNormalizer {
	return &CloudAuditNormalizer{now: now, newID: newID}
}

// Normalize converts one raw audit record. The record must carry eventName;
// everything else is optional and extracted defensively.
func (n *CloudAuditNormalizer) Normalize(raw json.RawMessage) (*model.CanonicalEvent, error) {
	record, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}

	eventName := getString(record, "eventName")
	if eventName == "" {
		return nil, fmt.Errorf("%w: missing eventName", ErrMalformedRecord)
	}
	eventSource := getString(record, "eventSource")

	now := n.now()
	eventTime := parseEventTime(getString(record, "eventTime"), now)

	userIdentity := getMap(record, "userIdentity")
	userType := getString(userIdentity, "type")
	errorCode := getString(record, "errorCode")

	actor := &model.Actor{
		PrincipalID:   getString(userIdentity, "principalId"),
		PrincipalType: userType,
		IdentityARN:   getString(userIdentity, "arn"),
		AccessKeyID:   getString(userIdentity, "accessKeyId"),
		UserName:      getString(userIdentity, "userName"),
		SessionName:   getString(getMap(getMap(userIdentity, "sessionContext"), "sessionIssuer"), "userName"),
	}

	network := &model.Network{
		SourceIP:  getString(record, "sourceIPAddress"),
		UserAgent: getString(record, "userAgent"),
	}

	cloudCtx := &model.CloudContext{
		AccountID: getString(userIdentity, "accountId"),
		Region:    getString(record, "awsRegion"),
		Service:   serviceShortName(eventSource),
	}
	if resources := getSlice(record, "resources"); len(resources) > 0 {
		if first, ok := resources[0].(map[string]any); ok {
			cloudCtx.ResourceID = getString(first, "ARN")
			cloudCtx.ResourceType = getString(first, "type")
		}
	}

	severity := cloudAuditSeverity(eventName, errorCode, userType)
	category := cloudAuditCategory(eventName, eventSource)

	var technique *model.Technique
	if t, ok := cloudAuditTechniques[eventName]; ok {
		technique = &t
	}

	title := "CloudAudit: " + eventName
	if errorCode != "" {
		title += " (" + errorCode + ")"
	}

	description := fmt.Sprintf("%s event from %s", eventName, eventSource)
	switch {
	case actor.UserName != "":
		description += " by user " + actor.UserName
	case actor.IdentityARN != "":
		description += " by " + actor.IdentityARN
	}
	if errorCode != "" {
		description += fmt.Sprintf(". Error: %s - %s", errorCode, getString(record, "errorMessage"))
	}

	tags := []string{"cloudaudit", serviceShortName(eventSource)}
	if errorCode != "" {
		tags = append(tags, "error", strings.ToLower(errorCode))
	}
	if userType == "Root" {
		tags = append(tags, "root-account")
	}
	if technique != nil {
		tags = append(tags, "mitre-"+technique.TechniqueID)
	}

	return &model.CanonicalEvent{
		EventID:       n.newID(),
		Source:        model.SourceCloudAudit,
		SourceEventID: getString(record, "eventID"),
		EventTime:     eventTime,
		IngestedAt:    now,
		EventType:     eventName,
		EventCategory: category,
		Severity:      severity,
		Status:        model.StatusNew,
		Title:         title,
		Description:   description,
		CloudContext:  cloudCtx,
		Actor:         actor,
		Network:       network,
		Technique:     technique,
		Raw:           raw,
		Tags:          model.DedupeTags(tags),
	}, nil
}

// cloudAuditSeverity classifies severity in strict priority order; the
// first matching rule wins.
func cloudAuditSeverity(eventName, errorCode, userType string) model.Severity {
	if userType == "Root" {
		return model.SeverityCritical
	}
	for _, pattern := range criticalSeverityPatterns {
		if pattern.MatchString(eventName) {
			return model.SeverityCritical
		}
	}
	if _, ok := deniedErrorCodes[errorCode]; ok {
		return model.SeverityHigh
	}
	if _, ok := highSeverityEventNames[eventName]; ok {
		return model.SeverityHigh
	}
	if strings.HasPrefix(eventName, "List") ||
		strings.HasPrefix(eventName, "Describe") ||
		strings.HasPrefix(eventName, "Get") {
		return model.SeverityLow
	}
	return model.SeverityInfo
}

// cloudAuditCategory assigns the event category; first match wins and the
// rule order is authoritative (authentication outranks identity_management,
// which outranks the verb-prefix heuristics).
func cloudAuditCategory(eventName, eventSource string) model.Category {
	if _, ok := authenticationEventNames[eventName]; ok {
		return model.CategoryAuthentication
	}
	if eventSource == "iam.amazonaws.com" {
		return model.CategoryIdentityManagement
	}
	if eventSource == "ec2.amazonaws.com" {
		for _, fragment := range []string{"SecurityGroup", "Vpc", "Subnet", "Route", "NetworkAcl"} {
			if strings.Contains(eventName, fragment) {
				return model.CategoryNetworkSecurity
			}
		}
	}
	if eventSource == "s3.amazonaws.com" ||
		eventName == "GetObject" || eventName == "PutObject" || eventName == "DeleteObject" {
		return model.CategoryDataAccess
	}
	if eventSource == "cloudtrail.amazonaws.com" || eventSource == "logs.amazonaws.com" {
		return model.CategoryLogging
	}
	for _, prefix := range []string{"Create", "Delete", "Modify", "Update", "Terminate"} {
		if strings.HasPrefix(eventName, prefix) {
			return model.CategoryResourceModification
		}
	}
	for _, prefix := range []string{"List", "Describe", "Get"} {
		if strings.HasPrefix(eventName, prefix) {
			return model.CategoryDiscovery
		}
	}
	return model.CategoryOther
}

// serviceShortName returns the service portion of an event source host,
// e.g. "iam.amazonaws.com" -> "iam". Empty sources map to "aws".
func serviceShortName(eventSource string) string {
	if eventSource == "" {
		return "aws"
	}
	if idx := strings.IndexByte(eventSource, '.'); idx > 0 {
		return eventSource[:idx]
	}
	return eventSource
}
