// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/model"
)

// fixedDeps returns a pinned clock and a sequential id generator so that
// normalization output is fully deterministic.
func fixedDeps() (Clock, IDGenerator) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	return func() time.Time { return now },
		func() string {
			seq++
			return fmt.Sprintf("evt-%04d", seq)
		}
}

func TestCloudAuditRootActionIsCritical(t *testing.T) {
	now, newID := fixedDeps()
	n := NewCloudAuditNormalizerWithDeps(now, newID)

	raw := json.RawMessage(`{
		"eventName": "CreateUser",
		"eventSource": "iam.amazonaws.com",
		"eventTime": "2026-03-01T11:58:00Z",
		"userIdentity": {"type": "Root", "principalId": "123456789012", "arn": "arn:aws:iam::123456789012:root", "accountId": "123456789012"},
		"awsRegion": "us-east-1",
		"sourceIPAddress": "198.51.100.7"
	}`)

	event, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if event.Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want critical", event.Severity)
	}
	if !event.HasTag("root-account") {
		t.Errorf("tags = %v, want root-account", event.Tags)
	}
	if event.EventCategory != model.CategoryIdentityManagement {
		t.Errorf("category = %v, want identity_management", event.EventCategory)
	}
	if event.Technique == nil {
		t.Fatal("expected technique mapping for CreateUser")
	}
	if event.Technique.TechniqueID != "T1136.003" || event.Technique.Tactic != "Persistence" {
		t.Errorf("technique = %+v, want Persistence/T1136.003", event.Technique)
	}
	if event.Technique.TechniqueName != "Create Account: Cloud Account" {
		t.Errorf("technique name = %q", event.Technique.TechniqueName)
	}
}

func TestCloudAuditSeverityPriority(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		errorCode string
		userType  string
		want      model.Severity
	}{
		{"root wins over everything", "ListBuckets", "", "Root", model.SeverityCritical},
		{"delete trail pattern", "DeleteTrail", "", "IAMUser", model.SeverityCritical},
		{"stop logging pattern", "StopLogging", "", "IAMUser", model.SeverityCritical},
		{"disable pattern", "DisableKey", "", "IAMUser", model.SeverityCritical},
		{"root in name", "CreateRootCertificate", "", "IAMUser", model.SeverityCritical},
		{"access denied", "PutObject", "AccessDenied", "IAMUser", model.SeverityHigh},
		{"unauthorized", "RunTask", "UnauthorizedAccess", "IAMUser", model.SeverityHigh},
		{"invalid token", "RunTask", "InvalidClientTokenId", "IAMUser", model.SeverityHigh},
		{"high severity set", "ConsoleLogin", "", "IAMUser", model.SeverityHigh},
		{"run instances", "RunInstances", "", "IAMUser", model.SeverityHigh},
		{"list prefix", "ListUsers", "", "IAMUser", model.SeverityLow},
		{"describe prefix", "DescribeVolumes", "", "IAMUser", model.SeverityLow},
		{"get prefix", "GetCallerIdentity", "", "IAMUser", model.SeverityLow},
		{"default info", "PutMetricData", "", "IAMUser", model.SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cloudAuditSeverity(tt.eventName, tt.errorCode, tt.userType); got != tt.want {
				t.Errorf("cloudAuditSeverity(%q, %q, %q) = %v, want %v",
					tt.eventName, tt.errorCode, tt.userType, got, tt.want)
			}
		})
	}
}

func TestCloudAuditCategoryOrder(t *testing.T) {
	tests := []struct {
		name        string
		eventName   string
		eventSource string
		want        model.Category
	}{
		// Authentication wins even for iam-adjacent sources.
		{"console login", "ConsoleLogin", "signin.amazonaws.com", model.CategoryAuthentication},
		{"assume role", "AssumeRole", "sts.amazonaws.com", model.CategoryAuthentication},
		// identity_management by eventSource outranks the verb heuristics.
		{"iam create", "CreateUser", "iam.amazonaws.com", model.CategoryIdentityManagement},
		{"iam list", "ListUsers", "iam.amazonaws.com", model.CategoryIdentityManagement},
		{"ec2 security group", "AuthorizeSecurityGroupIngress", "ec2.amazonaws.com", model.CategoryNetworkSecurity},
		{"ec2 vpc", "CreateVpc", "ec2.amazonaws.com", model.CategoryNetworkSecurity},
		{"s3 source", "HeadBucket", "s3.amazonaws.com", model.CategoryDataAccess},
		{"get object anywhere", "GetObject", "other.amazonaws.com", model.CategoryDataAccess},
		{"cloudtrail source", "LookupEvents", "cloudtrail.amazonaws.com", model.CategoryLogging},
		{"resource modification", "CreateFunction", "lambda.amazonaws.com", model.CategoryResourceModification},
		{"discovery", "DescribeVolumes", "ec2.amazonaws.com", model.CategoryDiscovery},
		{"other", "InvokeModel", "bedrock.amazonaws.com", model.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cloudAuditCategory(tt.eventName, tt.eventSource); got != tt.want {
				t.Errorf("cloudAuditCategory(%q, %q) = %v, want %v",
					tt.eventName, tt.eventSource, got, tt.want)
			}
		})
	}
}

func TestCloudAuditErrorTags(t *testing.T) {
	now, newID := fixedDeps()
	n := NewCloudAuditNormalizerWithDeps(now, newID)

	raw := json.RawMessage(`{
		"eventName": "ConsoleLogin",
		"eventSource": "signin.amazonaws.com",
		"errorCode": "AccessDenied",
		"errorMessage": "Failed authentication",
		"sourceIPAddress": "203.0.113.5"
	}`)

	event, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	for _, want := range []string{"cloudaudit", "signin", "error", "accessdenied", "mitre-T1078"} {
		if !event.HasTag(want) {
			t.Errorf("tags = %v, missing %q", event.Tags, want)
		}
	}
	if event.Title != "CloudAudit: ConsoleLogin (AccessDenied)" {
		t.Errorf("title = %q", event.Title)
	}
	if event.Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want high (error code outranks the high set here)", event.Severity)
	}
}

func TestCloudAuditRawPreservedVerbatim(t *testing.T) {
	now, newID := fixedDeps()
	n := NewCloudAuditNormalizerWithDeps(now, newID)

	raw := json.RawMessage(`{"eventName":"PutMetricData","custom":{"deep":[1,2,{"x":null}]}}`)
	event, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !bytes.Equal(event.Raw, raw) {
		t.Errorf("raw payload altered:\n got %s\nwant %s", event.Raw, raw)
	}
}

func TestCloudAuditMalformedRecord(t *testing.T) {
	n := NewCloudAuditNormalizer()

	for name, raw := range map[string]json.RawMessage{
		"not json":          json.RawMessage(`{{`),
		"missing eventName": json.RawMessage(`{"eventSource":"iam.amazonaws.com"}`),
		"null":              json.RawMessage(`null`),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := n.Normalize(raw); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestCloudAuditBadTimeFallsBackToClock(t *testing.T) {
	now, newID := fixedDeps()
	n := NewCloudAuditNormalizerWithDeps(now, newID)

	raw := json.RawMessage(`{"eventName":"ListBuckets","eventTime":"not-a-time"}`)
	event, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !event.EventTime.Equal(now()) {
		t.Errorf("event_time = %v, want injected clock %v", event.EventTime, now())
	}
}

func TestCloudAuditNormalizationIsPure(t *testing.T) {
	raw := json.RawMessage(`{
		"eventName": "AssumeRole",
		"eventSource": "sts.amazonaws.com",
		"eventTime": "2026-03-01T10:00:00Z",
		"userIdentity": {"type": "IAMUser", "userName": "alice"}
	}`)

	nowA, idA := fixedDeps()
	nowB, idB := fixedDeps()

	a, err := NewCloudAuditNormalizerWithDeps(nowA, idA).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b, err := NewCloudAuditNormalizerWithDeps(nowB, idB).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	if !bytes.Equal(aJSON, bJSON) {
		t.Errorf("normalization is not pure:\n a=%s\n b=%s", aJSON, bJSON)
	}
}

func TestCloudAuditActorAndContextExtraction(t *testing.T) {
	now, newID := fixedDeps()
	n := NewCloudAuditNormalizerWithDeps(now, newID)

	raw := json.RawMessage(`{
		"eventName": "RunInstances",
		"eventSource": "ec2.amazonaws.com",
		"eventID": "src-evt-9",
		"awsRegion": "eu-west-1",
		"userIdentity": {
			"type": "AssumedRole",
			"principalId": "AROA123:session",
			"arn": "arn:aws:sts::123456789012:assumed-role/admin/session",
			"accessKeyId": "ASIA123",
			"accountId": "123456789012",
			"sessionContext": {"sessionIssuer": {"userName": "admin"}}
		},
		"resources": [{"ARN": "arn:aws:ec2:eu-west-1:123456789012:instance/i-0abc", "type": "AWS::EC2::Instance"}],
		"sourceIPAddress": "192.0.2.10",
		"userAgent": "aws-cli/2.x"
	}`)

	event, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if event.SourceEventID != "src-evt-9" {
		t.Errorf("source_event_id = %q", event.SourceEventID)
	}
	if event.Actor.SessionName != "admin" {
		t.Errorf("session_name = %q, want admin", event.Actor.SessionName)
	}
	if event.CloudContext.Service != "ec2" || event.CloudContext.Region != "eu-west-1" {
		t.Errorf("cloud context = %+v", event.CloudContext)
	}
	if event.CloudContext.ResourceID != "arn:aws:ec2:eu-west-1:123456789012:instance/i-0abc" {
		t.Errorf("resource_id = %q", event.CloudContext.ResourceID)
	}
	if event.CloudContext.ResourceType != "AWS::EC2::Instance" {
		t.Errorf("resource_type = %q", event.CloudContext.ResourceType)
	}
	if event.Network.SourceIP != "192.0.2.10" || event.Network.UserAgent != "aws-cli/2.x" {
		t.Errorf("network = %+v", event.Network)
	}
}
