// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package normalize

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/model"
)

// threatTechniques maps full finding types to MITRE ATT&CK techniques.
var threatTechniques = map[string]model.Technique{
	// Reconnaissance
	"Recon:EC2/PortProbeUnprotectedPort": {Tactic: "Reconnaissance", TechniqueID: "T1595.001", TechniqueName: "Active Scanning: Scanning IP Blocks"},
	"Recon:EC2/Portscan":                 {Tactic: "Reconnaissance", TechniqueID: "T1595.001", TechniqueName: "Active Scanning: Scanning IP Blocks"},
	// Initial Access
	"UnauthorizedAccess:EC2/SSHBruteForce":             {Tactic: "Initial Access", TechniqueID: "T1110.001", TechniqueName: "Brute Force: Password Guessing"},
	"UnauthorizedAccess:EC2/RDPBruteForce":             {Tactic: "Initial Access", TechniqueID: "T1110.001", TechniqueName: "Brute Force: Password Guessing"},
	"UnauthorizedAccess:IAMUser/ConsoleLoginSuccess.B": {Tactic: "Initial Access", TechniqueID: "T1078.004", TechniqueName: "Valid Accounts: Cloud Accounts"},
	// Execution
	"Execution:EC2/SuspiciousFile": {Tactic: "Execution", TechniqueID: "T1204", TechniqueName: "User Execution"},
	// Persistence
	"Persistence:IAMUser/UserPermissions": {Tactic: "Persistence", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	// Privilege Escalation
	"PrivilegeEscalation:IAMUser/AdministrativePermissions": {Tactic: "Privilege Escalation", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	// Defense Evasion
	"Stealth:IAMUser/CloudTrailLoggingDisabled": {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	"DefenseEvasion:EC2/UnusualDNSResolver":     {Tactic: "Defense Evasion", TechniqueID: "T1568", TechniqueName: "Dynamic Resolution"},
	// Credential Access
	"CredentialAccess:IAMUser/AnomalousBehavior": {Tactic: "Credential Access", TechniqueID: "T1528", TechniqueName: "Steal Application Access Token"},
	// Discovery
	"Discovery:IAMUser/AnomalousBehavior": {Tactic: "Discovery", TechniqueID: "T1087.004", TechniqueName: "Account Discovery: Cloud Account"},
	// Exfiltration
	"Exfiltration:S3/ObjectRead.Unusual": {Tactic: "Exfiltration", TechniqueID: "T1530", TechniqueName: "Data from Cloud Storage"},
	"Exfiltration:S3/MaliciousIPCaller":  {Tactic: "Exfiltration", TechniqueID: "T1530", TechniqueName: "Data from Cloud Storage"},
	// Impact
	"Impact:EC2/WinRMBruteForce":  {Tactic: "Impact", TechniqueID: "T1110", TechniqueName: "Brute Force"},
	"Impact:S3/MaliciousIPCaller": {Tactic: "Impact", TechniqueID: "T1485", TechniqueName: "Data Destruction"},
	// Crypto Mining
	"CryptoCurrency:EC2/BitcoinTool.B":     {Tactic: "Impact", TechniqueID: "T1496", TechniqueName: "Resource Hijacking"},
	"CryptoCurrency:EC2/BitcoinTool.B!DNS": {Tactic: "Impact", TechniqueID: "T1496", TechniqueName: "Resource Hijacking"},
	// Trojan
	"Trojan:EC2/BlackholeTraffic": {Tactic: "Command and Control", TechniqueID: "T1071", TechniqueName: "Application Layer Protocol"},
	"Trojan:EC2/DropPoint":        {Tactic: "Command and Control", TechniqueID: "T1071", TechniqueName: "Application Layer Protocol"},
	// Backdoor
	"Backdoor:EC2/DenialOfService.Tcp": {Tactic: "Impact", TechniqueID: "T1498", TechniqueName: "Network Denial of Service"},
	"Backdoor:EC2/DenialOfService.Udp": {Tactic: "Impact", TechniqueID: "T1498", TechniqueName: "Network Denial of Service"},
}

// threatTechniquePrefixes is the deterministic fallback when a finding type
// has no exact entry: the prefix before ":" maps to a representative
// technique for that family.
var threatTechniquePrefixes = map[string]model.Technique{
	"Recon":               {Tactic: "Reconnaissance", TechniqueID: "T1595.001", TechniqueName: "Active Scanning: Scanning IP Blocks"},
	"UnauthorizedAccess":  {Tactic: "Initial Access", TechniqueID: "T1110.001", TechniqueName: "Brute Force: Password Guessing"},
	"Execution":           {Tactic: "Execution", TechniqueID: "T1204", TechniqueName: "User Execution"},
	"Persistence":         {Tactic: "Persistence", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	"PrivilegeEscalation": {Tactic: "Privilege Escalation", TechniqueID: "T1098", TechniqueName: "Account Manipulation"},
	"Stealth":             {Tactic: "Defense Evasion", TechniqueID: "T1562.008", TechniqueName: "Impair Defenses: Disable Cloud Logs"},
	"DefenseEvasion":      {Tactic: "Defense Evasion", TechniqueID: "T1568", TechniqueName: "Dynamic Resolution"},
	"CredentialAccess":    {Tactic: "Credential Access", TechniqueID: "T1528", TechniqueName: "Steal Application Access Token"},
	"Discovery":           {Tactic: "Discovery", TechniqueID: "T1087.004", TechniqueName: "Account Discovery: Cloud Account"},
	"Exfiltration":        {Tactic: "Exfiltration", TechniqueID: "T1530", TechniqueName: "Data from Cloud Storage"},
	"Impact":              {Tactic: "Impact", TechniqueID: "T1110", TechniqueName: "Brute Force"},
	"CryptoCurrency":      {Tactic: "Impact", TechniqueID: "T1496", TechniqueName: "Resource Hijacking"},
	"Trojan":              {Tactic: "Command and Control", TechniqueID: "T1071", TechniqueName: "Application Layer Protocol"},
	"Backdoor":            {Tactic: "Impact", TechniqueID: "T1498", TechniqueName: "Network Denial of Service"},
}

// threatCategories maps finding-type prefixes to canonical categories.
var threatCategories = map[string]model.Category{
	"Recon":               model.CategoryReconnaissance,
	"UnauthorizedAccess":  model.CategoryUnauthorizedAccess,
	"Execution":           model.CategoryExecution,
	"Persistence":         model.CategoryPersistence,
	"PrivilegeEscalation": model.CategoryPrivilegeEscalation,
	"DefenseEvasion":      model.CategoryDefenseEvasion,
	"Stealth":             model.CategoryDefenseEvasion,
	"CredentialAccess":    model.CategoryCredentialAccess,
	"Discovery":           model.CategoryDiscovery,
	"Exfiltration":        model.CategoryExfiltration,
	"Impact":              model.CategoryImpact,
	"CryptoCurrency":      model.CategoryCryptomining,
	"Trojan":              model.CategoryMalware,
	"Backdoor":            model.CategoryMalware,
	"Behavior":            model.CategoryAnomaly,
	"PenTest":             model.CategoryPentest,
	"Policy":              model.CategoryPolicyViolation,
}

// ThreatDetectorNormalizer converts threat detector findings into canonical
// events.
type ThreatDetectorNormalizer struct {
	now   Clock
	newID IDGenerator
}

// NewThreatDetectorNormalizer creates a normalizer with the production clock
// and id generator.
func NewThreatDetectorNormalizer() *ThreatDetectorNormalizer {
	return &ThreatDetectorNormalizer{now: defaultClock, newID: defaultIDGenerator}
}

// NewThreatDetectorNormalizerWithDeps creates a normalizer with injected
// clock and id generator for deterministic tests.
func NewThreatDetectorNormalizerWithDeps(now Clock, newID IDGenerator) *ThreatDetectorNormalizer {
	return &ThreatDetectorNormalizer{now: now, newID: newID}
}

// Normalize converts one raw finding. The finding must carry Type.
func (n *ThreatDetectorNormalizer) Normalize(raw json.RawMessage) (*model.CanonicalEvent, error) {
	finding, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}

	findingType := getString(finding, "Type")
	if findingType == "" {
		return nil, fmt.Errorf("%w: missing Type", ErrMalformedRecord)
	}

	now := n.now()
	eventTime := parseEventTime(getString(finding, "CreatedAt"), now)

	numericSeverity, _ := getFloat(finding, "Severity")
	severity := threatSeverity(numericSeverity)
	category := threatCategory(findingType)
	technique := threatTechnique(findingType)

	resource := getMap(finding, "Resource")
	resourceType := getString(resource, "ResourceType")

	cloudCtx := &model.CloudContext{
		AccountID:    getString(finding, "AccountId"),
		Region:       getString(finding, "Region"),
		ResourceType: resourceType,
	}
	if instance := getMap(resource, "InstanceDetails"); instance != nil {
		cloudCtx.ResourceID = getString(instance, "InstanceId")
	}
	if buckets := getSlice(resource, "S3BucketDetails"); len(buckets) > 0 {
		if bucket, ok := buckets[0].(map[string]any); ok {
			cloudCtx.ResourceID = getString(bucket, "Arn")
		}
	}

	var actor *model.Actor
	if keyDetails := getMap(resource, "AccessKeyDetails"); keyDetails != nil {
		actor = &model.Actor{
			PrincipalID:   getString(keyDetails, "PrincipalId"),
			PrincipalType: getString(keyDetails, "UserType"),
			AccessKeyID:   getString(keyDetails, "AccessKeyId"),
			UserName:      getString(keyDetails, "UserName"),
		}
	}

	service := getMap(finding, "Service")
	network := threatNetwork(getMap(service, "Action"))

	title := getString(finding, "Title")
	if title == "" {
		title = "ThreatDetector: " + findingType
	}

	tags := []string{"threatdetector", string(category)}
	if severity == model.SeverityCritical || severity == model.SeverityHigh {
		tags = append(tags, "high-priority")
	}
	if technique != nil {
		tags = append(tags, "mitre-"+technique.TechniqueID)
	}
	if resourceType != "" {
		tags = append(tags, strings.ToLower(resourceType))
	}

	metadata := map[string]any{
		"detector_severity": numericSeverity,
		"updated_at":        getString(finding, "UpdatedAt"),
	}
	if count, ok := getFloat(service, "Count"); ok {
		metadata["count"] = count
	} else {
		metadata["count"] = float64(1)
	}

	return &model.CanonicalEvent{
		EventID:       n.newID(),
		Source:        model.SourceThreatDetector,
		SourceEventID: getString(finding, "Id"),
		EventTime:     eventTime,
		IngestedAt:    now,
		EventType:     findingType,
		EventCategory: category,
		Severity:      severity,
		Status:        model.StatusNew,
		Title:         title,
		Description:   getString(finding, "Description"),
		CloudContext:  cloudCtx,
		Actor:         actor,
		Network:       network,
		Technique:     technique,
		Raw:           raw,
		Tags:          model.DedupeTags(tags),
		Metadata:      metadata,
	}, nil
}

// threatSeverity maps the detector's 0-10 numeric scale to canonical
// severity.
func threatSeverity(severity float64) model.Severity {
	switch {
	case severity >= 8.0:
		return model.SeverityCritical
	case severity >= 6.0:
		return model.SeverityHigh
	case severity >= 4.0:
		return model.SeverityMedium
	case severity >= 2.0:
		return model.SeverityLow
	default:
		return model.SeverityInfo
	}
}

// threatCategory classifies a finding by its type prefix.
func threatCategory(findingType string) model.Category {
	prefix := findingType
	if idx := strings.IndexByte(findingType, ':'); idx >= 0 {
		prefix = findingType[:idx]
	}
	if c, ok := threatCategories[prefix]; ok {
		return c
	}
	return model.CategoryOther
}

// threatTechnique resolves the technique for a finding type: exact match
// first, then the family prefix, then nothing.
func threatTechnique(findingType string) *model.Technique {
	if t, ok := threatTechniques[findingType]; ok {
		return &t
	}
	if idx := strings.IndexByte(findingType, ':'); idx > 0 {
		if t, ok := threatTechniquePrefixes[findingType[:idx]]; ok {
			return &t
		}
	}
	return nil
}

// threatNetwork extracts network details from the finding's service action.
// NetworkConnectionAction is preferred; AwsApiCallAction is the fallback
// when no connection action is present.
func threatNetwork(action map[string]any) *model.Network {
	if action == nil {
		return nil
	}

	if conn := getMap(action, "NetworkConnectionAction"); conn != nil {
		network := &model.Network{
			SourceIP: getString(getMap(conn, "RemoteIpDetails"), "IpAddressV4"),
			Protocol: getString(conn, "Protocol"),
		}
		if port, ok := getFloat(getMap(conn, "RemotePortDetails"), "Port"); ok {
			network.SourcePort = int(port)
		}
		if port, ok := getFloat(getMap(conn, "LocalPortDetails"), "Port"); ok {
			network.DestinationPort = int(port)
		}
		return network
	}

	if apiCall := getMap(action, "AwsApiCallAction"); apiCall != nil {
		return &model.Network{
			SourceIP:  getString(getMap(apiCall, "RemoteIpDetails"), "IpAddressV4"),
			UserAgent: getString(apiCall, "UserAgent"),
		}
	}

	return nil
}
