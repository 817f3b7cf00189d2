// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package config

import (
	"fmt"

	"github.com/talosops/cloudsentry/internal/model"
)

// Validate checks that configuration values are present and sane.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateAlerting(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validatePorts(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 1000 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 1000, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.PollIntervalSeconds < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 1, got %d", c.Pipeline.PollIntervalSeconds)
	}
	if c.Pipeline.WindowMinutes < 1 {
		return fmt.Errorf("CORRELATION_WINDOW_MINUTES must be at least 1, got %d", c.Pipeline.WindowMinutes)
	}
	return nil
}

func (c *Config) validateAlerting() error {
	if !model.Severity(c.Alerting.ThresholdSeverity).Valid() {
		return fmt.Errorf("ALERT_THRESHOLD_SEVERITY must be one of info, low, medium, high, critical, got %q",
			c.Alerting.ThresholdSeverity)
	}
	if c.Alerting.ThresholdRiskScore < 0 || c.Alerting.ThresholdRiskScore > 100 {
		return fmt.Errorf("ALERT_THRESHOLD_RISK_SCORE must be between 0 and 100, got %d", c.Alerting.ThresholdRiskScore)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_EMBEDDED=false")
	}
	if c.NATS.AckWait <= 0 {
		return fmt.Errorf("NATS_ACK_WAIT must be positive")
	}
	if c.NATS.MaxDeliver < 1 {
		return fmt.Errorf("NATS_MAX_DELIVER must be at least 1, got %d", c.NATS.MaxDeliver)
	}
	return nil
}

func (c *Config) validatePorts() error {
	for name, port := range map[string]int{
		"INGEST_PORT": c.Ingest.Port,
		"QUERY_PORT":  c.Query.Port,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if c.Ingest.Port == c.Query.Port {
		return fmt.Errorf("INGEST_PORT and QUERY_PORT must differ, both are %d", c.Ingest.Port)
	}
	if c.Ingest.WorkerBuffer < 1 {
		return fmt.Errorf("INGEST_WORKER_BUFFER must be at least 1, got %d", c.Ingest.WorkerBuffer)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
