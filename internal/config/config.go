// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package config

import "time"

// Config holds all application configuration.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in values for every setting
//  2. Config file: optional YAML (CONFIG_PATH or a default search path)
//  3. Environment variables: override any setting
//
// Config is immutable after Load and safe for concurrent reads.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	NATS     NATSConfig     `koanf:"nats"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Alerting AlertingConfig `koanf:"alerting"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Query    QueryConfig    `koanf:"query"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StoreConfig holds the BadgerDB event store settings.
//
// Environment variables:
//   - STORE_PATH: on-disk location; empty runs in-memory (tests only)
//   - STORE_GC_INTERVAL: value-log garbage collection cadence
type StoreConfig struct {
	Path       string        `koanf:"path"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// NATSConfig holds the JetStream work queue settings. The embedded server
// is the default deployment; point URL at an external cluster and set
// EMBEDDED=false to opt out.
type NATSConfig struct {
	Embedded   bool          `koanf:"embedded"`
	URL        string        `koanf:"url"`
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	StoreDir   string        `koanf:"store_dir"`
	MaxMemory  int64         `koanf:"max_memory"`
	MaxStore   int64         `koanf:"max_store"`
	AckWait    time.Duration `koanf:"ack_wait"`
	MaxAge     time.Duration `koanf:"max_age"`
	MaxDeliver int           `koanf:"max_deliver"`
}

// PipelineConfig holds the event processor settings.
//
// Environment variables:
//   - BATCH_SIZE: messages pulled per tick (default 10)
//   - POLL_INTERVAL_SECONDS: long-poll wait and failure backoff (default 5)
//   - CORRELATION_WINDOW_MINUTES: correlation lookback (default 60)
type PipelineConfig struct {
	BatchSize           int `koanf:"batch_size"`
	PollIntervalSeconds int `koanf:"poll_interval_seconds"`
	WindowMinutes       int `koanf:"window_minutes"`
}

// AlertingConfig holds the alert thresholds.
//
// Environment variables:
//   - ALERT_THRESHOLD_SEVERITY: minimum severity that always alerts
//     below critical (default high)
//   - ALERT_THRESHOLD_RISK_SCORE: risk score that alerts regardless of
//     severity (default 70)
type AlertingConfig struct {
	ThresholdSeverity  string `koanf:"threshold_severity"`
	ThresholdRiskScore int    `koanf:"threshold_risk_score"`
}

// IngestConfig holds the ingest HTTP surface settings.
type IngestConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	WorkerBuffer int    `koanf:"worker_buffer"`
}

// QueryConfig holds the query/health HTTP surface settings.
type QueryConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PollInterval returns the pipeline poll interval as a duration.
func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// Window returns the correlation window as a duration.
func (p PipelineConfig) Window() time.Duration {
	return time.Duration(p.WindowMinutes) * time.Minute
}
