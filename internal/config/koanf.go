// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cloudsentry/config.yaml",
	"/etc/cloudsentry/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every setting at its default.
// Defaults load first, then config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:       "/data/cloudsentry/events",
			GCInterval: 10 * time.Minute,
		},
		NATS: NATSConfig{
			Embedded:   true,
			URL:        "nats://127.0.0.1:4222",
			Host:       "127.0.0.1",
			Port:       4222,
			StoreDir:   "/data/cloudsentry/jetstream",
			MaxMemory:  1 << 30,  // 1GB
			MaxStore:   10 << 30, // 10GB
			AckWait:    5 * time.Minute,
			MaxAge:     72 * time.Hour,
			MaxDeliver: 5,
		},
		Pipeline: PipelineConfig{
			BatchSize:           10,
			PollIntervalSeconds: 5,
			WindowMinutes:       60,
		},
		Alerting: AlertingConfig{
			ThresholdSeverity:  "high",
			ThresholdRiskScore: 70,
		},
		Ingest: IngestConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			WorkerBuffer: 1024,
		},
		Query: QueryConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds configuration from layered sources with Koanf v2:
// defaults, then an optional YAML file, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first readable config file, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return empty string and are skipped, so arbitrary
// process environment never leaks into configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Store mappings
		"store_path":        "store.path",
		"store_gc_interval": "store.gc_interval",

		// NATS mappings
		"nats_embedded":    "nats.embedded",
		"nats_url":         "nats.url",
		"nats_host":        "nats.host",
		"nats_port":        "nats.port",
		"nats_store_dir":   "nats.store_dir",
		"nats_max_memory":  "nats.max_memory",
		"nats_max_store":   "nats.max_store",
		"nats_ack_wait":    "nats.ack_wait",
		"nats_max_age":     "nats.max_age",
		"nats_max_deliver": "nats.max_deliver",

		// Pipeline mappings
		"batch_size":                 "pipeline.batch_size",
		"poll_interval_seconds":      "pipeline.poll_interval_seconds",
		"correlation_window_minutes": "pipeline.window_minutes",

		// Alerting mappings
		"alert_threshold_severity":   "alerting.threshold_severity",
		"alert_threshold_risk_score": "alerting.threshold_risk_score",

		// HTTP surface mappings
		"ingest_host":          "ingest.host",
		"ingest_port":          "ingest.port",
		"ingest_worker_buffer": "ingest.worker_buffer",
		"query_host":           "query.host",
		"query_port":           "query.port",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
