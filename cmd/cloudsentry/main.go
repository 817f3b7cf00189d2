// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package main is the entry point for the CloudSentry server.
//
// CloudSentry aggregates security events from cloud audit logs, threat
// detection services, and custom sources into a canonical schema, then
// correlates them into attack patterns and dispatches alerts.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML, env)
//  2. Event store: BadgerDB at STORE_PATH
//  3. Broker: embedded NATS JetStream server (or external via NATS_URL)
//  4. Work queue: JetStream stream and durable pull consumer
//  5. Alerting: NATS-backed dispatcher behind a circuit breaker
//  6. Pipeline: the correlation and scoring processor
//  7. HTTP: ingest surface (INGEST_PORT) and query surface (QUERY_PORT)
//
// Everything runs under a suture supervision tree with three layers
// (data, messaging, api), so a crashing component restarts with backoff
// without taking down the rest.
//
// # Configuration
//
// All settings have defaults; see internal/config. The pipeline knobs are
// BATCH_SIZE, POLL_INTERVAL_SECONDS, CORRELATION_WINDOW_MINUTES,
// ALERT_THRESHOLD_SEVERITY, and ALERT_THRESHOLD_RISK_SCORE.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: HTTP servers drain, the
// ingest worker flushes its buffer, in-flight queue messages are left for
// redelivery, and the store closes last.
//
// # Example Usage
//
// Single-node with defaults:
//
//	export STORE_PATH=/data/cloudsentry/events
//	./cloudsentry
//
// Against an external NATS cluster:
//
//	export NATS_EMBEDDED=false
//	export NATS_URL=nats://nats.internal:4222
//	./cloudsentry
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/talosops/cloudsentry/internal/alerting"
	"github.com/talosops/cloudsentry/internal/api"
	"github.com/talosops/cloudsentry/internal/config"
	"github.com/talosops/cloudsentry/internal/correlate"
	"github.com/talosops/cloudsentry/internal/ingest"
	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/model"
	"github.com/talosops/cloudsentry/internal/pipeline"
	"github.com/talosops/cloudsentry/internal/queue"
	"github.com/talosops/cloudsentry/internal/store"
	"github.com/talosops/cloudsentry/internal/supervisor"
	"github.com/talosops/cloudsentry/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("nats_embedded", cfg.NATS.Embedded).
		Int("ingest_port", cfg.Ingest.Port).
		Int("query_port", cfg.Query.Port).
		Msg("Starting CloudSentry")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("CloudSentry exited with error")
	}
	logging.Info().Msg("CloudSentry stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventStore, err := store.OpenBadger(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer func() {
		if err := eventStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()

	// The broker starts before the tree: the queue, sink, and worker all
	// need a live connection during wiring.
	natsURL := cfg.NATS.URL
	var embedded *queue.EmbeddedServer
	if cfg.NATS.Embedded {
		embedded, err = queue.NewEmbeddedServer(queue.EmbeddedServerConfig{
			Host:              cfg.NATS.Host,
			Port:              cfg.NATS.Port,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		})
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("cloudsentry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	defer nc.Close()

	queueCfg := queue.DefaultJetStreamConfig()
	queueCfg.AckWait = cfg.NATS.AckWait
	queueCfg.MaxAge = cfg.NATS.MaxAge
	queueCfg.MaxDeliver = cfg.NATS.MaxDeliver
	workQueue, err := queue.NewJetStreamQueue(ctx, nc, queueCfg)
	if err != nil {
		return fmt.Errorf("set up work queue: %w", err)
	}

	dispatcher := alerting.NewDispatcher(alerting.NewNATSSink(nc))

	processor := pipeline.New(pipeline.Config{
		BatchSize:         cfg.Pipeline.BatchSize,
		PollInterval:      cfg.Pipeline.PollInterval(),
		CorrelationWindow: cfg.Pipeline.Window(),
		Thresholds: alerting.Thresholds{
			Severity:  model.ParseSeverity(cfg.Alerting.ThresholdSeverity),
			RiskScore: cfg.Alerting.ThresholdRiskScore,
		},
	}, eventStore, workQueue, correlate.NewEngine(), dispatcher)

	worker := ingest.NewWorkerWithBuffer(eventStore, workQueue, cfg.Ingest.WorkerBuffer)

	ingestServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Ingest.Host, cfg.Ingest.Port),
		Handler:           ingest.Router(ingest.NewHandler(worker)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	queryServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Query.Host, cfg.Query.Port),
		Handler:           api.Router(api.NewHandler(eventStore, processor, workQueue)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(&storeGCService{store: eventStore, interval: cfg.Store.GCInterval})
	if embedded != nil {
		tree.AddMessagingService(services.NewBrokerService(embedded, 10*time.Second))
	}
	tree.AddMessagingService(worker)
	tree.AddMessagingService(processor)
	tree.AddAPIService(services.NewHTTPServerService("ingest-http", ingestServer, 10*time.Second))
	tree.AddAPIService(services.NewHTTPServerService("query-http", queryServer, 10*time.Second))

	logging.Info().Msg("Supervision tree starting")
	err = tree.Serve(ctx)

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service missed shutdown timeout")
		}
	}
	return err
}

// storeGCService runs Badger value-log garbage collection under the data
// layer supervisor.
type storeGCService struct {
	store    *store.BadgerStore
	interval time.Duration
}

func (s *storeGCService) Serve(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return s.store.RunGC(ctx, interval)
}

func (s *storeGCService) String() string {
	return "store-gc"
}
