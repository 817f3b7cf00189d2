// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package services

import (
	"context"
	"errors"
	"time"
)

// BrokerServer matches the embedded NATS server lifecycle. Satisfied by
// *queue.EmbeddedServer.
type BrokerServer interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// BrokerService supervises an already-started embedded broker: it holds
// it alive, fails fast when the broker dies, and shuts it down on
// cancellation. The broker starts before the tree because the queue and
// alert sink need a connection during wiring.
type BrokerService struct {
	server          BrokerServer
	shutdownTimeout time.Duration
	checkInterval   time.Duration
}

// NewBrokerService wraps a running broker.
func NewBrokerService(server BrokerServer, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		checkInterval:   5 * time.Second,
	}
}

// Serve implements suture.Service. A broker that stops running outside a
// shutdown returns an error so the supervisor surfaces the failure.
func (s *BrokerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return ctx.Err()

		case <-ticker.C:
			if !s.server.IsRunning() {
				return errors.New("embedded NATS server stopped unexpectedly")
			}
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (s *BrokerService) String() string {
	return "embedded-nats"
}
