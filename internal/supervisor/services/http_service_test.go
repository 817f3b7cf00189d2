// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// fakeHTTPServer blocks in ListenAndServe until Shutdown or a scripted
// failure.
type fakeHTTPServer struct {
	listenErr    error
	shutdownErr  error
	shutdownDone atomic.Bool
	release      chan struct{}
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{release: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	f.shutdownDone.Store(true)
	close(f.release)
	return f.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer()
	svc := NewHTTPServerService("query-http", server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !server.shutdownDone.Load() {
		t.Error("Shutdown never called")
	}
}

func TestHTTPServiceListenFailure(t *testing.T) {
	server := newFakeHTTPServer()
	server.listenErr = errors.New("address in use")
	svc := NewHTTPServerService("ingest-http", server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Errorf("Serve = %v, want listen error", err)
	}
}

func TestHTTPServiceName(t *testing.T) {
	svc := NewHTTPServerService("ingest-http", newFakeHTTPServer(), 0)
	if svc.String() != "ingest-http" {
		t.Errorf("String() = %q", svc.String())
	}
}

// fakeBroker scripts IsRunning transitions.
type fakeBroker struct {
	running  atomic.Bool
	shutdown atomic.Bool
}

func (f *fakeBroker) IsRunning() bool { return f.running.Load() }

func (f *fakeBroker) Shutdown(ctx context.Context) error {
	f.shutdown.Store(true)
	return nil
}

func TestBrokerServiceDetectsDeath(t *testing.T) {
	broker := &fakeBroker{}
	broker.running.Store(true)
	svc := NewBrokerService(broker, time.Second)
	svc.checkInterval = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	broker.running.Store(false)

	select {
	case err := <-done:
		if err == nil {
			t.Error("Serve returned nil for a dead broker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not notice broker death")
	}
}

func TestBrokerServiceShutdownOnCancel(t *testing.T) {
	broker := &fakeBroker{}
	broker.running.Store(true)
	svc := NewBrokerService(broker, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !broker.shutdown.Load() {
		t.Error("Shutdown never called")
	}
}
