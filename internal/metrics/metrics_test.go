// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStoreOperation(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		duration  time.Duration
		err       error
	}{
		{"fast put", "put", time.Millisecond, nil},
		{"slow scan", "scan", 2 * time.Second, nil},
		{"failed update", "update", 10 * time.Millisecond, errors.New("conflict")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(StoreErrors.WithLabelValues(tt.operation))
			RecordStoreOperation(tt.operation, tt.duration, tt.err)
			after := testutil.ToFloat64(StoreErrors.WithLabelValues(tt.operation))

			if tt.err != nil && after != before+1 {
				t.Errorf("error counter = %v, want %v", after, before+1)
			}
			if tt.err == nil && after != before {
				t.Errorf("error counter moved on success: %v -> %v", before, after)
			}
		})
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/events", "200"))
	RecordAPIRequest("GET", "/events", 200, 25*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/events", "200"))

	if after != before+1 {
		t.Errorf("request counter = %v, want %v", after, before+1)
	}
}

func TestCorrelationCounterLabels(t *testing.T) {
	before := testutil.ToFloat64(CorrelationsFound.WithLabelValues("brute_force"))
	CorrelationsFound.WithLabelValues("brute_force").Inc()
	after := testutil.ToFloat64(CorrelationsFound.WithLabelValues("brute_force"))

	if after != before+1 {
		t.Errorf("correlation counter = %v, want %v", after, before+1)
	}
}

func TestRecordTick(t *testing.T) {
	// Histograms have no direct value accessor; just exercise the path.
	RecordTick(10, 50*time.Millisecond)
	RecordTick(0, time.Millisecond)
}
