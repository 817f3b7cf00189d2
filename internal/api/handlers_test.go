// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/model"
	"github.com/talosops/cloudsentry/internal/store"
)

// memStore is an in-memory EventStore for handler tests.
type memStore struct {
	events     map[string]*model.CanonicalEvent
	failHealth bool
}

func newMemStore(events ...*model.CanonicalEvent) *memStore {
	s := &memStore{events: make(map[string]*model.CanonicalEvent)}
	for _, e := range events {
		s.events[e.EventID] = e
	}
	return s
}

func (s *memStore) Put(ctx context.Context, event *model.CanonicalEvent) error {
	s.events[event.EventID] = event
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*model.CanonicalEvent, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	return e, nil
}

func (s *memStore) Scan(ctx context.Context, filter *model.EventFilter) ([]*model.CanonicalEvent, error) {
	var out []*model.CanonicalEvent
	for _, e := range s.events {
		if filter == nil || filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EventTime.After(out[j].EventTime)
	})
	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return nil, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, id string, patch store.UpdatePatch) error {
	return nil
}

func (s *memStore) Stats(ctx context.Context) (*store.EventStats, error) {
	return &store.EventStats{
		TotalEvents: len(s.events),
		BySeverity:  map[string]int{"high": len(s.events)},
		BySource:    map[string]int{},
		ByCategory:  map[string]int{},
	}, nil
}

func (s *memStore) Health(ctx context.Context) error {
	if s.failHealth {
		return errors.New("store down")
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func apiEvent(id string, offset time.Duration, severity model.Severity, source model.Source) *model.CanonicalEvent {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.CanonicalEvent{
		EventID:   id,
		Source:    source,
		EventTime: base.Add(offset),
		EventType: "ConsoleLogin",
		Severity:  severity,
		Status:    model.StatusNew,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, resp
}

func testRouter(s store.EventStore) http.Handler {
	return Router(NewHandler(s, nil, nil))
}

func TestEventsList(t *testing.T) {
	s := newMemStore(
		apiEvent("e1", 0, model.SeverityHigh, model.SourceCloudAudit),
		apiEvent("e2", time.Minute, model.SeverityLow, model.SourceThreatDetector),
		apiEvent("e3", 2*time.Minute, model.SeverityHigh, model.SourceCloudAudit),
	)
	router := testRouter(s)

	rec, resp := doRequest(t, router, http.MethodGet, "/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !resp.Success {
		t.Fatalf("success = false: %+v", resp.Error)
	}
	if resp.Meta == nil || resp.Meta.Pagination == nil {
		t.Fatal("missing pagination meta")
	}
	if resp.Meta.Pagination.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Meta.Pagination.Count)
	}
	if resp.Meta.Pagination.HasMore {
		t.Error("has_more = true for a complete page")
	}
}

func TestEventsSeverityFilter(t *testing.T) {
	s := newMemStore(
		apiEvent("e1", 0, model.SeverityHigh, model.SourceCloudAudit),
		apiEvent("e2", time.Minute, model.SeverityLow, model.SourceCloudAudit),
	)

	_, resp := doRequest(t, testRouter(s), http.MethodGet, "/events?severity=high", "")
	if resp.Meta.Pagination.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Meta.Pagination.Count)
	}
}

func TestEventsPagination(t *testing.T) {
	s := newMemStore(
		apiEvent("e1", 0, model.SeverityHigh, model.SourceCloudAudit),
		apiEvent("e2", time.Minute, model.SeverityHigh, model.SourceCloudAudit),
		apiEvent("e3", 2*time.Minute, model.SeverityHigh, model.SourceCloudAudit),
	)

	_, resp := doRequest(t, testRouter(s), http.MethodGet, "/events?limit=2", "")
	if resp.Meta.Pagination.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Meta.Pagination.Count)
	}
	if !resp.Meta.Pagination.HasMore {
		t.Error("has_more = false with a third event pending")
	}
}

func TestEventsBadLimit(t *testing.T) {
	rec, resp := doRequest(t, testRouter(newMemStore()), http.MethodGet, "/events?limit=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestEventByID(t *testing.T) {
	s := newMemStore(apiEvent("e1", 0, model.SeverityHigh, model.SourceCloudAudit))
	router := testRouter(s)

	rec, resp := doRequest(t, router, http.MethodGet, "/events/e1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, _ := json.Marshal(resp.Data)
	var event model.CanonicalEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.EventID != "e1" {
		t.Errorf("event_id = %q", event.EventID)
	}

	rec, resp = doRequest(t, router, http.MethodGet, "/events/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestSearchEvents(t *testing.T) {
	s := newMemStore(
		apiEvent("e1", 0, model.SeverityHigh, model.SourceCloudAudit),
		apiEvent("e2", time.Minute, model.SeverityLow, model.SourceThreatDetector),
	)

	body := `{"sources":["threatdetector"]}`
	rec, resp := doRequest(t, testRouter(s), http.MethodPost, "/events/search", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Meta.Pagination.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Meta.Pagination.Count)
	}

	rec, _ = doRequest(t, testRouter(s), http.MethodPost, "/events/search", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed body", rec.Code)
	}
}

func TestEventStatsEndpoint(t *testing.T) {
	s := newMemStore(apiEvent("e1", 0, model.SeverityHigh, model.SourceCloudAudit))

	rec, resp := doRequest(t, testRouter(s), http.MethodGet, "/events/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, _ := json.Marshal(resp.Data)
	var stats store.EventStats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEvents != 1 {
		t.Errorf("total_events = %d", stats.TotalEvents)
	}
}

func TestProcessorStatsUnavailable(t *testing.T) {
	rec, _ := doRequest(t, testRouter(newMemStore()), http.MethodGet, "/stats", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a processor", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := testRouter(newMemStore())

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec, _ := doRequest(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestHealthDegraded(t *testing.T) {
	s := newMemStore()
	s.failHealth = true
	router := testRouter(s)

	rec, _ := doRequest(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	rec, _ = doRequest(t, router, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	router := testRouter(newMemStore())

	rec, _ := doRequest(t, router, http.MethodGet, "/health/live", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID response header")
	}

	// Caller-supplied id is echoed back.
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if got := rec2.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("X-Request-ID = %q, want trace-123", got)
	}
}

func TestFilterFromQueryTimeRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events?start_time=2026-03-01T10:00:00Z&end_time=2026-03-01T11:00:00Z&source=cloudaudit,custom", nil)
	filter, err := filterFromQuery(req)
	if err != nil {
		t.Fatalf("filterFromQuery: %v", err)
	}
	if filter.Start == nil || filter.End == nil {
		t.Fatal("missing time bounds")
	}
	if len(filter.Sources) != 2 {
		t.Errorf("sources = %v", filter.Sources)
	}

	req = httptest.NewRequest(http.MethodGet, "/events?start_time=yesterday", nil)
	if _, err := filterFromQuery(req); err == nil {
		t.Error("expected error for malformed start_time")
	}
}
