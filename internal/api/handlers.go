// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/model"
	"github.com/talosops/cloudsentry/internal/pipeline"
	"github.com/talosops/cloudsentry/internal/store"
)

// Query limits.
const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves the read-only query surface.
type Handler struct {
	store     store.EventStore
	processor *pipeline.Processor
	queue     HealthChecker
}

// NewHandler creates a query handler. processor and queue may be nil when
// the process runs without them; the affected endpoints degrade gracefully.
func NewHandler(st store.EventStore, processor *pipeline.Processor, q HealthChecker) *Handler {
	return &Handler{store: st, processor: processor, queue: q}
}

// Events handles GET /events with query-string filters.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := filterFromQuery(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	h.scanAndRespond(rw, r, filter)
}

// EventByID handles GET /events/{id}.
func (h *Handler) EventByID(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	event, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrEventNotFound) {
		rw.NotFound("event not found: " + id)
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(event)
}

// SearchEvents handles POST /events/search with a JSON filter body.
func (h *Handler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var filter model.EventFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		rw.BadRequest("invalid filter body: " + err.Error())
		return
	}
	h.scanAndRespond(rw, r, &filter)
}

// EventStats handles GET /events/stats.
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(stats)
}

// ProcessorStats handles GET /stats.
func (h *Handler) ProcessorStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.processor == nil {
		rw.ServiceUnavailable("processor not running in this instance")
		return
	}
	rw.Success(h.processor.Stats())
}

// Health handles GET /health: store plus queue.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	checks := map[string]string{}
	healthy := true

	if err := h.store.Health(r.Context()); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	if h.queue != nil {
		if err := h.queue.Health(r.Context()); err != nil {
			checks["queue"] = err.Error()
			healthy = false
		} else {
			checks["queue"] = "ok"
		}
	}

	body := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	if !healthy {
		body["status"] = "unhealthy"
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Data: body})
		return
	}
	rw.Success(body)
}

// HealthLive handles GET /health/live: process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /health/ready: dependencies are reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.store.Health(r.Context()); err != nil {
		rw.ServiceUnavailable("store not ready")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

func (h *Handler) scanAndRespond(rw *ResponseWriter, r *http.Request, filter *model.EventFilter) {
	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}

	// Fetch one extra to detect whether more pages exist.
	probe := *filter
	probe.Limit = filter.Limit + 1
	events, err := h.store.Scan(r.Context(), &probe)
	if err != nil {
		rw.StorageError(err)
		return
	}

	hasMore := len(events) > filter.Limit
	if hasMore {
		events = events[:filter.Limit]
	}

	rw.SuccessWithPagination(map[string]any{"events": events}, &PaginationMeta{
		Count:   len(events),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: hasMore,
	})
}

// filterFromQuery builds an EventFilter from GET query parameters.
func filterFromQuery(r *http.Request) (*model.EventFilter, error) {
	q := r.URL.Query()
	filter := &model.EventFilter{}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("invalid limit: " + v)
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("invalid offset: " + v)
		}
		filter.Offset = n
	}
	for _, v := range splitParam(q.Get("severity")) {
		filter.Severities = append(filter.Severities, model.ParseSeverity(v))
	}
	for _, v := range splitParam(q.Get("source")) {
		filter.Sources = append(filter.Sources, model.ParseSource(v))
	}
	filter.EventTypes = splitParam(q.Get("event_type"))

	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("invalid start_time: " + v)
		}
		filter.Start = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("invalid end_time: " + v)
		}
		filter.End = &t
	}
	return filter, nil
}

func splitParam(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
