// CloudSentry - Cloud Security Event Aggregation and Correlation
// Copyright 2026 TalosOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/talosops/cloudsentry

// Package ingest accepts raw vendor records over HTTP, normalizes them,
// and hands them to a background worker for store-and-publish.
//
// A request returns accepted once every record in the batch is normalized
// and enqueued for persistence; durability is asynchronous with the
// response. Malformed records are logged and dropped, never failing the
// batch.
package ingest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/talosops/cloudsentry/internal/api"
	"github.com/talosops/cloudsentry/internal/logging"
	"github.com/talosops/cloudsentry/internal/metrics"
	"github.com/talosops/cloudsentry/internal/normalize"
)

// maxBodyBytes guards against unbounded request bodies. Batch length is
// capped by request validation.
const maxBodyBytes = 16 << 20 // 16MiB

// cloudAuditRequest is the body for POST /ingest/cloudaudit.
type cloudAuditRequest struct {
	Events []json.RawMessage `json:"events" validate:"required,min=1,max=1000"`
}

// threatDetectorRequest is the body for POST /ingest/threatdetector.
type threatDetectorRequest struct {
	Findings []json.RawMessage `json:"findings" validate:"required,min=1,max=1000"`
}

// customRequest is the body for POST /ingest/custom.
type customRequest struct {
	Events []json.RawMessage `json:"events" validate:"required,min=1,max=1000"`
}

// Response is the ingest endpoint reply.
type Response struct {
	Status          string   `json:"status"`
	EventsReceived  int      `json:"events_received"`
	EventsProcessed int      `json:"events_processed"`
	EventIDs        []string `json:"event_ids"`
}

// Handler serves the ingest endpoints.
type Handler struct {
	cloudAudit     normalize.Normalizer
	threatDetector normalize.Normalizer
	custom         normalize.Normalizer
	worker         *Worker
	validate       *validator.Validate
}

// NewHandler creates an ingest handler backed by the worker.
func NewHandler(worker *Worker) *Handler {
	return &Handler{
		cloudAudit:     normalize.NewCloudAuditNormalizer(),
		threatDetector: normalize.NewThreatDetectorNormalizer(),
		custom:         normalize.NewCustomNormalizer(),
		worker:         worker,
		validate:       validator.New(),
	}
}

// IngestCloudAudit handles POST /ingest/cloudaudit.
func (h *Handler) IngestCloudAudit(w http.ResponseWriter, r *http.Request) {
	rw := api.NewResponseWriter(w, r)

	var req cloudAuditRequest
	if !h.decode(rw, r, &req) {
		return
	}
	rw.Accepted(h.ingestBatch(req.Events, h.cloudAudit, "cloudaudit"))
}

// IngestThreatDetector handles POST /ingest/threatdetector.
func (h *Handler) IngestThreatDetector(w http.ResponseWriter, r *http.Request) {
	rw := api.NewResponseWriter(w, r)

	var req threatDetectorRequest
	if !h.decode(rw, r, &req) {
		return
	}
	rw.Accepted(h.ingestBatch(req.Findings, h.threatDetector, "threatdetector"))
}

// IngestCustom handles POST /ingest/custom.
func (h *Handler) IngestCustom(w http.ResponseWriter, r *http.Request) {
	rw := api.NewResponseWriter(w, r)

	var req customRequest
	if !h.decode(rw, r, &req) {
		return
	}
	rw.Accepted(h.ingestBatch(req.Events, h.custom, "custom"))
}

// decode reads, parses, and validates the request body. Returns false when
// a response has already been written.
func (h *Handler) decode(rw *api.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		rw.ValidationError("request validation failed", err.Error())
		return false
	}
	return true
}

// ingestBatch normalizes each record and enqueues the survivors for
// background store-and-publish.
func (h *Handler) ingestBatch(records []json.RawMessage, n normalize.Normalizer, source string) Response {
	resp := Response{
		Status:         "accepted",
		EventsReceived: len(records),
		EventIDs:       []string{},
	}

	for _, raw := range records {
		event, err := n.Normalize(raw)
		if err != nil {
			metrics.RecordsDropped.WithLabelValues(source).Inc()
			logging.Warn().
				Err(err).
				Str("source", source).
				Msg("Dropping malformed record")
			continue
		}
		h.worker.Enqueue(event)
		metrics.EventsIngested.WithLabelValues(source).Inc()
		resp.EventIDs = append(resp.EventIDs, event.EventID)
		resp.EventsProcessed++
	}

	logging.Info().
		Str("source", source).
		Int("received", resp.EventsReceived).
		Int("processed", resp.EventsProcessed).
		Msg("Ingested batch")
	return resp
}

// Router assembles the ingest surface.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(api.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(600, time.Minute))

	r.Post("/ingest/cloudaudit", h.IngestCloudAudit)
	r.Post("/ingest/threatdetector", h.IngestThreatDetector)
	r.Post("/ingest/custom", h.IngestCustom)

	return r
}
