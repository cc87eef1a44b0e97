// Package handler exposes the admission service over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/ingest"
	"iot-stream-engine/internal/ingest/domain"
	"iot-stream-engine/internal/metrics"
	"iot-stream-engine/internal/ratelimit"
)

// Handler serves the admission API.
type Handler struct {
	service *ingest.Service
	logger  *logrus.Logger
}

// NewHandler returns the admission HTTP handler.
func NewHandler(service *ingest.Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type acceptedResponse struct {
	IngestID string `json:"ingest_id"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// SubmitEvent handles POST /events. Status codes distinguish the admission
// outcomes: 202 accepted, 400 invalid, 429 over budget, 503 transient
// infrastructure failure (retryable, unlike 429).
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.SubmissionsInvalid.Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "malformed JSON body"})
		return
	}

	res, err := h.service.Submit(r.Context(), req)
	switch {
	case err == nil:
		metrics.SubmissionsAccepted.Inc()
		writeJSON(w, http.StatusAccepted, acceptedResponse{IngestID: res.IngestID.String()})
	case errors.Is(err, domain.ErrInvalid):
		metrics.SubmissionsInvalid.Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
	case errors.Is(err, ingest.ErrRateLimited):
		metrics.SubmissionsRateLimited.Inc()
		if res.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)+1))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Detail: "rate limit exceeded for device"})
	case errors.Is(err, ratelimit.ErrBackendUnavailable), errors.Is(err, eventlog.ErrUnavailable):
		metrics.SubmissionsUnavailable.Inc()
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "service temporarily unavailable, retry later"})
	default:
		h.logger.WithError(err).Error("unexpected admission failure")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
