// Package handler exposes the read API over committed telemetry.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/storage"
)

// Handler serves queries against the storage tier. It reads only what the
// persistence worker has committed: data visibility lags admission by design.
type Handler struct {
	repo   storage.Repository
	logger *logrus.Logger
}

// NewHandler returns the read API handler.
func NewHandler(repo storage.Repository, logger *logrus.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

type readingResponse struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	IngestID     string    `json:"ingest_id"`
	ReadingValue float64   `json:"reading_value"`
	ReadingType  string    `json:"reading_type"`
	Unit         string    `json:"unit"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
	RawData      string    `json:"raw_data,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	StoredAt     time.Time `json:"stored_at"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func toResponse(r *storage.Reading) readingResponse {
	return readingResponse{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		IngestID:     r.IngestID.String(),
		ReadingValue: r.ReadingValue,
		ReadingType:  r.ReadingType,
		Unit:         r.Unit,
		BatteryLevel: r.BatteryLevel,
		RawData:      r.RawData,
		SubmittedAt:  r.SubmittedAt,
		StoredAt:     r.StoredAt,
	}
}

// ListReadings handles GET /telemetry with optional device_id, limit, offset.
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt32(r, "limit", 100)
	if limit < 1 || limit > 100 {
		limit = 100
	}
	offset := queryInt32(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	rows, err := h.repo.List(r.Context(), r.URL.Query().Get("device_id"), limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("list readings failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "error retrieving readings"})
		return
	}
	out := make([]readingResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toResponse(row))
	}
	writeJSON(w, http.StatusOK, out)
}

// LatestReading handles GET /telemetry/latest?device_id=...&unit=...
func (h *Handler) LatestReading(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "device_id is required"})
		return
	}

	row, err := h.repo.Latest(r.Context(), deviceID, r.URL.Query().Get("unit"))
	if err != nil {
		h.logger.WithError(err).Error("latest reading failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "error retrieving latest reading"})
		return
	}
	if row == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "no data found for device " + deviceID})
		return
	}
	writeJSON(w, http.StatusOK, toResponse(row))
}

// Devices handles GET /devices.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.repo.Devices(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("list devices failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "error retrieving devices"})
		return
	}
	if devices == nil {
		devices = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"device_ids": devices})
}

// RollingAverage handles GET /telemetry/{device_id}/rolling-average?window=N.
func (h *Handler) RollingAverage(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	window := queryInt32(r, "window", 5)
	if window < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "window must be positive"})
		return
	}

	avg, ok, err := h.repo.RollingAverage(r.Context(), deviceID, window)
	if err != nil {
		h.logger.WithError(err).Error("rolling average failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "error calculating rolling average"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "no data found for device " + deviceID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":       deviceID,
		"rolling_average": avg,
		"window_size":     window,
	})
}

func queryInt32(r *http.Request, name string, def int32) int32 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
