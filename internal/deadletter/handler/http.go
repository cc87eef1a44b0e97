// Package handler exposes the dead-letter admin surface: inspect quarantined
// records and replay them through the event log.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/deadletter"
	"iot-stream-engine/internal/eventlog"
)

// Handler serves dead-letter queries and replays.
type Handler struct {
	store  deadletter.Store
	log    eventlog.Appender
	logger *logrus.Logger
}

// NewHandler returns the dead-letter admin handler.
func NewHandler(store deadletter.Store, log eventlog.Appender, logger *logrus.Logger) *Handler {
	return &Handler{store: store, log: log, logger: logger}
}

type entryResponse struct {
	ID             int64      `json:"id"`
	DeviceID       string     `json:"device_id"`
	IngestID       string     `json:"ingest_id,omitempty"`
	Payload        string     `json:"payload"`
	FailureReason  string     `json:"failure_reason"`
	AttemptCount   int        `json:"attempt_count"`
	Partition      int        `json:"partition"`
	Offset         int64      `json:"offset"`
	DeadLetteredAt time.Time  `json:"dead_lettered_at"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func toResponse(e *deadletter.Entry) entryResponse {
	out := entryResponse{
		ID:             e.ID,
		DeviceID:       e.DeviceID,
		Payload:        string(e.Payload),
		FailureReason:  e.FailureReason,
		AttemptCount:   e.AttemptCount,
		Partition:      e.Partition,
		Offset:         e.Offset,
		DeadLetteredAt: e.DeadLetteredAt,
		ReplayedAt:     e.ReplayedAt,
	}
	if e.IngestID != nil {
		out.IngestID = e.IngestID.String()
	}
	return out
}

// List handles GET /deadletters?device_id=&from=&to=&limit=.
// from/to are RFC 3339 timestamps.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := deadletter.Query{DeviceID: r.URL.Query().Get("device_id")}

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "from must be RFC 3339"})
			return
		}
		q.From = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "to must be RFC 3339"})
			return
		}
		q.To = t
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "limit must be a positive integer"})
			return
		}
		q.Limit = int32(n)
	}

	entries, err := h.store.List(r.Context(), q)
	if err != nil {
		h.logger.WithError(err).Error("dead-letter list failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "error retrieving dead letters"})
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// Replay handles POST /deadletters/{id}/replay: the quarantined payload is
// appended back to the event log for another pass through the worker. The
// entry is stamped, never deleted.
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "id must be an integer"})
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("dead-letter get failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "error retrieving dead letter"})
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "dead letter not found"})
		return
	}

	if err := h.log.Append(r.Context(), entry.DeviceID, entry.Payload); err != nil {
		h.logger.WithError(err).Error("dead-letter replay append failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "event log unavailable, retry later"})
		return
	}
	if err := h.store.MarkReplayed(r.Context(), id); err != nil {
		h.logger.WithError(err).Warn("replayed but could not stamp entry")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "replayed"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
