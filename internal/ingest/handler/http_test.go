package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/ingest"
	"iot-stream-engine/internal/ratelimit"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestHandler(t *testing.T, limit int) (*Handler, *eventlog.MemoryLog) {
	t.Helper()
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Policy{Limit: limit, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	log := eventlog.NewMemoryLog(4)
	service, err := ingest.NewService(limiter, log, testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewHandler(service, testLogger()), log
}

func postEvent(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.SubmitEvent(w, req)
	return w
}

const validBody = `{"device_id":"sensor-1","reading_value":21.5,"reading_type":"temperature","unit":"celsius","submitted_at":"2026-08-29T10:00:00Z"}`

func TestSubmitEvent_Accepted(t *testing.T) {
	h, log := newTestHandler(t, 10)

	w := postEvent(h, validBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp struct {
		IngestID string `json:"ingest_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := uuid.Parse(resp.IngestID); err != nil {
		t.Errorf("ingest_id %q is not a valid UUID: %v", resp.IngestID, err)
	}

	p := log.PartitionFor("sensor-1")
	if got := len(log.Records(p)); got != 1 {
		t.Errorf("log records = %d, want 1", got)
	}
}

func TestSubmitEvent_MalformedJSON(t *testing.T) {
	h, _ := newTestHandler(t, 10)

	w := postEvent(h, `{"device_id":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSubmitEvent_ValidationFailure(t *testing.T) {
	h, log := newTestHandler(t, 10)

	w := postEvent(h, `{"device_id":"","reading_value":1,"reading_type":"temperature","unit":"celsius"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Detail == "" {
		t.Error("error response should carry a detail message")
	}
	for p := 0; p < 4; p++ {
		if len(log.Records(p)) != 0 {
			t.Fatal("invalid submission must not reach the log")
		}
	}
}

func TestSubmitEvent_RateLimited(t *testing.T) {
	h, _ := newTestHandler(t, 2)

	for i := 0; i < 2; i++ {
		if w := postEvent(h, validBody); w.Code != http.StatusAccepted {
			t.Fatalf("submission %d: status = %d, want %d", i+1, w.Code, http.StatusAccepted)
		}
	}

	w := postEvent(h, validBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry a Retry-After header")
	}
}

type downAppender struct{}

func (downAppender) Append(ctx context.Context, deviceID string, payload []byte) error {
	return eventlog.ErrUnavailable
}
func (downAppender) Close() error { return nil }

func TestSubmitEvent_LogUnavailable(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Policy{Limit: 10, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	service, err := ingest.NewService(limiter, downAppender{}, testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h := NewHandler(service, testLogger())

	w := postEvent(h, validBody)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

type downLimiter struct{}

func (downLimiter) Allow(ctx context.Context, deviceID string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, ratelimit.ErrBackendUnavailable
}

func TestSubmitEvent_LimiterUnavailable(t *testing.T) {
	log := eventlog.NewMemoryLog(4)
	service, err := ingest.NewService(downLimiter{}, log, testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h := NewHandler(service, testLogger())

	w := postEvent(h, validBody)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
