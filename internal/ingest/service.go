// Package ingest implements the admission path: validate a submission,
// charge it against the device's rate budget, and hand it to the event log.
// Acceptance returns as soon as the append is durably acknowledged; the
// storage commit happens later in the persistence worker, so admission
// latency is independent of storage load.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/ingest/domain"
	"iot-stream-engine/internal/ratelimit"
)

// ErrRateLimited is a policy rejection: the device is over its window budget.
// Distinct from infrastructure failures so callers can tell "slow down" from
// "try again".
var ErrRateLimited = errors.New("ingest: rate limit exceeded")

// limiterTimeout bounds the rate-limiter call so a slow backend cannot add
// unbounded tail latency to admission.
const limiterTimeout = 2 * time.Second

// Request is one telemetry submission as received from a device gateway.
// IngestID is optional; when absent one is synthesized deterministically so
// client retries stay idempotent.
type Request struct {
	DeviceID     string    `json:"device_id"`
	IngestID     string    `json:"ingest_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
	ReadingValue float64   `json:"reading_value"`
	ReadingType  string    `json:"reading_type"`
	Unit         string    `json:"unit"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
	RawData      string    `json:"raw_data,omitempty"`
}

// Result reports an accepted submission.
type Result struct {
	IngestID   uuid.UUID
	Remaining  int
	RetryAfter time.Duration
}

// Service is the ingress admission service.
type Service struct {
	limiter ratelimit.Limiter
	log     eventlog.Appender
	logger  *logrus.Logger
	nowF    func() time.Time
}

// NewService wires the admission path. All dependencies are required.
func NewService(limiter ratelimit.Limiter, log eventlog.Appender, logger *logrus.Logger) (*Service, error) {
	if limiter == nil || log == nil || logger == nil {
		return nil, fmt.Errorf("ingest: limiter, event log, and logger are required")
	}
	return &Service{limiter: limiter, log: log, nowF: time.Now, logger: logger}, nil
}

// Submit runs the synchronous admission decision: validate, derive the ingest
// ID, charge the rate budget, append to the event log. It never touches
// storage. Error classes:
//
//   - domain.ErrInvalid: malformed submission, not retryable
//   - ErrRateLimited: over budget, Result.RetryAfter says when the window resets
//   - ratelimit.ErrBackendUnavailable: limiter unreachable under fail-closed policy
//   - eventlog.ErrUnavailable: append failed; the event was not accepted
//
// Once the append is acknowledged the event is committed to being processed,
// even if the caller has disconnected by then.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	event := &domain.TelemetryEvent{
		DeviceID:     req.DeviceID,
		SubmittedAt:  req.SubmittedAt,
		ReadingValue: req.ReadingValue,
		ReadingType:  req.ReadingType,
		Unit:         req.Unit,
		BatteryLevel: req.BatteryLevel,
		RawData:      req.RawData,
	}
	if event.SubmittedAt.IsZero() {
		event.SubmittedAt = s.nowF().UTC()
	}
	if err := event.Validate(); err != nil {
		return Result{}, err
	}

	if req.IngestID != "" {
		id, err := uuid.Parse(req.IngestID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: ingest_id is not a valid UUID", domain.ErrInvalid)
		}
		event.IngestID = id
	} else {
		event.IngestID = event.SynthesizeIngestID()
	}

	limitCtx, cancel := context.WithTimeout(ctx, limiterTimeout)
	decision, err := s.limiter.Allow(limitCtx, event.DeviceID)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("device_id", event.DeviceID).
			Warn("rate limiter unavailable, rejecting submission")
		return Result{}, err
	}
	if !decision.Allowed {
		return Result{RetryAfter: decision.RetryAfter}, ErrRateLimited
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode event: %v", eventlog.ErrUnavailable, err)
	}
	if err := s.log.Append(ctx, event.DeviceID, payload); err != nil {
		s.logger.WithError(err).WithField("device_id", event.DeviceID).
			Warn("event log append failed")
		if !errors.Is(err, eventlog.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", eventlog.ErrUnavailable, err)
		}
		return Result{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"device_id": event.DeviceID,
		"ingest_id": event.IngestID,
	}).Debug("submission accepted")
	return Result{IngestID: event.IngestID, Remaining: decision.Remaining}, nil
}
