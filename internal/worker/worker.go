// Package worker consumes the event log and commits accepted telemetry to
// durable storage with at-least-once delivery and idempotent application.
//
// Each worker processes its records strictly sequentially, so per-partition
// (and therefore per-device) order is preserved. The checkpoint advances only
// after a record is committed or dead-lettered, never on a retryable failure:
// a crash in between redelivers the record, and the idempotent commit absorbs
// the redelivery as a no-op.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/deadletter"
	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/ingest/domain"
	"iot-stream-engine/internal/metrics"
	"iot-stream-engine/internal/storage"
)

// Config holds the retry policy for storage commits.
type Config struct {
	// MaxAttempts is the commit budget per record before dead-lettering.
	MaxAttempts int
	// RetryBase is the first retry delay; it doubles per attempt.
	RetryBase time.Duration
	// RetryMax caps the backoff delay.
	RetryMax time.Duration
}

// Worker is one consumer loop of the persistence group.
type Worker struct {
	consumer eventlog.Consumer
	repo     storage.Repository
	sink     deadletter.Sink
	cfg      Config
	backoff  Backoff
	logger   *logrus.Logger
}

// New wires a worker. All dependencies are required.
func New(consumer eventlog.Consumer, repo storage.Repository, sink deadletter.Sink, cfg Config, logger *logrus.Logger) (*Worker, error) {
	if consumer == nil || repo == nil || sink == nil || logger == nil {
		return nil, fmt.Errorf("worker: consumer, repository, sink, and logger are required")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("worker: MaxAttempts must be positive")
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	return &Worker{
		consumer: consumer,
		repo:     repo,
		sink:     sink,
		cfg:      cfg,
		backoff:  Backoff{Base: cfg.RetryBase, Max: cfg.RetryMax},
		logger:   logger,
	}, nil
}

// Run processes records until ctx is cancelled. A failing record never stops
// the loop: it either commits, or lands in the dead-letter sink.
func (w *Worker) Run(ctx context.Context) error {
	for {
		rec, err := w.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.WithError(err).Warn("event log fetch failed")
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}
		if err := w.process(ctx, rec); err != nil {
			// process fails only on cancellation; the record stays
			// uncommitted and is redelivered after restart.
			return err
		}
	}
}

// process drives one record through its attempt state machine and advances
// the checkpoint on a terminal state (committed or dead-lettered).
func (w *Worker) process(ctx context.Context, rec eventlog.Record) error {
	event, decodeErr := decode(rec.Value)
	if decodeErr != nil {
		// The record can never commit; retrying would change nothing.
		if err := w.deadLetter(ctx, rec, nil, decodeErr.Error(), 1); err != nil {
			return err
		}
		return w.commit(ctx, rec)
	}

	for attempt := 1; ; attempt++ {
		inserted, err := w.repo.Save(ctx, event)
		if err == nil {
			if inserted {
				metrics.CommitsTotal.Inc()
			} else {
				metrics.DuplicatesTotal.Inc()
				w.logger.WithFields(logrus.Fields{
					"device_id": event.DeviceID,
					"ingest_id": event.IngestID,
				}).Debug("duplicate delivery absorbed")
			}
			return w.commit(ctx, rec)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt >= w.cfg.MaxAttempts {
			reason := fmt.Sprintf("storage commit failed after %d attempts: %v", attempt, err)
			if dlErr := w.deadLetter(ctx, rec, event, reason, attempt); dlErr != nil {
				return dlErr
			}
			return w.commit(ctx, rec)
		}

		metrics.CommitRetriesTotal.Inc()
		delay := w.backoff.Delay(attempt)
		w.logger.WithError(err).WithFields(logrus.Fields{
			"device_id": event.DeviceID,
			"ingest_id": event.IngestID,
			"attempt":   attempt,
			"retry_in":  delay,
		}).Warn("storage commit failed, retrying")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// decode unmarshals and validates the log payload. An error means the record
// is structurally poisoned.
func decode(payload []byte) (*domain.TelemetryEvent, error) {
	var event domain.TelemetryEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("payload does not decode: %v", err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("payload failed validation: %v", err)
	}
	return &event, nil
}

// deadLetter quarantines the record. The sink write itself is retried until
// it succeeds: the checkpoint must not advance past a record that is neither
// stored nor quarantined.
func (w *Worker) deadLetter(ctx context.Context, rec eventlog.Record, event *domain.TelemetryEvent, reason string, attempts int) error {
	entry := &deadletter.Entry{
		DeviceID:      string(rec.Key),
		Payload:       rec.Value,
		FailureReason: reason,
		AttemptCount:  attempts,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
	}
	if event != nil {
		entry.DeviceID = event.DeviceID
		id := event.IngestID
		entry.IngestID = &id
	}

	for attempt := 1; ; attempt++ {
		err := w.sink.Record(ctx, entry)
		if err == nil {
			metrics.DeadLettersTotal.Inc()
			w.logger.WithFields(logrus.Fields{
				"device_id": entry.DeviceID,
				"partition": rec.Partition,
				"offset":    rec.Offset,
				"reason":    reason,
			}).Error("record dead-lettered")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.WithError(err).Warn("dead-letter write failed, retrying")
		if err := sleep(ctx, w.backoff.Delay(attempt)); err != nil {
			return err
		}
	}
}

// commit advances the consumer checkpoint past rec. A failed offset commit is
// logged and tolerated: the record is redelivered after restart and absorbed
// by the idempotent storage commit.
func (w *Worker) commit(ctx context.Context, rec eventlog.Record) error {
	if err := w.consumer.Commit(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.WithError(err).WithFields(logrus.Fields{
			"partition": rec.Partition,
			"offset":    rec.Offset,
		}).Warn("checkpoint commit failed; record will be redelivered")
	}
	return nil
}
