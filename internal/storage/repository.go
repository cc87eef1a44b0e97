// Package storage persists accepted telemetry. The commit is idempotent:
// rows are keyed by (device_id, ingest_id) with a uniqueness constraint, so
// at-least-once redelivery from the event log is safe to apply repeatedly.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"iot-stream-engine/internal/ingest/domain"
)

// Reading is the durable representation of a committed telemetry event.
type Reading struct {
	ID           int64
	DeviceID     string
	IngestID     uuid.UUID
	ReadingValue float64
	ReadingType  string
	Unit         string
	BatteryLevel *float64
	RawData      string
	SubmittedAt  time.Time
	StoredAt     time.Time
}

// Repository defines persistence for telemetry readings.
type Repository interface {
	// Save commits the event. A duplicate (device_id, ingest_id) pair is a
	// successful no-op: inserted is false and err is nil.
	Save(ctx context.Context, e *domain.TelemetryEvent) (inserted bool, err error)
	// List returns readings newest first, optionally filtered by device.
	List(ctx context.Context, deviceID string, limit, offset int32) ([]*Reading, error)
	// Latest returns the most recent reading for a device, optionally filtered
	// by unit. Returns nil when the device has no readings.
	Latest(ctx context.Context, deviceID, unit string) (*Reading, error)
	// Devices returns the distinct device IDs present in storage.
	Devices(ctx context.Context) ([]string, error)
	// RollingAverage averages the device's most recent window readings.
	// Returns ok false when the device has no readings.
	RollingAverage(ctx context.Context, deviceID string, window int32) (avg float64, ok bool, err error)
}
