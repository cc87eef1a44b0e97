// Package domain defines the telemetry event accepted at the admission
// boundary and carried through the event log to storage.
package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ingestNamespace is the UUIDv5 namespace for synthesized ingest IDs.
var ingestNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

const maxDeviceIDLen = 50

// ErrInvalid wraps all validation failures so callers can branch on the
// class without matching message text.
var ErrInvalid = errors.New("invalid telemetry event")

// TelemetryEvent is one device submission. Immutable once created: the same
// JSON travels from the admission response through the log to the worker.
//
// IngestID is unique per device and is the dedup key: a storage commit of an
// already-present (DeviceID, IngestID) pair is a no-op.
type TelemetryEvent struct {
	DeviceID     string    `json:"device_id"`
	IngestID     uuid.UUID `json:"ingest_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	ReadingValue float64   `json:"reading_value"`
	ReadingType  string    `json:"reading_type"`
	Unit         string    `json:"unit"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
	RawData      string    `json:"raw_data,omitempty"`
}

// Validate checks the event shape. All failures wrap ErrInvalid.
func (e *TelemetryEvent) Validate() error {
	if e.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalid)
	}
	if len(e.DeviceID) > maxDeviceIDLen {
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrInvalid, maxDeviceIDLen)
	}
	if e.ReadingType == "" {
		return fmt.Errorf("%w: reading_type is required", ErrInvalid)
	}
	if e.Unit == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalid)
	}
	if e.BatteryLevel != nil && (*e.BatteryLevel < 0 || *e.BatteryLevel > 100) {
		return fmt.Errorf("%w: battery_level must be between 0 and 100", ErrInvalid)
	}
	if e.SubmittedAt.IsZero() {
		return fmt.Errorf("%w: submitted_at is required", ErrInvalid)
	}
	return nil
}

// SynthesizeIngestID derives a deterministic ingest ID from the event's
// identity (device, submission time, payload digest), so a client that
// retries the same submission without an ingest ID produces the same ID and
// stays idempotent at the admission boundary.
func (e *TelemetryEvent) SynthesizeIngestID() uuid.UUID {
	h := sha256.New()
	h.Write([]byte(e.DeviceID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.SubmittedAt.UnixNano()))
	h.Write(ts[:])
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(int64(e.ReadingValue*1e6)))
	h.Write(val[:])
	h.Write([]byte(e.ReadingType))
	h.Write([]byte(e.Unit))
	h.Write([]byte(e.RawData))
	return uuid.NewSHA1(ingestNamespace, h.Sum(nil))
}
