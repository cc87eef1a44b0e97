package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"iot-stream-engine/internal/ingest/domain"
)

type readingKey struct {
	deviceID string
	ingestID uuid.UUID
}

// MemoryRepository is an in-memory Repository with the same idempotent commit
// semantics as the Postgres implementation. Used by tests and local runs
// without a database.
type MemoryRepository struct {
	mu     sync.Mutex
	rows   []*Reading
	byKey  map[readingKey]*Reading
	nextID int64
	nowF   func() time.Time
}

// NewMemoryRepository returns a new in-memory telemetry repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey:  make(map[readingKey]*Reading),
		nextID: 1,
		nowF:   time.Now,
	}
}

// Save commits the event; a duplicate (device_id, ingest_id) is a no-op.
func (r *MemoryRepository) Save(ctx context.Context, e *domain.TelemetryEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := readingKey{deviceID: e.DeviceID, ingestID: e.IngestID}
	if _, ok := r.byKey[key]; ok {
		return false, nil
	}

	reading := &Reading{
		ID:           r.nextID,
		DeviceID:     e.DeviceID,
		IngestID:     e.IngestID,
		ReadingValue: e.ReadingValue,
		ReadingType:  e.ReadingType,
		Unit:         e.Unit,
		BatteryLevel: e.BatteryLevel,
		RawData:      e.RawData,
		SubmittedAt:  e.SubmittedAt,
		StoredAt:     r.nowF(),
	}
	r.nextID++
	r.rows = append(r.rows, reading)
	r.byKey[key] = reading
	return true, nil
}

// newestFirst returns the device-filtered rows sorted newest first.
func (r *MemoryRepository) newestFirst(deviceID string) []*Reading {
	var out []*Reading
	for _, row := range r.rows {
		if deviceID == "" || row.DeviceID == deviceID {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// List returns readings newest first, optionally filtered by device.
func (r *MemoryRepository) List(ctx context.Context, deviceID string, limit, offset int32) ([]*Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.newestFirst(deviceID)
	if int(offset) >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if int(limit) < len(rows) {
		rows = rows[:limit]
	}
	out := make([]*Reading, len(rows))
	copy(out, rows)
	return out, nil
}

// Latest returns the most recent reading for a device, or nil if none exists.
func (r *MemoryRepository) Latest(ctx context.Context, deviceID, unit string) (*Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.newestFirst(deviceID) {
		if unit == "" || row.Unit == unit {
			return row, nil
		}
	}
	return nil, nil
}

// Devices returns the distinct device IDs present in storage.
func (r *MemoryRepository) Devices(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, row := range r.rows {
		if !seen[row.DeviceID] {
			seen[row.DeviceID] = true
			out = append(out, row.DeviceID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RollingAverage averages the device's most recent window readings.
func (r *MemoryRepository) RollingAverage(ctx context.Context, deviceID string, window int32) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.newestFirst(deviceID)
	if len(rows) == 0 {
		return 0, false, nil
	}
	if int(window) < len(rows) {
		rows = rows[:window]
	}
	sum := 0.0
	for _, row := range rows {
		sum += row.ReadingValue
	}
	return sum / float64(len(rows)), true, nil
}

// Count returns the number of stored rows, for test assertions.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
