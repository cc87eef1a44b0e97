package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"iot-stream-engine/internal/ingest/domain"
)

// PostgresRepository implements Repository on the telemetry_readings table.
type PostgresRepository struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresRepository returns a telemetry repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, nowF: time.Now}
}

// Save inserts the event; the unique index on (device_id, ingest_id) turns a
// redelivered event into a no-op instead of a duplicate row.
func (r *PostgresRepository) Save(ctx context.Context, e *domain.TelemetryEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry_readings
			(device_id, ingest_id, reading_value, reading_type, unit, battery_level, raw_data, submitted_at, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_id, ingest_id) DO NOTHING`,
		e.DeviceID, e.IngestID, e.ReadingValue, e.ReadingType, e.Unit,
		nullFloatFromPtr(e.BatteryLevel), nullStringFromEmpty(e.RawData),
		e.SubmittedAt.UTC(), r.nowF().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const readingColumns = `id, device_id, ingest_id, reading_value, reading_type, unit, battery_level, raw_data, submitted_at, stored_at`

// List returns readings newest first, optionally filtered by device.
func (r *PostgresRepository) List(ctx context.Context, deviceID string, limit, offset int32) ([]*Reading, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if deviceID != "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+readingColumns+` FROM telemetry_readings
			WHERE device_id = $1
			ORDER BY submitted_at DESC, id DESC
			LIMIT $2 OFFSET $3`, deviceID, limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+readingColumns+` FROM telemetry_readings
			ORDER BY submitted_at DESC, id DESC
			LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reading)
	}
	return out, rows.Err()
}

// Latest returns the most recent reading for a device, or nil if none exists.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Latest(ctx context.Context, deviceID, unit string) (*Reading, error) {
	var row *sql.Row
	if unit != "" {
		row = r.db.QueryRowContext(ctx, `
			SELECT `+readingColumns+` FROM telemetry_readings
			WHERE device_id = $1 AND unit = $2
			ORDER BY submitted_at DESC, id DESC
			LIMIT 1`, deviceID, unit)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT `+readingColumns+` FROM telemetry_readings
			WHERE device_id = $1
			ORDER BY submitted_at DESC, id DESC
			LIMIT 1`, deviceID)
	}
	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return reading, nil
}

// Devices returns the distinct device IDs present in storage.
func (r *PostgresRepository) Devices(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT device_id FROM telemetry_readings ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RollingAverage averages the device's most recent window readings.
func (r *PostgresRepository) RollingAverage(ctx context.Context, deviceID string, window int32) (float64, bool, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(reading_value) FROM (
			SELECT reading_value FROM telemetry_readings
			WHERE device_id = $1
			ORDER BY submitted_at DESC, id DESC
			LIMIT $2
		) recent`, deviceID, window).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var (
		reading Reading
		battery sql.NullFloat64
		raw     sql.NullString
	)
	err := row.Scan(
		&reading.ID, &reading.DeviceID, &reading.IngestID, &reading.ReadingValue,
		&reading.ReadingType, &reading.Unit, &battery, &raw,
		&reading.SubmittedAt, &reading.StoredAt,
	)
	if err != nil {
		return nil, err
	}
	if battery.Valid {
		reading.BatteryLevel = &battery.Float64
	}
	if raw.Valid {
		reading.RawData = raw.String
	}
	return &reading, nil
}

func nullFloatFromPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullStringFromEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
