package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on the dead_letters table.
type PostgresStore struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresStore returns a dead-letter store that uses the given db for persistence.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, nowF: time.Now}
}

// Record appends one entry. It sets entry.ID and entry.DeadLetteredAt on success.
func (s *PostgresStore) Record(ctx context.Context, entry *Entry) error {
	at := s.nowF().UTC()
	var ingestID any
	if entry.IngestID != nil {
		ingestID = *entry.IngestID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO dead_letters
			(device_id, ingest_id, payload, failure_reason, attempt_count, partition, log_offset, dead_lettered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.DeviceID, ingestID, entry.Payload, entry.FailureReason,
		entry.AttemptCount, entry.Partition, entry.Offset, at,
	).Scan(&entry.ID)
	if err != nil {
		return err
	}
	entry.DeadLetteredAt = at
	return nil
}

const entryColumns = `id, device_id, ingest_id, payload, failure_reason, attempt_count, partition, log_offset, dead_lettered_at, replayed_at`

// List returns entries newest first matching q.
func (s *PostgresStore) List(ctx context.Context, q Query) ([]*Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	to := q.To
	if to.IsZero() {
		to = s.nowF().UTC().Add(24 * time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM dead_letters
		WHERE ($1 = '' OR device_id = $1)
		  AND dead_lettered_at >= $2 AND dead_lettered_at <= $3
		ORDER BY dead_lettered_at DESC, id DESC
		LIMIT $4`, q.DeviceID, q.From.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Get returns the entry with id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM dead_letters WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// MarkReplayed stamps replayed_at on the entry.
func (s *PostgresStore) MarkReplayed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET replayed_at = $1 WHERE id = $2`, s.nowF().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry    Entry
		ingestID uuid.NullUUID
		replayed sql.NullTime
	)
	err := row.Scan(
		&entry.ID, &entry.DeviceID, &ingestID, &entry.Payload, &entry.FailureReason,
		&entry.AttemptCount, &entry.Partition, &entry.Offset, &entry.DeadLetteredAt, &replayed,
	)
	if err != nil {
		return nil, err
	}
	if ingestID.Valid {
		entry.IngestID = &ingestID.UUID
	}
	if replayed.Valid {
		entry.ReplayedAt = &replayed.Time
	}
	return &entry, nil
}
