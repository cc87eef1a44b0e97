// Package deadletter quarantines records that could not be committed after
// their retry budget. Entries are append-only and never silently dropped:
// every one stays queryable by device and time range until manually replayed.
package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one dead-lettered record with enough context for manual replay.
type Entry struct {
	ID             int64
	DeviceID       string
	IngestID       *uuid.UUID // nil when the payload never decoded
	Payload        []byte
	FailureReason  string
	AttemptCount   int
	Partition      int
	Offset         int64
	DeadLetteredAt time.Time
	ReplayedAt     *time.Time
}

// Query filters List results. Zero values are unconstrained.
type Query struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int32
}

// Sink records permanently failed records.
type Sink interface {
	Record(ctx context.Context, entry *Entry) error
}

// Store is a Sink that also supports the admin query and replay surface.
type Store interface {
	Sink
	// List returns entries newest first matching q.
	List(ctx context.Context, q Query) ([]*Entry, error)
	// Get returns the entry with id, or nil if not found.
	Get(ctx context.Context, id int64) (*Entry, error)
	// MarkReplayed stamps replayed_at. The entry is kept, never deleted.
	MarkReplayed(ctx context.Context, id int64) error
}
