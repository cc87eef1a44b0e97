// Package eventlog is the durable hand-off between admission and persistence:
// an append-only partitioned log keyed by device so a single device's events
// stay in acceptance order. Consumer groups track offsets independently.
package eventlog

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the log backend could not accept an append.
// The admission path surfaces it as a transient failure, distinct from a
// rate-limit rejection.
var ErrUnavailable = errors.New("eventlog: backend unavailable")

// Record is one entry read from the log. Offsets are strictly increasing
// within a partition and records are delivered in offset order.
type Record struct {
	Partition  int
	Offset     int64
	Key        []byte
	Value      []byte
	AppendedAt time.Time
}

// Appender appends events to the log. Append returns only after the backend
// has durably acknowledged the write; the event survives a process crash from
// that point and is committed to being processed.
type Appender interface {
	// Append writes payload to the partition owned by deviceID.
	Append(ctx context.Context, deviceID string, payload []byte) error
	Close() error
}

// Consumer reads a consumer group's share of the log, in partition order,
// starting after the group's last committed offset. The stream is unbounded:
// Fetch blocks until a record arrives or ctx is cancelled.
//
// Commit advances the group's checkpoint past rec. Callers commit only after
// the record is fully handled (stored or dead-lettered), so a crash between
// handling and commit redelivers the record — at-least-once delivery.
type Consumer interface {
	Fetch(ctx context.Context) (Record, error)
	Commit(ctx context.Context, rec Record) error
	Close() error
}
