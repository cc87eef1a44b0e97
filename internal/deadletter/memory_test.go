package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStore_RecordAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()

	entry := &Entry{
		DeviceID:      "sensor-1",
		IngestID:      &id,
		Payload:       []byte(`{"device_id":"sensor-1"}`),
		FailureReason: "storage rejected payload",
		AttemptCount:  5,
	}
	if err := s.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.ID == 0 {
		t.Error("Record should assign an ID")
	}
	if entry.DeadLetteredAt.IsZero() {
		t.Error("Record should set DeadLetteredAt")
	}
}

func TestMemoryStore_ListByDeviceAndTimeRange(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowF = func() time.Time { return now }
	ctx := context.Background()

	s.Record(ctx, &Entry{DeviceID: "sensor-1", FailureReason: "r1"})
	now = now.Add(time.Hour)
	s.Record(ctx, &Entry{DeviceID: "sensor-2", FailureReason: "r2"})
	now = now.Add(time.Hour)
	s.Record(ctx, &Entry{DeviceID: "sensor-1", FailureReason: "r3"})

	got, err := s.List(ctx, Query{DeviceID: "sensor-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List by device returned %d entries, want 2", len(got))
	}
	if got[0].FailureReason != "r3" {
		t.Errorf("newest first: got[0].FailureReason = %q, want %q", got[0].FailureReason, "r3")
	}

	from := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC)
	got, err = s.List(ctx, Query{From: from, To: to})
	if err != nil {
		t.Fatalf("List by range: %v", err)
	}
	if len(got) != 1 || got[0].FailureReason != "r2" {
		t.Errorf("List by range = %d entries (first %q), want the 12:00+1h entry", len(got), got[0].FailureReason)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get for missing id = %+v, want nil", got)
	}
}

func TestMemoryStore_MarkReplayedKeepsEntry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entry := &Entry{DeviceID: "sensor-1", FailureReason: "poison"}
	s.Record(ctx, entry)

	if err := s.MarkReplayed(ctx, entry.ID); err != nil {
		t.Fatalf("MarkReplayed: %v", err)
	}

	got, err := s.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("replayed entry must still be retrievable")
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt should be set after MarkReplayed")
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1 (replay never deletes)", s.Count())
	}
}

func TestMemoryStore_MarkReplayedMissing(t *testing.T) {
	s := NewMemoryStore()
	if err := s.MarkReplayed(context.Background(), 99); err == nil {
		t.Error("MarkReplayed for missing id should fail")
	}
}
