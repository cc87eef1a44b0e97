package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/deadletter"
	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/ingest/domain"
	"iot-stream-engine/internal/storage"
)

// flakyRepository fails the first n Save calls, then delegates.
type flakyRepository struct {
	*storage.MemoryRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepository) Save(ctx context.Context, e *domain.TelemetryEvent) (bool, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return false, errors.New("storage down")
	}
	return r.MemoryRepository.Save(ctx, e)
}

// brokenRepository never succeeds.
type brokenRepository struct {
	*storage.MemoryRepository
}

func (r *brokenRepository) Save(ctx context.Context, e *domain.TelemetryEvent) (bool, error) {
	return false, errors.New("constraint violation")
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testConfig() Config {
	return Config{MaxAttempts: 5, RetryBase: time.Millisecond, RetryMax: 5 * time.Millisecond}
}

func appendEvent(t *testing.T, log *eventlog.MemoryLog, deviceID string, value float64) *domain.TelemetryEvent {
	t.Helper()
	e := &domain.TelemetryEvent{
		DeviceID:     deviceID,
		SubmittedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(value) * time.Second),
		ReadingValue: value,
		ReadingType:  "temperature",
		Unit:         "celsius",
	}
	e.IngestID = e.SynthesizeIngestID()
	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := log.Append(context.Background(), deviceID, payload); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return e
}

// runWorker starts w and returns a stop func that cancels and waits for exit.
func runWorker(t *testing.T, w *Worker) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop after cancellation")
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWorker_CommitsAndAdvancesCheckpoint(t *testing.T) {
	log := eventlog.NewMemoryLog(1)
	repo := storage.NewMemoryRepository()
	sink := deadletter.NewMemoryStore()

	appendEvent(t, log, "sensor-1", 1)
	appendEvent(t, log, "sensor-1", 2)

	w, err := New(log.NewConsumer("workers"), repo, sink, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)
	defer stop()

	waitUntil(t, "both events stored", func() bool { return repo.Count() == 2 })
	waitUntil(t, "checkpoint at 2", func() bool { return log.Committed("workers", 0) == 2 })
	if sink.Count() != 0 {
		t.Errorf("dead letters = %d, want 0", sink.Count())
	}
}

func TestWorker_TransientFailureThenRecovery(t *testing.T) {
	// Storage is down for 3 commit cycles, then recovers: the event is
	// committed exactly once and the checkpoint advances exactly once.
	log := eventlog.NewMemoryLog(1)
	repo := &flakyRepository{MemoryRepository: storage.NewMemoryRepository(), failures: 3}
	sink := deadletter.NewMemoryStore()

	appendEvent(t, log, "sensor-1", 1)

	w, err := New(log.NewConsumer("workers"), repo, sink, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)
	defer stop()

	waitUntil(t, "event stored after recovery", func() bool { return repo.Count() == 1 })
	waitUntil(t, "checkpoint advanced", func() bool { return log.Committed("workers", 0) == 1 })

	if repo.calls != 4 {
		t.Errorf("Save calls = %d, want 4 (3 failures + 1 success)", repo.calls)
	}
	if sink.Count() != 0 {
		t.Errorf("dead letters = %d, want 0", sink.Count())
	}
}

func TestWorker_PoisonRecordIsContained(t *testing.T) {
	// A record that always fails commit is dead-lettered after the retry
	// budget and must not block the next record on the same partition.
	log := eventlog.NewMemoryLog(1)
	inner := storage.NewMemoryRepository()
	sink := deadletter.NewMemoryStore()

	poisoned := appendEvent(t, log, "sensor-1", 1)

	cfg := testConfig()
	cfg.MaxAttempts = 3
	w, err := New(log.NewConsumer("workers"), &brokenRepository{inner}, sink, cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)

	waitUntil(t, "record dead-lettered", func() bool { return sink.Count() == 1 })
	waitUntil(t, "checkpoint advanced past poison", func() bool { return log.Committed("workers", 0) == 1 })
	stop()

	entries, err := sink.List(context.Background(), deadletter.Query{DeviceID: "sensor-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", entry.AttemptCount)
	}
	if entry.FailureReason == "" {
		t.Error("FailureReason should be set")
	}
	if entry.IngestID == nil || *entry.IngestID != poisoned.IngestID {
		t.Errorf("IngestID = %v, want %v", entry.IngestID, poisoned.IngestID)
	}

	// A healthy repository processes the next record on the same partition.
	appendEvent(t, log, "sensor-1", 2)
	w2, err := New(log.NewConsumer("workers"), inner, sink, cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop2 := runWorker(t, w2)
	defer stop2()
	waitUntil(t, "subsequent record stored", func() bool { return inner.Count() == 1 })
}

func TestWorker_UndecodablePayloadDeadLettered(t *testing.T) {
	log := eventlog.NewMemoryLog(1)
	repo := storage.NewMemoryRepository()
	sink := deadletter.NewMemoryStore()

	if err := log.Append(context.Background(), "sensor-1", []byte("{not json")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	w, err := New(log.NewConsumer("workers"), repo, sink, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)
	defer stop()

	waitUntil(t, "record dead-lettered", func() bool { return sink.Count() == 1 })
	waitUntil(t, "checkpoint advanced", func() bool { return log.Committed("workers", 0) == 1 })

	entries, _ := sink.List(context.Background(), deadletter.Query{})
	if entries[0].IngestID != nil {
		t.Error("an undecodable record has no ingest ID")
	}
	if entries[0].DeviceID != "sensor-1" {
		t.Errorf("DeviceID = %q, want from the log key", entries[0].DeviceID)
	}
	if repo.Count() != 0 {
		t.Errorf("stored rows = %d, want 0", repo.Count())
	}
}

func TestWorker_DuplicateDeliveryIsNoOp(t *testing.T) {
	// The same event appended twice (client retry past admission dedup):
	// both deliveries are handled, storage holds one row.
	log := eventlog.NewMemoryLog(1)
	repo := storage.NewMemoryRepository()
	sink := deadletter.NewMemoryStore()

	e := appendEvent(t, log, "sensor-1", 1)
	payload, _ := json.Marshal(e)
	if err := log.Append(context.Background(), "sensor-1", payload); err != nil {
		t.Fatalf("Append duplicate: %v", err)
	}

	w, err := New(log.NewConsumer("workers"), repo, sink, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)
	defer stop()

	waitUntil(t, "both deliveries handled", func() bool { return log.Committed("workers", 0) == 2 })
	if repo.Count() != 1 {
		t.Errorf("stored rows = %d, want 1", repo.Count())
	}
	if sink.Count() != 0 {
		t.Errorf("dead letters = %d, want 0", sink.Count())
	}
}

func TestWorker_RestartRedeliveryIsNoOp(t *testing.T) {
	// Crash between storage commit and checkpoint advance: the restarted
	// worker sees the record again and the re-commit is a no-op.
	log := eventlog.NewMemoryLog(1)
	repo := storage.NewMemoryRepository()
	sink := deadletter.NewMemoryStore()
	ctx := context.Background()

	appendEvent(t, log, "sensor-1", 1)

	// First worker run: stored but never checkpointed.
	c1 := log.NewConsumer("workers")
	rec, err := c1.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var stored domain.TelemetryEvent
	if err := json.Unmarshal(rec.Value, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := repo.Save(ctx, &stored); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c1.Close() // crash before Commit

	w, err := New(log.NewConsumer("workers"), repo, sink, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)
	defer stop()

	waitUntil(t, "redelivered record checkpointed", func() bool { return log.Committed("workers", 0) == 1 })
	if repo.Count() != 1 {
		t.Errorf("stored rows = %d, want 1 (no duplicate from redelivery)", repo.Count())
	}
	if sink.Count() != 0 {
		t.Errorf("dead letters = %d, want 0", sink.Count())
	}
}

func TestWorker_PerDeviceOrderPreserved(t *testing.T) {
	log := eventlog.NewMemoryLog(2)
	repo := storage.NewMemoryRepository()
	sink := deadletter.NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		appendEvent(t, log, "sensor-1", float64(i))
	}

	w, err := New(log.NewConsumer("workers"), repo, sink, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWorker(t, w)
	defer stop()

	waitUntil(t, "all events stored", func() bool { return repo.Count() == 5 })

	rows, err := repo.List(ctx, "sensor-1", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// List is newest first; acceptance order is 1..5.
	for i, row := range rows {
		want := float64(5 - i)
		if row.ReadingValue != want {
			t.Errorf("rows[%d].ReadingValue = %v, want %v", i, row.ReadingValue, want)
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{10, time.Second},
	}
	for _, c := range cases {
		if got := b.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
