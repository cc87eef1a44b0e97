package deadletter

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries []*Entry
	nextID  int64
	nowF    func() time.Time
}

// NewMemoryStore returns a new in-memory dead-letter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, nowF: time.Now}
}

// Record appends one entry, setting ID and DeadLetteredAt.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	cp.ID = s.nextID
	cp.DeadLetteredAt = s.nowF()
	s.nextID++
	s.entries = append(s.entries, &cp)

	entry.ID = cp.ID
	entry.DeadLetteredAt = cp.DeadLetteredAt
	return nil
}

// List returns entries newest first matching q.
func (s *MemoryStore) List(ctx context.Context, q Query) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, e := range s.entries {
		if q.DeviceID != "" && e.DeviceID != q.DeviceID {
			continue
		}
		if !q.From.IsZero() && e.DeadLetteredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.DeadLetteredAt.After(q.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && int(q.Limit) < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get returns the entry with id, or nil if not found.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

// MarkReplayed stamps replayed_at on the entry.
func (s *MemoryStore) MarkReplayed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID == id {
			at := s.nowF()
			e.ReplayedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

// Count returns the number of entries, for test assertions.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
