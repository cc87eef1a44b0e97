package eventlog

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// MemoryLog is an in-process implementation of the log for tests and local
// development. It keeps the same contract as the Kafka backing: hashed
// partitions keyed by device, strictly increasing per-partition offsets, and
// per-group committed offsets that survive consumer restarts (a new consumer
// for the same group resumes after the group's checkpoint).
type MemoryLog struct {
	mu         sync.Mutex
	cond       *sync.Cond
	partitions [][]Record
	committed  map[string][]int64 // group ID -> next uncommitted offset per partition
	nowF       func() time.Time
}

// NewMemoryLog returns a log with the given partition count.
func NewMemoryLog(partitions int) *MemoryLog {
	if partitions <= 0 {
		partitions = 1
	}
	l := &MemoryLog{
		partitions: make([][]Record, partitions),
		committed:  make(map[string][]int64),
		nowF:       time.Now,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *MemoryLog) partitionFor(deviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32()) % len(l.partitions)
}

// Append writes payload to deviceID's partition and wakes blocked consumers.
func (l *MemoryLog) Append(ctx context.Context, deviceID string, payload []byte) error {
	if deviceID == "" {
		return fmt.Errorf("eventlog: device ID is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.partitionFor(deviceID)
	value := make([]byte, len(payload))
	copy(value, payload)
	l.partitions[p] = append(l.partitions[p], Record{
		Partition:  p,
		Offset:     int64(len(l.partitions[p])),
		Key:        []byte(deviceID),
		Value:      value,
		AppendedAt: l.nowF(),
	})
	l.cond.Broadcast()
	return nil
}

// Close implements Appender. The in-memory log has nothing to release.
func (l *MemoryLog) Close() error { return nil }

// Records returns a copy of one partition's records, for test assertions.
func (l *MemoryLog) Records(partition int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.partitions[partition]))
	copy(out, l.partitions[partition])
	return out
}

// PartitionFor exposes the partition assignment for a device, for tests.
func (l *MemoryLog) PartitionFor(deviceID string) int {
	return l.partitionFor(deviceID)
}

// NewConsumer returns a consumer for groupID covering every partition. Its
// read positions start at the group's committed offsets, so records fetched
// but never committed by a previous consumer are delivered again.
func (l *MemoryLog) NewConsumer(groupID string) *MemoryConsumer {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.committed[groupID]; !ok {
		l.committed[groupID] = make([]int64, len(l.partitions))
	}
	pos := make([]int64, len(l.partitions))
	copy(pos, l.committed[groupID])
	return &MemoryConsumer{log: l, groupID: groupID, pos: pos}
}

// MemoryConsumer reads the MemoryLog on behalf of one group.
type MemoryConsumer struct {
	log     *MemoryLog
	groupID string
	pos     []int64 // next offset to fetch per partition
	closed  bool
}

// Fetch returns the next unread record across partitions, blocking until one
// is appended or ctx is cancelled. Within a partition, records come back in
// offset order.
func (c *MemoryConsumer) Fetch(ctx context.Context) (Record, error) {
	l := c.log
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if c.closed {
			return Record{}, fmt.Errorf("eventlog: consumer closed")
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		for p := range l.partitions {
			if c.pos[p] < int64(len(l.partitions[p])) {
				rec := l.partitions[p][c.pos[p]]
				c.pos[p]++
				return rec, nil
			}
		}

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				l.cond.Broadcast()
			case <-stop:
			}
		}()
		l.cond.Wait()
		close(stop)
	}
}

// Commit advances the group checkpoint past rec. Offsets only move forward.
func (c *MemoryConsumer) Commit(ctx context.Context, rec Record) error {
	l := c.log
	l.mu.Lock()
	defer l.mu.Unlock()

	committed := l.committed[c.groupID]
	if rec.Offset+1 > committed[rec.Partition] {
		committed[rec.Partition] = rec.Offset + 1
	}
	return nil
}

// Committed returns the group's checkpoint for a partition, for tests.
func (l *MemoryLog) Committed(groupID string, partition int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offs, ok := l.committed[groupID]; ok {
		return offs[partition]
	}
	return 0
}

// Close stops the consumer; a blocked Fetch returns an error.
func (c *MemoryConsumer) Close() error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	c.closed = true
	c.log.cond.Broadcast()
	return nil
}
