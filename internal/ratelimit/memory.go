package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// bucket is one device's counter for its current window.
type bucket struct {
	windowStart time.Time
	count       int
}

// MemoryLimiter is an in-process Limiter for single-node deployments and
// tests. Buckets reset lazily when a call lands in a later window; nothing is
// ever deleted eagerly.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	policy  Policy
	nowF    func() time.Time
}

// NewMemoryLimiter returns an in-memory limiter applying policy.
func NewMemoryLimiter(policy Policy) (*MemoryLimiter, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: policy must have positive limit and window")
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		policy:  policy,
		nowF:    time.Now,
	}, nil
}

// Allow performs the check-and-increment under a single lock acquisition, so
// concurrent callers for the same device observe a consistent count.
func (l *MemoryLimiter) Allow(ctx context.Context, deviceID string) (Decision, error) {
	now := l.nowF()
	windowStart := now.Truncate(l.policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[deviceID]
	if !ok || b.windowStart.Before(windowStart) {
		b = &bucket{windowStart: windowStart}
		l.buckets[deviceID] = b
	}
	b.count++

	retryAfter := b.windowStart.Add(l.policy.Window).Sub(now)
	if b.count > l.policy.Limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Remaining: l.policy.Limit - b.count, RetryAfter: retryAfter}, nil
}
