package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisLimiter implements Limiter on a shared Redis instance so the budget is
// enforced across all ingest replicas. The counter key embeds the window start
// bucket and carries a TTL of one window, so expired buckets vanish on their
// own and are never explicitly deleted.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
	logger *logrus.Logger
	nowF   func() time.Time
}

// NewRedisLimiter connects to Redis and returns a limiter applying policy.
// It pings the backend so a misconfigured address fails at startup, not on the
// first request.
func NewRedisLimiter(addr, password string, db int, policy Policy, logger *logrus.Logger) (*RedisLimiter, error) {
	if addr == "" {
		return nil, fmt.Errorf("ratelimit: redis address is required")
	}
	if policy.Limit <= 0 || policy.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: policy must have positive limit and window")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis ping failed: %w", err)
	}

	return &RedisLimiter{client: client, policy: policy, logger: logger, nowF: time.Now}, nil
}

// Allow increments the device counter for the current window and compares it
// to the limit. INCR and EXPIRE run in one transactional pipeline, so the
// read-modify-write is atomic even under concurrent callers for the same
// device. On backend failure it applies the configured failure policy: fail
// closed returns ErrBackendUnavailable, fail open admits.
func (l *RedisLimiter) Allow(ctx context.Context, deviceID string) (Decision, error) {
	now := l.nowF()
	windowStart := now.Truncate(l.policy.Window)
	key := fmt.Sprintf("ratelimit:device:%s:%d", deviceID, windowStart.Unix())

	pipe := l.client.TxPipeline()
	counter := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.policy.FailOpen {
			l.logger.WithError(err).Warn("rate limiter backend unreachable, admitting (fail open)")
			return Decision{Allowed: true, Remaining: 0}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	count := counter.Val()
	retryAfter := windowStart.Add(l.policy.Window).Sub(now)
	if count > int64(l.policy.Limit) {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Remaining: l.policy.Limit - int(count), RetryAfter: retryAfter}, nil
}

// Ping probes the backend, for readiness checks.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
