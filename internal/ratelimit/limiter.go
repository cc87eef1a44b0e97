// Package ratelimit enforces a per-device submission budget over a fixed window.
//
// The counting policy is fixed-window: each device has one counter per window
// bucket, reset lazily when the window rolls over. A burst of up to twice the
// limit is possible across a window boundary; that bound is accepted in
// exchange for an atomic single-roundtrip check-and-increment.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable reports that the limiter backend could not be reached.
// It is distinct from an over-budget rejection: callers surface it as a
// transient infrastructure failure, not as a policy rejection.
var ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")

// Decision is the outcome of a single check-and-increment.
type Decision struct {
	// Allowed reports whether the submission is within budget.
	Allowed bool
	// Remaining is the budget left in the current window after this call.
	Remaining int
	// RetryAfter is how long until the current window resets. Meaningful when
	// Allowed is false.
	RetryAfter time.Duration
}

// Limiter answers whether a device submission is within its rate budget.
// Allow performs an atomic check-and-increment: two concurrent calls for the
// same device can never both be admitted past the limit.
type Limiter interface {
	Allow(ctx context.Context, deviceID string) (Decision, error)
}

// Policy carries the budget applied to every device.
type Policy struct {
	// Limit is the number of admitted submissions per device per window.
	Limit int
	// Window is the fixed-window duration.
	Window time.Duration
	// FailOpen admits submissions when the backend errors instead of rejecting.
	FailOpen bool
}
