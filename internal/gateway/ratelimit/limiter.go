// Package ratelimit implements two-tier sliding-window admission control.
//
// Counters live in the shared store so every gateway instance observes the
// same windows; this package never keeps counters in process memory.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/shared/redis"
)

// Reason names the window that denied a request.
type Reason string

const (
	ReasonMinute Reason = "minute"
	ReasonDay    Reason = "day"
)

const (
	Minute = time.Minute
	Day    = 24 * time.Hour
)

// WindowStore is the atomic sliding-window primitive of the shared store.
type WindowStore interface {
	SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (redis.WindowResult, error)
	Del(ctx context.Context, keys ...string) error
}

// Decision is the result of Check. RetryAfter is whole seconds, at least 1,
// and only set when the request was denied.
type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter int64
	Limit      int64
	Remaining  int64
}

type Limiter struct {
	store  WindowStore
	prefix string
	now    func() time.Time
}

// New creates a limiter whose keys are namespaced under "ratelimit:".
func New(store WindowStore) *Limiter {
	return &Limiter{store: store, prefix: "ratelimit", now: time.Now}
}

// WithClock replaces the clock. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) key(scope string, r Reason) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, r, scope)
}

// Check admits or denies one request for scope. The minute window is checked
// first; the day window is only consulted when the minute window admits.
// A non-positive limit disables that window.
func (l *Limiter) Check(ctx context.Context, scope string, perMinute, perDay int64) (Decision, error) {
	now := l.now()
	remaining := int64(math.MaxInt64)
	limit := int64(0)

	windows := []struct {
		reason Reason
		limit  int64
		size   time.Duration
	}{
		{ReasonMinute, perMinute, Minute},
		{ReasonDay, perDay, Day},
	}

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		res, err := l.store.SlidingWindow(ctx, l.key(scope, w.reason), w.limit, w.size, now)
		if err != nil {
			return Decision{}, fmt.Errorf("rate limit %s window: %w", w.reason, err)
		}
		if !res.Allowed {
			return Decision{
				Reason:     w.reason,
				RetryAfter: retryAfter(res.ResetAt, now),
				Limit:      w.limit,
				Remaining:  res.Remaining,
			}, nil
		}
		if res.Remaining < remaining {
			remaining = res.Remaining
			limit = w.limit
		}
	}

	if limit == 0 {
		// both windows disabled
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining}, nil
}

// Reset clears both windows for scope.
func (l *Limiter) Reset(ctx context.Context, scope string) error {
	return l.store.Del(ctx, l.key(scope, ReasonMinute), l.key(scope, ReasonDay))
}

func retryAfter(resetAt, now time.Time) int64 {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
