// Package usage records "last seen" activity and the request audit trail.
// Neither path may fail or delay the request that triggered it.
package usage

import (
	"context"
	"log"
	"time"
)

// Throttle is an atomic set-if-absent with expiry in the shared store.
type Throttle interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ActivityStore persists last-used and last-active timestamps.
type ActivityStore interface {
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string, at time.Time) error
	UpdateProjectLastActive(ctx context.Context, projectID string, at time.Time) error
}

// Recorder writes at most one timestamp per key and per project every window,
// however many instances and requests race for it. Only the caller that wins
// the SetNX performs the write.
type Recorder struct {
	throttle Throttle
	store    ActivityStore
	window   time.Duration
	now      func() time.Time
}

func NewRecorder(throttle Throttle, store ActivityStore, window time.Duration) *Recorder {
	return &Recorder{throttle: throttle, store: store, window: window, now: time.Now}
}

// RecordUsage marks keyID as used and tenantID as active. Errors are logged
// and swallowed.
func (r *Recorder) RecordUsage(ctx context.Context, keyID, tenantID string) {
	if keyID != "" {
		r.touch(ctx, "usage:key:"+keyID, func(at time.Time) error {
			return r.store.UpdateAPIKeyLastUsed(ctx, keyID, at)
		})
	}
	if tenantID != "" {
		r.touch(ctx, "usage:project:"+tenantID, func(at time.Time) error {
			return r.store.UpdateProjectLastActive(ctx, tenantID, at)
		})
	}
}

func (r *Recorder) touch(ctx context.Context, key string, write func(time.Time) error) {
	won, err := r.throttle.SetNX(ctx, key, r.window)
	if err != nil {
		log.Printf("usage: throttle check %s failed: %v", key, err)
		return
	}
	if !won {
		return
	}
	if err := write(r.now().UTC()); err != nil {
		log.Printf("usage: write %s failed: %v", key, err)
	}
}

