package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mrmushfiq/image-gateway/internal/shared/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, now *time.Time) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client).WithClock(func() time.Time { return *now })
}

func TestMinuteBoundary(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := newLimiter(t, &now)
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		dec, err := l.Check(ctx, "key-1", 60, 10000)
		require.NoError(t, err)
		require.True(t, dec.Allowed, "request %d should be allowed", i)
		now = now.Add(100 * time.Millisecond)
	}

	dec, err := l.Check(ctx, "key-1", 60, 10000)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonMinute, dec.Reason)
	assert.Equal(t, int64(60), dec.Limit)
	assert.Equal(t, int64(0), dec.Remaining)
	assert.GreaterOrEqual(t, dec.RetryAfter, int64(1))
	assert.Equal(t, int64(54), dec.RetryAfter, "oldest hit leaves the window 54s from now")
}

func TestScopesAreIndependent(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := newLimiter(t, &now)
	ctx := context.Background()

	dec, err := l.Check(ctx, "a", 1, 0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = l.Check(ctx, "b", 1, 0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = l.Check(ctx, "a", 1, 0)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
}

func TestDayWindowCheckedAfterMinute(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := newLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := l.Check(ctx, "k", 100, 3)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
		now = now.Add(2 * time.Minute)
	}

	dec, err := l.Check(ctx, "k", 100, 3)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonDay, dec.Reason)
	assert.Equal(t, int64(3), dec.Limit)
	// first hit was 6 minutes ago
	assert.Equal(t, int64((24*time.Hour-6*time.Minute)/time.Second), dec.RetryAfter)
}

func TestRemainingIsMinimumOfWindows(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := newLimiter(t, &now)
	ctx := context.Background()

	dec, err := l.Check(ctx, "k", 10, 5)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, int64(4), dec.Remaining)
	assert.Equal(t, int64(5), dec.Limit)

	dec, err = l.Check(ctx, "k2", 3, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dec.Remaining)
	assert.Equal(t, int64(3), dec.Limit)
}

func TestReset(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := newLimiter(t, &now)
	ctx := context.Background()

	_, err := l.Check(ctx, "k", 1, 1)
	require.NoError(t, err)
	dec, err := l.Check(ctx, "k", 1, 1)
	require.NoError(t, err)
	require.False(t, dec.Allowed)

	require.NoError(t, l.Reset(ctx, "k"))

	dec, err = l.Check(ctx, "k", 1, 1)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestDisabledWindows(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := newLimiter(t, &now)

	for i := 0; i < 5; i++ {
		dec, err := l.Check(context.Background(), "k", 0, 0)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	}
}

func TestRetryAfterClamp(t *testing.T) {
	now := time.Unix(100, 0)
	assert.Equal(t, int64(1), retryAfter(now, now))
	assert.Equal(t, int64(1), retryAfter(now.Add(-time.Second), now))
	assert.Equal(t, int64(2), retryAfter(now.Add(1500*time.Millisecond), now))
}

type failingStore struct{}

func (failingStore) SlidingWindow(context.Context, string, int64, time.Duration, time.Time) (redis.WindowResult, error) {
	return redis.WindowResult{}, errors.New("connection refused")
}

func (failingStore) Del(context.Context, ...string) error { return nil }

func TestStoreErrorIsReturned(t *testing.T) {
	_, err := New(failingStore{}).Check(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}
