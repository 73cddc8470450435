package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// SetNX stores key with a TTL only if it does not exist yet. It reports
// whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "1", ttl).Result()
}

// Del removes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// slidingWindow keeps one sorted-set member per admitted request, scored by
// its arrival time in milliseconds. Members older than the window are pruned
// before counting, so the count always covers the trailing window.
//
// Returns {allowed, remaining, resetAtMs}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, now + window}
end

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {0, 0, reset}
`)

// WindowResult is the outcome of one sliding-window admission.
type WindowResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// SlidingWindow atomically counts a request against the trailing window for
// key, admitting it only when fewer than limit requests were admitted.
func (c *Client) SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
	res, err := slidingWindow.Run(ctx, c.client, []string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Result()
	if err != nil {
		return WindowResult{}, fmt.Errorf("sliding window %s: %w", key, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return WindowResult{}, fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	resetMs, _ := values[2].(int64)

	return WindowResult{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetMs),
	}, nil
}
