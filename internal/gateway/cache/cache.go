package cache

import (
	"strings"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// TTL is a process-local, concurrency-safe map whose entries expire a fixed
// duration after they were written. It is an optimization, not a source of
// truth: separate processes may disagree for up to one TTL.
type TTL[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	ttl     time.Duration
	now     func() time.Time
}

// NewTTL creates a cache with the given entry lifetime
func NewTTL[T any](ttl time.Duration) *TTL[T] {
	return &TTL[T]{
		entries: make(map[string]entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for expiry. Intended for tests.
func (c *TTL[T]) WithClock(now func() time.Time) *TTL[T] {
	c.now = now
	return c
}

// Get returns the value only while now is before its expiry.
func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores value and resets its expiry to now+TTL.
func (c *TTL[T]) Set(key string, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *TTL[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeleteSuffix removes every key ending in suffix and returns how many.
func (c *TTL[T]) DeleteSuffix(suffix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.HasSuffix(k, suffix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (c *TTL[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included.
func (c *TTL[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
