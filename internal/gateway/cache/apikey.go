package cache

import (
	"context"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/shared/models"
)

// APIKeyLoader reads active API keys by public id.
type APIKeyLoader interface {
	GetAPIKey(ctx context.Context, keyID string) (*models.APIKey, error)
}

// APIKeyCache caches API key lookups. A revoked key stays usable until its
// entry expires or is invalidated.
type APIKeyCache struct {
	loader APIKeyLoader
	keys   *TTL[*models.APIKey]
}

func NewAPIKeyCache(loader APIKeyLoader, ttl time.Duration) *APIKeyCache {
	return &APIKeyCache{loader: loader, keys: NewTTL[*models.APIKey](ttl)}
}

// Get returns the key, or nil when it does not exist or is revoked.
func (c *APIKeyCache) Get(ctx context.Context, keyID string) (*models.APIKey, error) {
	return lookup(ctx, c.keys, keyID, func(ctx context.Context) (*models.APIKey, error) {
		return c.loader.GetAPIKey(ctx, keyID)
	})
}

func (c *APIKeyCache) Invalidate(keyID string) { c.keys.Delete(keyID) }

func (c *APIKeyCache) InvalidateAll() { c.keys.Clear() }
