package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/shared/database"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
)

// ProjectLoader reads project configs from the persistent store. Lookups that
// match nothing return database.ErrNotFound.
type ProjectLoader interface {
	GetProjectBySlug(ctx context.Context, slug string) (*models.ProjectConfig, error)
	GetProjectByTeamAndSlug(ctx context.Context, teamSlug, slug string) (*models.ProjectConfig, error)
}

// ProjectCache caches project configs under two independent namespaces:
// "slug" and "team/slug".
type ProjectCache struct {
	loader    ProjectLoader
	bySlug    *TTL[*models.ProjectConfig]
	composite *TTL[*models.ProjectConfig]
}

// NewProjectCache creates a project cache
func NewProjectCache(loader ProjectLoader, ttl time.Duration) *ProjectCache {
	return &ProjectCache{
		loader:    loader,
		bySlug:    NewTTL[*models.ProjectConfig](ttl),
		composite: NewTTL[*models.ProjectConfig](ttl),
	}
}

// WithClock sets the clock of both namespaces. Intended for tests.
func (c *ProjectCache) WithClock(now func() time.Time) *ProjectCache {
	c.bySlug.WithClock(now)
	c.composite.WithClock(now)
	return c
}

// GetBySlug returns the project for slug, or nil when none exists.
func (c *ProjectCache) GetBySlug(ctx context.Context, slug string) (*models.ProjectConfig, error) {
	return lookup(ctx, c.bySlug, slug, func(ctx context.Context) (*models.ProjectConfig, error) {
		return c.loader.GetProjectBySlug(ctx, slug)
	})
}

// GetByTeamAndSlug returns the project addressed by team and project slug,
// or nil when none exists.
func (c *ProjectCache) GetByTeamAndSlug(ctx context.Context, teamSlug, slug string) (*models.ProjectConfig, error) {
	return lookup(ctx, c.composite, teamSlug+"/"+slug, func(ctx context.Context) (*models.ProjectConfig, error) {
		return c.loader.GetProjectByTeamAndSlug(ctx, teamSlug, slug)
	})
}

// Invalidate drops slug and every composite key addressing it.
func (c *ProjectCache) Invalidate(slug string) {
	c.bySlug.Delete(slug)
	c.composite.DeleteSuffix("/" + slug)
}

// InvalidateAll drops every cached project.
func (c *ProjectCache) InvalidateAll() {
	c.bySlug.Clear()
	c.composite.Clear()
}

// lookup serves hits from c and loads misses. A miss that finds nothing is
// not cached; any stale entry is removed so the next call queries again.
func lookup[T any](ctx context.Context, c *TTL[*T], key string, load func(context.Context) (*T, error)) (*T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if errors.Is(err, database.ErrNotFound) || (err == nil && v == nil) {
		c.Delete(key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Set(key, v)
	return v, nil
}
