package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
)

// schema is portable between Postgres and SQLite. Domain lists are JSON text;
// NULL means allow all.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id                      TEXT PRIMARY KEY,
		slug                    TEXT NOT NULL UNIQUE,
		team_id                 TEXT NOT NULL,
		team_slug               TEXT NOT NULL,
		allowed_source_domains  TEXT,
		allowed_referer_domains TEXT,
		require_signed_urls     BOOLEAN NOT NULL DEFAULT FALSE,
		last_active_at          TIMESTAMP,
		created_at              TIMESTAMP NOT NULL,
		updated_at              TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_team_slug ON projects(team_slug, slug)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id                    TEXT PRIMARY KEY,
		project_id            TEXT NOT NULL REFERENCES projects(id),
		key_prefix            TEXT NOT NULL,
		secret                TEXT NOT NULL,
		name                  TEXT NOT NULL DEFAULT '',
		rate_limit_per_minute INTEGER NOT NULL DEFAULT 0,
		rate_limit_per_day    INTEGER NOT NULL DEFAULT 0,
		is_active             BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at          TIMESTAMP,
		created_at            TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id                 TEXT PRIMARY KEY,
		project_id         TEXT NOT NULL,
		api_key_id         TEXT,
		source_url         TEXT NOT NULL,
		status             TEXT NOT NULL,
		processing_time_ms INTEGER,
		original_size      INTEGER,
		optimized_size     INTEGER,
		created_at         TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_project ON request_logs(project_id)`,
}

// Migrate creates the tables the gateway reads and writes.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// UpsertProject creates or replaces a project row. Used by the seed command
// and tests; the dashboard owns projects in production.
func (db *DB) UpsertProject(ctx context.Context, p *models.ProjectConfig) error {
	sources, err := encodeDomains(p.AllowedSourceDomains)
	if err != nil {
		return err
	}
	referer, err := encodeDomains(p.AllowedRefererDomains)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO projects (
			id, slug, team_id, team_slug, allowed_source_domains,
			allowed_referer_domains, require_signed_urls, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			team_id = excluded.team_id,
			team_slug = excluded.team_slug,
			allowed_source_domains = excluded.allowed_source_domains,
			allowed_referer_domains = excluded.allowed_referer_domains,
			require_signed_urls = excluded.require_signed_urls,
			updated_at = excluded.updated_at
	`
	_, err = db.conn.ExecContext(ctx, db.rebind(query),
		p.ID, p.Slug, p.TeamID, p.TeamSlug, sources, referer,
		p.RequireSignedURLs, p.CreatedAt.UTC(), p.UpdatedAt,
	)
	return err
}

// UpsertAPIKey creates or replaces an API key row.
func (db *DB) UpsertAPIKey(ctx context.Context, k *models.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	k.KeyPrefix = models.Prefix(k.ID)

	query := `
		INSERT INTO api_keys (
			id, project_id, key_prefix, secret, name,
			rate_limit_per_minute, rate_limit_per_day, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			project_id = excluded.project_id,
			secret = excluded.secret,
			name = excluded.name,
			rate_limit_per_minute = excluded.rate_limit_per_minute,
			rate_limit_per_day = excluded.rate_limit_per_day,
			is_active = excluded.is_active
	`
	_, err := db.conn.ExecContext(ctx, db.rebind(query),
		k.ID, k.ProjectID, k.KeyPrefix, k.Secret, k.Name,
		k.RateLimitPerMinute, k.RateLimitPerDay, k.IsActive, k.CreatedAt.UTC(),
	)
	return err
}

// Seed upserts every project and key, collecting all failures.
func (db *DB) Seed(ctx context.Context, projects []models.ProjectConfig, keys []models.APIKey) error {
	var result *multierror.Error
	for i := range projects {
		if err := db.UpsertProject(ctx, &projects[i]); err != nil {
			result = multierror.Append(result, fmt.Errorf("project %s: %w", projects[i].Slug, err))
		}
	}
	for i := range keys {
		if err := db.UpsertAPIKey(ctx, &keys[i]); err != nil {
			result = multierror.Append(result, fmt.Errorf("api key %s: %w", models.Prefix(keys[i].ID), err))
		}
	}
	return result.ErrorOrNil()
}
