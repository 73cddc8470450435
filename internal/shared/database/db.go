package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

var placeholder = regexp.MustCompile(`\$\d+`)

type DB struct {
	conn   *sql.DB
	driver string
}

// New creates a new database connection. driver is "postgres" or "sqlite".
func New(driver, databaseURL string) (*DB, error) {
	dsn := databaseURL
	if driver == "sqlite" {
		dsn = databaseURL + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// rebind rewrites $N placeholders for drivers that only understand "?".
// Queries must reference their arguments in order.
func (db *DB) rebind(query string) string {
	if db.driver != "sqlite" {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

// GetAPIKey retrieves an active API key by its public id
func (db *DB) GetAPIKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `
		SELECT k.id, k.project_id, p.slug, k.key_prefix, k.secret, k.name,
		       k.rate_limit_per_minute, k.rate_limit_per_day, k.is_active,
		       k.last_used_at, k.created_at
		FROM api_keys k
		JOIN projects p ON p.id = k.project_id
		WHERE k.id = $1 AND k.is_active = $2
	`

	var apiKey models.APIKey
	err := db.conn.QueryRowContext(ctx, db.rebind(query), keyID, true).Scan(
		&apiKey.ID,
		&apiKey.ProjectID,
		&apiKey.ProjectSlug,
		&apiKey.KeyPrefix,
		&apiKey.Secret,
		&apiKey.Name,
		&apiKey.RateLimitPerMinute,
		&apiKey.RateLimitPerDay,
		&apiKey.IsActive,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &apiKey, nil
}

const projectColumns = `
		SELECT id, slug, team_id, team_slug, allowed_source_domains,
		       allowed_referer_domains, require_signed_urls, last_active_at,
		       created_at, updated_at
		FROM projects
`

// GetProjectBySlug retrieves a project config by its slug
func (db *DB) GetProjectBySlug(ctx context.Context, slug string) (*models.ProjectConfig, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(projectColumns+`WHERE slug = $1`), slug)
	return scanProject(row)
}

// GetProjectByTeamAndSlug retrieves a project config addressed by team and project slug
func (db *DB) GetProjectByTeamAndSlug(ctx context.Context, teamSlug, slug string) (*models.ProjectConfig, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(projectColumns+`WHERE team_slug = $1 AND slug = $2`), teamSlug, slug)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*models.ProjectConfig, error) {
	var (
		p       models.ProjectConfig
		sources sql.NullString
		referer sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.TeamID,
		&p.TeamSlug,
		&sources,
		&referer,
		&p.RequireSignedURLs,
		&p.LastActiveAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if p.AllowedSourceDomains, err = decodeDomains(sources); err != nil {
		return nil, fmt.Errorf("project %s: allowed_source_domains: %w", p.Slug, err)
	}
	if p.AllowedRefererDomains, err = decodeDomains(referer); err != nil {
		return nil, fmt.Errorf("project %s: allowed_referer_domains: %w", p.Slug, err)
	}
	return &p, nil
}

// decodeDomains maps NULL or "" to nil, the allow-all sentinel.
func decodeDomains(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var domains []string
	if err := json.Unmarshal([]byte(v.String), &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

func encodeDomains(domains []string) (sql.NullString, error) {
	if len(domains) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(domains)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`
	_, err := db.conn.ExecContext(ctx, db.rebind(query), at.UTC(), apiKeyID)
	return err
}

// UpdateProjectLastActive updates the last_active_at timestamp
func (db *DB) UpdateProjectLastActive(ctx context.Context, projectID string, at time.Time) error {
	query := `UPDATE projects SET last_active_at = $1 WHERE id = $2`
	_, err := db.conn.ExecContext(ctx, db.rebind(query), at.UTC(), projectID)
	return err
}

// InsertRequestLog writes one audit row
func (db *DB) InsertRequestLog(ctx context.Context, log *models.RequestLog) error {
	query := `
		INSERT INTO request_logs (
			id, project_id, api_key_id, source_url, status,
			processing_time_ms, original_size, optimized_size, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx,
		db.rebind(query),
		log.ID,
		log.ProjectID,
		log.APIKeyID,
		log.SourceURL,
		string(log.Status),
		log.ProcessingTimeMs,
		log.OriginalSize,
		log.OptimizedSize,
		log.CreatedAt.UTC(),
	)

	return err
}

// DeleteRequestLogsBefore removes audit rows older than cutoff
func (db *DB) DeleteRequestLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM request_logs WHERE created_at < $1`), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRequestLogs returns the most recent audit rows for a project
func (db *DB) ListRequestLogs(ctx context.Context, projectID string, limit int) ([]models.RequestLog, error) {
	query := `
		SELECT id, project_id, api_key_id, source_url, status,
		       processing_time_ms, original_size, optimized_size, created_at
		FROM request_logs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var logs []models.RequestLog
	for rows.Next() {
		var (
			l      models.RequestLog
			status string
		)
		if err := rows.Scan(
			&l.ID,
			&l.ProjectID,
			&l.APIKeyID,
			&l.SourceURL,
			&status,
			&l.ProcessingTimeMs,
			&l.OriginalSize,
			&l.OptimizedSize,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		l.Status = models.RequestStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
