package usage

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
)

// LogStore persists audit rows.
type LogStore interface {
	InsertRequestLog(ctx context.Context, log *models.RequestLog) error
	DeleteRequestLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Entry is one completed request as seen by the orchestrator.
type Entry struct {
	SourceURL        string
	APIKeyID         string
	Status           models.RequestStatus
	ProcessingTimeMs *int64
	OriginalSize     *int64
	OptimizedSize    *int64
}

// RequestLogger writes the audit trail. Cleanup is amortized over traffic:
// after each write a retention sweep runs with probability cleanupRate.
type RequestLogger struct {
	store       LogStore
	retention   time.Duration
	cleanupRate float64
	random      func() float64
	now         func() time.Time
}

func NewRequestLogger(store LogStore, retentionDays int, cleanupRate float64) *RequestLogger {
	return &RequestLogger{
		store:       store,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		cleanupRate: cleanupRate,
		random:      rand.Float64,
		now:         time.Now,
	}
}

// Log writes one row for tenantID.
func (l *RequestLogger) Log(ctx context.Context, tenantID string, e Entry) error {
	row := &models.RequestLog{
		ID:               uuid.NewString(),
		ProjectID:        tenantID,
		SourceURL:        SanitizeURL(e.SourceURL),
		Status:           e.Status,
		ProcessingTimeMs: e.ProcessingTimeMs,
		OriginalSize:     e.OriginalSize,
		OptimizedSize:    e.OptimizedSize,
		CreatedAt:        l.now().UTC(),
	}
	if e.APIKeyID != "" {
		keyID := e.APIKeyID
		row.APIKeyID = &keyID
	}

	if err := l.store.InsertRequestLog(ctx, row); err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}

	if l.cleanupRate > 0 && l.random() < l.cleanupRate {
		cutoff := l.now().Add(-l.retention)
		n, err := l.store.DeleteRequestLogsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("request log cleanup: %w", err)
		}
		if n > 0 {
			log.Printf("request log cleanup: removed %d rows older than %s", n, cutoff.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// SanitizeURL keeps scheme, host and path; query and fragment never reach
// the audit trail. Unparsable input is cut at the first '?' or '#'.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host + u.EscapedPath()
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}
