package models

import "time"

// KeyPrefixLength is the number of leading characters of a public key id
// that are safe to display.
const KeyPrefixLength = 8

// APIKey identifies a caller. Secret is only used for URL signing and is never
// returned to clients.
type APIKey struct {
	ID                 string
	ProjectID          string
	ProjectSlug        string
	KeyPrefix          string
	Secret             string
	Name               string
	RateLimitPerMinute int64
	RateLimitPerDay    int64
	IsActive           bool
	LastUsedAt         *time.Time
	CreatedAt          time.Time
}

// Prefix returns the display-safe truncation of a public key id.
func Prefix(keyID string) string {
	if len(keyID) <= KeyPrefixLength {
		return keyID
	}
	return keyID[:KeyPrefixLength]
}

// ProjectConfig is the per-tenant gateway policy.
// A nil or empty domain list means every domain is allowed.
type ProjectConfig struct {
	ID                    string
	Slug                  string
	TeamID                string
	TeamSlug              string
	AllowedSourceDomains  []string
	AllowedRefererDomains []string
	RequireSignedURLs     bool
	LastActiveAt          *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RequestStatus is the outcome recorded for a request.
type RequestStatus string

const (
	StatusSuccess     RequestStatus = "success"
	StatusError       RequestStatus = "error"
	StatusForbidden   RequestStatus = "forbidden"
	StatusRateLimited RequestStatus = "rate_limited"
)

// RequestLog represents an audit entry. SourceURL never carries a query
// string or fragment.
type RequestLog struct {
	ID               string        `json:"id"`
	ProjectID        string        `json:"project_id"`
	APIKeyID         *string       `json:"api_key_id,omitempty"`
	SourceURL        string        `json:"source_url"`
	Status           RequestStatus `json:"status"`
	ProcessingTimeMs *int64        `json:"processing_time_ms,omitempty"`
	OriginalSize     *int64        `json:"original_size,omitempty"`
	OptimizedSize    *int64        `json:"optimized_size,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}
