package optimize

import "fmt"

// Kind classifies why a request was not served.
type Kind string

const (
	KindMalformedPath    Kind = "malformed_path"
	KindUnauthorized     Kind = "unauthorized"
	KindConfigNotFound   Kind = "config_not_found"
	KindForbiddenDomain  Kind = "forbidden_domain"
	KindInvalidSignature Kind = "invalid_signature"
	KindExpiredSignature Kind = "expired_signature"
	KindRateLimited      Kind = "rate_limited"
	KindStoreUnavailable Kind = "store_unavailable"
	KindUpstream         Kind = "upstream_processing_failure"
)

// Outcome labels besides the error kinds.
const (
	OutcomeSuccess  = "success"
	OutcomeInternal = "internal"
)

// Error is a rejected or failed optimize request. Message is safe to show to
// clients; Err is for server-side logs only.
type Error struct {
	Kind    Kind
	Message string

	// RateLimited
	Reason     string
	RetryAfter int64
	Limit      int64
	Remaining  int64

	// Upstream
	OriginalPath string
	ResolvedPath string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}
