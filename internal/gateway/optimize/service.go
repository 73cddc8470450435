// Package optimize decides whether an optimize request is served and, if so,
// hands it to the image processor.
//
// Checks run cheapest first: path parsing, tenant resolution, source and
// referer domains, signature, rate limit. Any rejection skips every later
// stage and never reaches the processor. Usage and audit writes are detached
// from the request and cannot change its outcome.
package optimize

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/gateway/domains"
	"github.com/mrmushfiq/image-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/image-gateway/internal/gateway/operations"
	"github.com/mrmushfiq/image-gateway/internal/gateway/processor"
	"github.com/mrmushfiq/image-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/image-gateway/internal/gateway/signing"
	"github.com/mrmushfiq/image-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
)

type Projects interface {
	GetBySlug(ctx context.Context, slug string) (*models.ProjectConfig, error)
	GetByTeamAndSlug(ctx context.Context, teamSlug, slug string) (*models.ProjectConfig, error)
}

type Keys interface {
	Get(ctx context.Context, keyID string) (*models.APIKey, error)
}

type Admission interface {
	Check(ctx context.Context, scope string, perMinute, perDay int64) (ratelimit.Decision, error)
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, keyID, tenantID string)
}

type AuditLog interface {
	Log(ctx context.Context, tenantID string, e usage.Entry) error
}

// Scheduler runs detached work; see tasks.Executor.
type Scheduler interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Projects  Projects
	Keys      Keys
	Limiter   Admission
	Processor processor.Processor
	Recorder  UsageRecorder
	Logger    AuditLog
	Tasks     Scheduler
}

// Config holds the limits and timeouts of a Service.
type Config struct {
	DefaultPerMinute int64
	DefaultPerDay    int64
	StoreTimeout     time.Duration
	ProcessorTimeout time.Duration
}

// Request is one optimize call. Path is the escaped "/{operations}/{image}"
// part of the URL. TeamSlug and ProjectSlug are set when the tenant is
// addressed in the URL rather than through the API key.
type Request struct {
	Path        string
	TeamSlug    string
	ProjectSlug string
	KeyID       string
	Expires     string
	Signature   string
	Referer     string
}

// Result is a served request.
type Result struct {
	Image       *processor.Result
	ContentType string
	RateLimit   ratelimit.Decision
}

type Service struct {
	deps  Deps
	cfg   Config
	codec signing.Codec
	now   func() time.Time
}

func New(deps Deps, cfg Config) *Service {
	return &Service{deps: deps, cfg: cfg, now: time.Now}
}

// WithClock replaces the clock used for signature expiry. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.codec = signing.Codec{Now: now}
	return s
}

// tenant is the resolved caller of a request.
type tenant struct {
	key     *models.APIKey
	project *models.ProjectConfig
}

func (t tenant) keyID() string {
	if t.key == nil {
		return ""
	}
	return t.key.ID
}

// Optimize runs the admission pipeline and, when admitted, the processor.
// Every failure is an *Error.
func (s *Service) Optimize(ctx context.Context, req Request) (*Result, error) {
	res, err := s.optimize(ctx, req)
	metrics.Decision(Outcome(err))
	return res, err
}

// Outcome labels the result of Optimize: "success" or the error kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return OutcomeInternal
}

func (s *Service) optimize(ctx context.Context, req Request) (*Result, error) {
	start := s.now()

	path, err := DecomposePath(req.Path)
	if err != nil {
		return nil, err
	}

	t, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	source := path.Source()
	if err := s.checkDomains(source, req.Referer, t.project); err != nil {
		s.audit(t, source, models.StatusForbidden, start, nil)
		return nil, err
	}

	if t.project.RequireSignedURLs {
		if err := s.checkSignature(path, req, t); err != nil {
			return nil, err
		}
	}

	decision, err := s.admit(ctx, t)
	if err != nil {
		s.audit(t, source, models.StatusRateLimited, start, nil)
		return nil, err
	}

	pctx, cancel := s.withTimeout(ctx, s.cfg.ProcessorTimeout)
	defer cancel()

	callStart := time.Now()
	image, perr := s.deps.Processor.Process(pctx, processor.Request{
		Operations: operations.Parse(path.Operations),
		Source:     source,
	})
	metrics.ProcessorLatency(time.Since(callStart).Seconds())
	if perr != nil {
		log.Printf("optimize: processor failed for project %s source %s: %v", t.project.Slug, usage.SanitizeURL(source), perr)
		s.audit(t, source, models.StatusError, start, nil)
		return nil, &Error{
			Kind:         KindUpstream,
			Message:      "image processing failed",
			OriginalPath: usage.SanitizeURL(path.Canonical()),
			ResolvedPath: usage.SanitizeURL(source),
			Err:          perr,
		}
	}

	s.audit(t, source, models.StatusSuccess, start, image)
	s.deps.Tasks.Go("record-usage", func(ctx context.Context) error {
		s.deps.Recorder.RecordUsage(ctx, t.keyID(), t.project.ID)
		return nil
	})
	return &Result{
		Image:       image,
		ContentType: processor.ContentType(image.Format),
		RateLimit:   decision,
	}, nil
}

func (s *Service) resolve(ctx context.Context, req Request) (tenant, error) {
	var t tenant

	sctx, cancel := s.withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if req.KeyID != "" {
		key, err := s.deps.Keys.Get(sctx, req.KeyID)
		if err != nil {
			return t, &Error{Kind: KindStoreUnavailable, Message: "could not load API key", Err: err}
		}
		if key == nil {
			return t, newError(KindUnauthorized, "invalid API key")
		}
		t.key = key
	}

	var (
		project *models.ProjectConfig
		err     error
	)
	switch {
	case req.ProjectSlug != "" && req.TeamSlug != "":
		project, err = s.deps.Projects.GetByTeamAndSlug(sctx, req.TeamSlug, req.ProjectSlug)
	case req.ProjectSlug != "":
		project, err = s.deps.Projects.GetBySlug(sctx, req.ProjectSlug)
	case t.key != nil:
		project, err = s.deps.Projects.GetBySlug(sctx, t.key.ProjectSlug)
	default:
		return t, newError(KindUnauthorized, "an API key is required")
	}
	if err != nil {
		return t, &Error{Kind: KindStoreUnavailable, Message: "could not load project", Err: err}
	}
	if project == nil {
		return t, newError(KindConfigNotFound, "project not found")
	}
	if t.key != nil && t.key.ProjectID != project.ID {
		return t, newError(KindUnauthorized, "API key does not belong to this project")
	}

	t.project = project
	return t, nil
}

func (s *Service) checkDomains(source, referer string, p *models.ProjectConfig) *Error {
	if !domains.AllowedURL(source, p.AllowedSourceDomains) {
		return newError(KindForbiddenDomain, "source domain is not allowed for this project")
	}
	if referer != "" && len(p.AllowedRefererDomains) > 0 && !domains.AllowedURL(referer, p.AllowedRefererDomains) {
		return newError(KindForbiddenDomain, "referer domain is not allowed for this project")
	}
	return nil
}

func (s *Service) checkSignature(path Path, req Request, t tenant) *Error {
	if t.key == nil {
		return newError(KindUnauthorized, "signed URLs require an API key")
	}
	if req.Signature == "" {
		return newError(KindInvalidSignature, "missing signature")
	}

	var exp *int64
	if req.Expires != "" {
		v, err := strconv.ParseInt(req.Expires, 10, 64)
		if err != nil {
			return newError(KindInvalidSignature, "invalid expiry")
		}
		if signing.Expired(v, s.now()) {
			return newError(KindExpiredSignature, "signature has expired")
		}
		exp = &v
	}

	if !s.codec.Verify(t.key.Secret, path.Canonical(), req.Signature, exp) {
		return newError(KindInvalidSignature, "invalid signature")
	}
	return nil
}

// admit applies the rate limit. Limiter failures are logged and the request
// is admitted.
func (s *Service) admit(ctx context.Context, t tenant) (ratelimit.Decision, error) {
	scope := "project:" + t.project.ID
	perMinute, perDay := s.cfg.DefaultPerMinute, s.cfg.DefaultPerDay
	if t.key != nil {
		scope = "key:" + t.key.ID
		if t.key.RateLimitPerMinute > 0 {
			perMinute = t.key.RateLimitPerMinute
		}
		if t.key.RateLimitPerDay > 0 {
			perDay = t.key.RateLimitPerDay
		}
	}

	sctx, cancel := s.withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	dec, err := s.deps.Limiter.Check(sctx, scope, perMinute, perDay)
	if err != nil {
		log.Printf("optimize: rate limiter unavailable for %s, admitting: %v", t.project.Slug, err)
		return ratelimit.Decision{Allowed: true, Remaining: -1}, nil
	}
	if !dec.Allowed {
		return dec, &Error{
			Kind:       KindRateLimited,
			Message:    "rate limit exceeded (" + string(dec.Reason) + ")",
			Reason:     string(dec.Reason),
			RetryAfter: dec.RetryAfter,
			Limit:      dec.Limit,
			Remaining:  dec.Remaining,
		}
	}
	return dec, nil
}

// audit schedules the request log write.
func (s *Service) audit(t tenant, source string, status models.RequestStatus, start time.Time, image *processor.Result) {
	elapsed := s.now().Sub(start).Milliseconds()
	entry := usage.Entry{
		SourceURL:        source,
		APIKeyID:         t.keyID(),
		Status:           status,
		ProcessingTimeMs: &elapsed,
	}
	if image != nil {
		optimized := int64(len(image.Bytes))
		entry.OptimizedSize = &optimized
		if image.OriginalSize > 0 {
			original := image.OriginalSize
			entry.OriginalSize = &original
		}
	}

	projectID := t.project.ID
	s.deps.Tasks.Go("request-log", func(ctx context.Context) error {
		return s.deps.Logger.Log(ctx, projectID, entry)
	})
}

func (s *Service) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
