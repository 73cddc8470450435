package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mrmushfiq/image-gateway/internal/gateway/optimize"
	"github.com/mrmushfiq/image-gateway/internal/gateway/signing"
)

// CacheControl is sent with every transformed image. A URL always produces
// the same image, so responses can be cached forever.
const CacheControl = "public, max-age=31536000, immutable"

var usageExamples = []string{
	"/w_300/example.com/cat.jpg",
	"/w_300,f_webp/https://example.com/cat.jpg",
	"/_/example.com/cat.jpg",
}

type OptimizeHandler struct {
	svc *optimize.Service
}

func NewOptimizeHandler(svc *optimize.Service) *OptimizeHandler {
	return &OptimizeHandler{svc: svc}
}

// HandleOptimize handles GET /{operations}/*; the tenant comes from the API key
func (h *OptimizeHandler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, newRequest(r, r.URL.EscapedPath()))
}

// HandleTenantOptimize handles GET /t/{team}/{project}/{operations}/*
func (h *OptimizeHandler) HandleTenantOptimize(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	project := chi.URLParam(r, "project")

	// drop "/t/{team}/{project}" from the escaped path
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/t/")
	parts := strings.SplitN(rest, "/", 3)
	path := "/"
	if len(parts) == 3 {
		path += parts[2]
	}

	req := newRequest(r, path)
	req.TeamSlug = team
	req.ProjectSlug = project
	h.serve(w, r, req)
}

func newRequest(r *http.Request, path string) optimize.Request {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		key = r.Header.Get("X-Api-Key")
	}
	return optimize.Request{
		Path:      path,
		KeyID:     key,
		Expires:   q.Get(signing.ParamExpires),
		Signature: q.Get(signing.ParamSignature),
		Referer:   r.Referer(),
	}
}

func (h *OptimizeHandler) serve(w http.ResponseWriter, r *http.Request, req optimize.Request) {
	res, err := h.svc.Optimize(r.Context(), req)
	if err != nil {
		writeOptimizeError(w, err)
		return
	}

	if res.RateLimit.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.RateLimit.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.RateLimit.Remaining, 10))
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", CacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Image.Bytes)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Image.Bytes)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind optimize.Kind) int {
	switch kind {
	case optimize.KindMalformedPath:
		return http.StatusBadRequest
	case optimize.KindUnauthorized, optimize.KindInvalidSignature:
		return http.StatusUnauthorized
	case optimize.KindExpiredSignature, optimize.KindForbiddenDomain:
		return http.StatusForbidden
	case optimize.KindConfigNotFound:
		return http.StatusNotFound
	case optimize.KindRateLimited:
		return http.StatusTooManyRequests
	case optimize.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeOptimizeError(w http.ResponseWriter, err error) {
	var e *optimize.Error
	if !errors.As(err, &e) {
		log.Printf("optimize: unexpected error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "internal error",
			"code":  "internal",
		})
		return
	}

	if e.Err != nil && e.Kind != optimize.KindUpstream {
		log.Printf("optimize: %v", e)
	}

	body := map[string]interface{}{
		"error": e.Message,
		"code":  string(e.Kind),
	}
	switch e.Kind {
	case optimize.KindMalformedPath:
		body["usage"] = "/{operations}/{image_path}"
		body["examples"] = usageExamples
	case optimize.KindRateLimited:
		body["reason"] = e.Reason
		body["retry_after"] = e.RetryAfter
		w.Header().Set("Retry-After", strconv.FormatInt(e.RetryAfter, 10))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(e.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(e.Remaining, 10))
	case optimize.KindUpstream:
		body["original_path"] = e.OriginalPath
		body["resolved_path"] = e.ResolvedPath
	}

	writeJSON(w, StatusFor(e.Kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// usageError is returned by admin endpoints for bad input.
func usageError(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf(format, args...)})
}
