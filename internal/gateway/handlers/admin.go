package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

type ProjectAdmin interface {
	GetBySlug(ctx context.Context, slug string) (*models.ProjectConfig, error)
	Invalidate(slug string)
	InvalidateAll()
}

type KeyInvalidator interface {
	InvalidateAll()
}

type LimitResetter interface {
	Reset(ctx context.Context, scope string) error
}

type RequestLogLister interface {
	ListRequestLogs(ctx context.Context, projectID string, limit int) ([]models.RequestLog, error)
}

// AdminHandler serves the endpoints the dashboard calls after it changes
// project policy, so the change is visible before the cache TTL runs out.
type AdminHandler struct {
	projects ProjectAdmin
	keys     KeyInvalidator
	limiter  LimitResetter
	logs     RequestLogLister
}

func NewAdminHandler(projects ProjectAdmin, keys KeyInvalidator, limiter LimitResetter, logs RequestLogLister) *AdminHandler {
	return &AdminHandler{projects: projects, keys: keys, limiter: limiter, logs: logs}
}

// decodeOptional decodes a JSON body. An absent or empty body leaves v as is.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// HandleInvalidate handles POST /admin/cache/invalidate. An empty slug drops
// every cached project and key.
func (h *AdminHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
	}
	if err := decodeOptional(r, &req); err != nil {
		usageError(w, "invalid request body")
		return
	}

	if req.Slug == "" {
		h.projects.InvalidateAll()
		h.keys.InvalidateAll()
		log.Println("admin: invalidated all cached projects and keys")
	} else {
		h.projects.Invalidate(req.Slug)
		log.Printf("admin: invalidated project %s", req.Slug)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleResetRateLimit handles POST /admin/ratelimit/reset
func (h *AdminHandler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := decodeOptional(r, &req); err != nil || req.Scope == "" {
		usageError(w, "body must be {\"scope\": \"key:<id>\" | \"project:<id>\"}")
		return
	}

	if err := h.limiter.Reset(r.Context(), req.Scope); err != nil {
		log.Printf("admin: rate limit reset %s failed: %v", req.Scope, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "rate limit store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListRequestLogs handles GET /admin/projects/{slug}/logs?limit=N and
// returns the newest audit rows first.
func (h *AdminHandler) HandleListRequestLogs(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			usageError(w, "limit must be a positive integer")
			return
		}
		if n > maxLogLimit {
			n = maxLogLimit
		}
		limit = n
	}

	project, err := h.projects.GetBySlug(r.Context(), slug)
	if err != nil {
		log.Printf("admin: loading project %s failed: %v", slug, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config store unavailable"})
		return
	}
	if project == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}

	logs, err := h.logs.ListRequestLogs(r.Context(), project.ID, limit)
	if err != nil {
		log.Printf("admin: listing request logs for %s failed: %v", slug, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request log store unavailable"})
		return
	}
	if logs == nil {
		logs = []models.RequestLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": project.Slug,
		"logs":    logs,
	})
}
