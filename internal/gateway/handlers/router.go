package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterOptions wires the HTTP surface.
type RouterOptions struct {
	Optimize       *OptimizeHandler
	Admin          *AdminHandler
	Middleware     *Middleware
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// NewRouter builds the chi router for the gateway
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	}
	r.Use(opts.Middleware.CORSMiddleware)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	if opts.Admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(opts.Middleware.AdminAuthMiddleware)

			r.Post("/cache/invalidate", opts.Admin.HandleInvalidate)
			r.Post("/ratelimit/reset", opts.Admin.HandleResetRateLimit)
			r.Get("/projects/{slug}/logs", opts.Admin.HandleListRequestLogs)
		})
	}

	r.Get("/t/{team}/{project}/{operations}/*", opts.Optimize.HandleTenantOptimize)
	r.Get("/{operations}/*", opts.Optimize.HandleOptimize)

	return r
}
