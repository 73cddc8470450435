package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mrmushfiq/image-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/image-gateway/internal/gateway/optimize"
	"github.com/mrmushfiq/image-gateway/internal/gateway/processor"
	"github.com/mrmushfiq/image-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/image-gateway/internal/gateway/signing"
	"github.com/mrmushfiq/image-gateway/internal/gateway/tasks"
	"github.com/mrmushfiq/image-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/image-gateway/internal/shared/database"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
	"github.com/mrmushfiq/image-gateway/internal/shared/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-token"

type stack struct {
	router   http.Handler
	db       *database.DB
	exec     *tasks.Executor
	projects *cache.ProjectCache
	engine   int
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	s := &stack{}

	db, err := database.New("sqlite", filepath.Join(t.TempDir(), "handlers_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	s.db = db

	require.NoError(t, db.Seed(ctx,
		[]models.ProjectConfig{
			{ID: "p1", Slug: "cats", TeamID: "t1", TeamSlug: "acme", AllowedSourceDomains: []string{"example.com"}},
			{ID: "p2", Slug: "signed", TeamID: "t1", TeamSlug: "acme", RequireSignedURLs: true},
		},
		[]models.APIKey{
			{ID: "pk_cats_000001", ProjectID: "p1", Secret: "s1", RateLimitPerMinute: 60, RateLimitPerDay: 10000, IsActive: true},
			{ID: "pk_signed_0001", ProjectID: "p2", Secret: "s2", IsActive: true},
		},
	))

	mr := miniredis.RunT(t)
	rdb, err := redis.New(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.engine++
		var req struct {
			Operations map[string]interface{} `json:"operations"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		format := "jpg"
		if f, ok := req.Operations["f"].(string); ok {
			format = f
		}
		w.Header().Set("X-Image-Format", format)
		_, _ = w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(engine.Close)

	exec, err := tasks.New(4, 256, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })
	s.exec = exec

	s.projects = cache.NewProjectCache(db, time.Minute)
	keys := cache.NewAPIKeyCache(db, time.Minute)
	limiter := ratelimit.New(rdb)

	svc := optimize.New(optimize.Deps{
		Projects:  s.projects,
		Keys:      keys,
		Limiter:   limiter,
		Processor: processor.NewHTTPClient(engine.URL, 5*time.Second),
		Recorder:  usage.NewRecorder(rdb, db, 30*time.Second),
		Logger:    usage.NewRequestLogger(db, 30, 0.01),
		Tasks:     exec,
	}, optimize.Config{DefaultPerMinute: 60, DefaultPerDay: 1000, StoreTimeout: time.Second, ProcessorTimeout: 5 * time.Second})

	s.router = NewRouter(RouterOptions{
		Optimize:   NewOptimizeHandler(svc),
		Admin:      NewAdminHandler(s.projects, keys, limiter, db),
		Middleware: NewMiddleware(adminToken),
	})
	return s
}

func (s *stack) get(t *testing.T, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	s := newStack(t)
	w := s.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestOptimizeEndToEnd(t *testing.T) {
	s := newStack(t)

	w := s.get(t, "/w_300,f_webp/example.com/cat.jpg?key=pk_cats_000001", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	assert.Equal(t, CacheControl, w.Header().Get("Cache-Control"))
	assert.Equal(t, "image-bytes", w.Body.String())
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))

	s.exec.Flush()
	logs, err := s.db.ListRequestLogs(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StatusSuccess, logs[0].Status)
	assert.Equal(t, "https://example.com/cat.jpg", logs[0].SourceURL)

	key, err := s.db.GetAPIKey(context.Background(), "pk_cats_000001")
	require.NoError(t, err)
	assert.NotNil(t, key.LastUsedAt, "usage recorder stamped the key")
}

func TestOptimizeJpgNormalizesToJpeg(t *testing.T) {
	s := newStack(t)
	w := s.get(t, "/w_10/example.com/cat.jpg", map[string]string{"X-Api-Key": "pk_cats_000001"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestOptimizeForbiddenAfterPolicyChange(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	w := s.get(t, "/w_300,f_webp/example.com/cat.jpg?key=pk_cats_000001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	p, err := s.db.GetProjectBySlug(ctx, "cats")
	require.NoError(t, err)
	p.AllowedSourceDomains = []string{"other.com"}
	require.NoError(t, s.db.UpsertProject(ctx, p))

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", strings.NewReader(`{"slug":"cats"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	aw := httptest.NewRecorder()
	s.router.ServeHTTP(aw, req)
	require.Equal(t, http.StatusOK, aw.Code)

	w = s.get(t, "/w_300,f_webp/example.com/cat.jpg?key=pk_cats_000001", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden_domain", decodeBody(t, w)["code"])
	assert.Equal(t, 1, s.engine, "rejected request never reaches the engine")
}

func TestOptimizeMalformedPath(t *testing.T) {
	s := newStack(t)
	w := s.get(t, "/w_300/?key=pk_cats_000001", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "malformed_path", body["code"])
	assert.NotEmpty(t, body["examples"])
}

func TestOptimizeUnknownKeyAndProject(t *testing.T) {
	s := newStack(t)

	w := s.get(t, "/_/example.com/a.png?key=nope", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.get(t, "/_/example.com/a.png", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.get(t, "/t/acme/dogs/_/example.com/a.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantRoute(t *testing.T) {
	s := newStack(t)

	w := s.get(t, "/t/acme/cats/f_png/https://example.com/a.png", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestSignedURL(t *testing.T) {
	s := newStack(t)

	w := s.get(t, "/w_300/example.com/cat.jpg?key=pk_signed_0001", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_signature", decodeBody(t, w)["code"])

	q := signing.Codec{}.SignQuery("s2", "/w_300/example.com/cat.jpg", time.Hour)
	q.Set("key", "pk_signed_0001")
	w = s.get(t, "/w_300/example.com/cat.jpg?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	expired := time.Now().Add(-time.Minute).Unix()
	sig := signing.Sign("s2", "/w_300/example.com/cat.jpg", &expired)
	w = s.get(t, "/w_300/example.com/cat.jpg?key=pk_signed_0001&exp="+strconv.FormatInt(expired, 10)+"&sig="+sig, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "expired_signature", decodeBody(t, w)["code"])
}

func TestRateLimit429(t *testing.T) {
	s := newStack(t)

	for i := 0; i < 60; i++ {
		w := s.get(t, "/_/example.com/a.png?key=pk_cats_000001", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := s.get(t, "/_/example.com/a.png?key=pk_cats_000001", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.Equal(t, "minute", decodeBody(t, w)["reason"])

	req := httptest.NewRequest(http.MethodPost, "/admin/ratelimit/reset", strings.NewReader(`{"scope":"key:pk_cats_000001"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	aw := httptest.NewRecorder()
	s.router.ServeHTTP(aw, req)
	require.Equal(t, http.StatusOK, aw.Code)

	w = s.get(t, "/_/example.com/a.png?key=pk_cats_000001", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(optimize.KindMalformedPath))
	assert.Equal(t, http.StatusForbidden, StatusFor(optimize.KindForbiddenDomain))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(optimize.KindRateLimited))
	assert.Equal(t, http.StatusNotFound, StatusFor(optimize.KindConfigNotFound))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(optimize.KindUpstream))
}

func TestAdminInvalidateAllWithChunkedEmptyBody(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	w := s.get(t, "/_/example.com/a.png?key=pk_cats_000001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	p, err := s.db.GetProjectBySlug(ctx, "cats")
	require.NoError(t, err)
	p.AllowedSourceDomains = []string{"other.com"}
	require.NoError(t, s.db.UpsertProject(ctx, p))

	// unknown length: ContentLength is -1 and the body is empty
	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", io.NopCloser(strings.NewReader("")))
	require.Equal(t, int64(-1), req.ContentLength)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	aw := httptest.NewRecorder()
	s.router.ServeHTTP(aw, req)
	require.Equal(t, http.StatusOK, aw.Code, aw.Body.String())

	w = s.get(t, "/_/example.com/a.png?key=pk_cats_000001", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminListRequestLogs(t *testing.T) {
	s := newStack(t)

	for i := 0; i < 3; i++ {
		w := s.get(t, "/_/example.com/a.png?key=pk_cats_000001&sig=ignored", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := s.get(t, "/_/forbidden.com/a.png?key=pk_cats_000001", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	s.exec.Flush()

	admin := func(target string) *httptest.ResponseRecorder {
		return s.get(t, target, map[string]string{"Authorization": "Bearer " + adminToken})
	}

	w = admin("/admin/projects/cats/logs?limit=2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Project string              `json:"project"`
		Logs    []models.RequestLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cats", body.Project)
	assert.Len(t, body.Logs, 2)

	w = admin("/admin/projects/cats/logs")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Logs, 4)
	statuses := map[models.RequestStatus]int{}
	for _, l := range body.Logs {
		statuses[l.Status]++
		assert.NotContains(t, l.SourceURL, "?")
	}
	assert.Equal(t, 3, statuses[models.StatusSuccess])
	assert.Equal(t, 1, statuses[models.StatusForbidden])

	w = admin("/admin/projects/signed/logs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"logs":[]`)

	assert.Equal(t, http.StatusNotFound, admin("/admin/projects/dogs/logs").Code)
	assert.Equal(t, http.StatusBadRequest, admin("/admin/projects/cats/logs?limit=zero").Code)
	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/admin/projects/cats/logs", nil).Code)
}

type unavailableStore struct{}

func (unavailableStore) GetBySlug(context.Context, string) (*models.ProjectConfig, error) {
	return nil, errors.New("pq: connection refused")
}

func (unavailableStore) GetByTeamAndSlug(context.Context, string, string) (*models.ProjectConfig, error) {
	return nil, errors.New("pq: connection refused")
}

func (unavailableStore) Get(context.Context, string) (*models.APIKey, error) {
	return nil, errors.New("pq: connection refused")
}

func TestOptimizeStoreUnavailableIs503(t *testing.T) {
	exec, err := tasks.New(1, 16, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	called := false
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(engine.Close)

	svc := optimize.New(optimize.Deps{
		Projects:  unavailableStore{},
		Keys:      unavailableStore{},
		Processor: processor.NewHTTPClient(engine.URL, time.Second),
		Tasks:     exec,
	}, optimize.Config{DefaultPerMinute: 60, DefaultPerDay: 1000, StoreTimeout: time.Second})

	router := NewRouter(RouterOptions{
		Optimize:   NewOptimizeHandler(svc),
		Middleware: NewMiddleware(""),
	})

	for _, target := range []string{
		"/_/example.com/a.png?key=pk_cats_000001",
		"/t/acme/cats/_/example.com/a.png",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "store_unavailable", body["code"])
		assert.NotContains(t, w.Body.String(), "pq:")
	}
	assert.False(t, called, "store failures never reach the engine")
}
