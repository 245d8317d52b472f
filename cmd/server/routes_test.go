package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotaguard/internal/directory/store"
	jwttoken "quotaguard/internal/jwt_token"
	"quotaguard/internal/platform/config"
	"quotaguard/internal/platform/metrics"
	ratelimitmetrics "quotaguard/internal/ratelimit/metrics"
	"quotaguard/pkg/testutil"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.Server{
			JWTSigningKey: "test-signing-key",
			JWTIssuer:     "quotaguard",
			JWTAudience:   "quotaguard-api",
			AdminToken:    "admin-secret",
		},
		RateLimit: config.RateLimitConfig{
			WindowBackend:   "memory",
			EventLogBackend: "memory",
			QuotaTimezone:   "UTC",
		},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	a, err := buildApp(context.Background(), cfg, logger, &infra{}, ratelimitmetrics.New(reg))
	require.NoError(t, err)
	t.Cleanup(a.auditPublisher.Close)

	return newRouter(cfg, logger, a, reg, metrics.New(reg))
}

func get(router http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	testutil.Given(t, "the wired router with in-memory backends", func(t *testing.T) {
		testutil.When(t, "probing health", func(t *testing.T) {
			rec := get(router, "/healthz", "198.51.100.1:4000")

			testutil.Then(t, "it reports ok", func(t *testing.T) {
				assert.Equal(t, http.StatusOK, rec.Code)
				assert.Contains(t, rec.Body.String(), `"ok"`)
			})
		})

		testutil.When(t, "an anonymous client views a limited profile past its quota", func(t *testing.T) {
			var codes []int
			var last *httptest.ResponseRecorder
			for range 4 {
				last = get(router, "/v1/doctors/d-ada", "198.51.100.2:4000")
				codes = append(codes, last.Code)
			}

			testutil.Then(t, "the fourth view is throttled", func(t *testing.T) {
				assert.Equal(t, []int{200, 200, 200, 429}, codes)
				assert.NotEmpty(t, last.Header().Get("X-RateLimit-Limit"), "rate headers precede the quota check")
				assert.Empty(t, last.Header().Get("Retry-After"), "quota denials carry reset_at instead")
				testutil.AssertThrottled(t, last, "quota_exceeded", "")
			})

			testutil.Then(t, "a different client still gets through", func(t *testing.T) {
				rec := get(router, "/v1/doctors/d-ada", "198.51.100.3:4000")
				assert.Equal(t, http.StatusOK, rec.Code)
			})

			testutil.Then(t, "the quota lookup reports nothing left", func(t *testing.T) {
				rec := get(router, "/v1/doctors/d-ada/quota", "198.51.100.2:4000")
				require.Equal(t, http.StatusOK, rec.Code)
				testutil.AssertJSONContains(t, rec, "quota_remaining", float64(0))
			})
		})

		testutil.When(t, "reading analytics", func(t *testing.T) {
			testutil.Then(t, "anonymous callers are rejected", func(t *testing.T) {
				rec := get(router, "/v1/doctors/d-ada/quota/stats", "198.51.100.4:4000")
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			})

			testutil.Then(t, "the owner is served", func(t *testing.T) {
				token, err := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience).
					GenerateAccessToken(store.DemoOwnerID, time.Hour)
				require.NoError(t, err)

				req := httptest.NewRequest(http.MethodGet, "/v1/doctors/d-ada/quota/stats", nil)
				req.RemoteAddr = "198.51.100.4:4000"
				req.Header.Set("Authorization", "Bearer "+token)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusOK, rec.Code)
			})
		})

		testutil.When(t, "calling operator routes", func(t *testing.T) {
			testutil.Then(t, "a missing admin token is rejected", func(t *testing.T) {
				req := httptest.NewRequest(http.MethodDelete, "/admin/rate-limit/search/198.51.100.2", nil)
				req.RemoteAddr = "198.51.100.5:4000"
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			})

			testutil.Then(t, "the admin token resets a window", func(t *testing.T) {
				req := httptest.NewRequest(http.MethodDelete, "/admin/rate-limit/search/198.51.100.2", nil)
				req.RemoteAddr = "198.51.100.5:4000"
				req.Header.Set("X-Admin-Token", cfg.AdminToken)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusNoContent, rec.Code)
			})
		})

		testutil.When(t, "scraping metrics", func(t *testing.T) {
			rec := get(router, "/metrics", "198.51.100.6:4000")

			testutil.Then(t, "route metrics use chi patterns", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Contains(t, rec.Body.String(), `route="/v1/doctors/{id}"`)
			})
		})
	})
}

func TestBuildAppRejectsUnknownBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.RateLimit.WindowBackend = "etcd"
	_, err := buildApp(context.Background(), cfg, logger, &infra{}, ratelimitmetrics.New(prometheus.NewRegistry()))
	assert.ErrorContains(t, err, `unknown window backend "etcd"`)

	cfg = testConfig()
	cfg.RateLimit.QuotaTimezone = "Mars/Olympus"
	_, err = buildApp(context.Background(), cfg, logger, &infra{}, ratelimitmetrics.New(prometheus.NewRegistry()))
	assert.ErrorContains(t, err, "load quota timezone")
}

func TestHealthz(t *testing.T) {
	down := errors.New("connection refused")
	handler := healthz(map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return down },
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","failed":["redis"]}`, rec.Body.String())
}
