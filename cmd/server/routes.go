package main

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	dirhandler "quotaguard/internal/directory/handler"
	jwttoken "quotaguard/internal/jwt_token"
	"quotaguard/internal/platform/config"
	"quotaguard/internal/platform/metrics"
	"quotaguard/internal/ratelimit/clientip"
	quotahandler "quotaguard/internal/ratelimit/handler"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/pkg/platform/httputil"
	adminmw "quotaguard/pkg/platform/middleware/admin"
	authmw "quotaguard/pkg/platform/middleware/auth"
	"quotaguard/pkg/platform/middleware/metadata"
	"quotaguard/pkg/platform/middleware/request"
	"quotaguard/pkg/platform/middleware/requesttime"
)

func newRouter(cfg config.Config, log *slog.Logger, a *app, gatherer prometheus.Gatherer, httpMetrics *metrics.Metrics) http.Handler {
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	validator := jwttoken.NewJWTServiceAdapter(jwtService)
	resolver := clientip.New(a.rateLimits.ResolverConfig())

	quotas := quotahandler.New(a.facade, a.directory, log)
	directory := dirhandler.New(a.directory, a.facade, log)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(a.limiter.GlobalThrottle())
	r.Use(metadata.ClientMetadata(resolver))
	r.Use(observeRequests(httpMetrics))

	r.Get("/healthz", healthz(a.health))
	r.Handle("/metrics", metrics.Handler(gatherer))

	r.Group(func(r chi.Router) {
		r.Use(authmw.OptionalAuth(validator, log))
		r.Use(a.limiter.RateLimit(models.ScopeBurst, models.ScopeSustained))
		directory.Register(r, a.limiter.RateLimit(models.ScopeSearch))
		quotas.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, log))
		r.Use(a.limiter.RateLimit(models.ScopeBurst))
		quotas.RegisterOwner(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.RateLimit(models.ScopeAuth))
		r.Use(adminmw.RequireAdminToken(cfg.AdminToken, log))
		quotas.RegisterAdmin(r)
	})

	return r
}

// observeRequests records latency and status per chi route pattern so
// path parameters do not explode label cardinality.
func observeRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, status, time.Since(start).Seconds())
		})
	}
}

const healthTimeout = 2 * time.Second

// healthz reports 503 naming every backend whose probe failed.
func healthz(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		failed := make([]string, 0, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed = append(failed, name)
			}
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
