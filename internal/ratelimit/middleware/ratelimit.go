package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports"
	"quotaguard/pkg/platform/circuit"
	"quotaguard/pkg/platform/httputil"
	"quotaguard/pkg/platform/privacy"
	"quotaguard/pkg/platform/sentinel"
	"quotaguard/pkg/requestcontext"
)

// storeUnavailableRetryAfter is suggested to clients when the limiter's
// store is down and the policy is fail-closed.
const storeUnavailableRetryAfter = 5 * time.Second

type Middleware struct {
	limiter   RateLimiter
	guard     *guardedLimiter
	throttle  Throttle
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	failOpen  bool
	disabled  bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFailOpen lets requests through when the limiter's store cannot answer
// and no fallback is serving. The default is to reject them with 503.
func WithFailOpen(failOpen bool) Option {
	return func(m *Middleware) {
		m.failOpen = failOpen
	}
}

// WithFallback routes checks to fallback while breaker is open.
func WithFallback(fallback RateLimiter, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		if fallback == nil {
			return
		}
		if breaker == nil {
			breaker = circuit.New("ratelimit")
		}
		m.guard = &guardedLimiter{fallback: fallback, breaker: breaker}
	}
}

// WithGlobalThrottle enables GlobalThrottle. Without it that middleware is a no-op.
func WithGlobalThrottle(t Throttle) Option {
	return func(m *Middleware) {
		m.throttle = t
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(m *Middleware) {
		m.publisher = publisher
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.guard != nil {
		m.guard.primary = limiter
		m.guard.logger = logger
		m.guard.publisher = m.publisher
		m.guard.metrics = m.metrics
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit charges every request to the named scopes, in order. Scope
// settings come from the limiter's config; a name nobody configured denies.
func (m *Middleware) RateLimit(names ...models.ScopeName) func(http.Handler) http.Handler {
	scopes := make([]models.Scope, len(names))
	for i, name := range names {
		scopes[i] = models.Scope{Name: name}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			result, degraded, err := m.enforce(ctx, models.RequestFromHTTP(r), scopes)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			// Add headers regardless of outcome
			addRateLimitHeaders(w, result)

			if err != nil {
				if te, ok := models.AsThrottle(err); ok {
					WriteThrottled(w, te)
					return
				}
				if !models.IsBackingStoreError(err) {
					httputil.WriteError(w, err)
					return
				}
				if m.failOpen {
					m.logger.WarnContext(ctx, "rate limiter unavailable, failing open",
						"error", err,
						"client", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
						"request_id", requestcontext.RequestID(ctx),
					)
					next.ServeHTTP(w, r)
					return
				}
				m.logger.ErrorContext(ctx, "rate limiter unavailable, failing closed",
					"error", fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err),
					"client", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeServiceUnavailable(w, storeUnavailableRetryAfter, "Rate limiting is temporarily unavailable. Please try again shortly.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GlobalThrottle returns middleware for per-instance overload protection.
// It should wrap everything else.
func (m *Middleware) GlobalThrottle() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.throttle == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, retry := m.throttle.Check(r.Context())
			if !allowed {
				writeServiceUnavailable(w, retry, "Service is temporarily overloaded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) enforce(ctx context.Context, req *models.Request, scopes []models.Scope) (*models.RateLimitResult, bool, error) {
	if m.guard != nil {
		return m.guard.enforce(ctx, req, scopes)
	}
	result, err := m.limiter.EnforceRate(ctx, req, scopes...)
	return result, false, err
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil || result.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// WriteThrottled writes the 429 for a quota or rate denial.
func WriteThrottled(w http.ResponseWriter, te *models.ThrottleError) {
	if secs := te.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, models.NewThrottledResponse(te))
}

func writeServiceUnavailable(w http.ResponseWriter, retry time.Duration, message string) {
	secs := max(int((retry+time.Second-1)/time.Second), 1)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.ServiceOverloadedResponse{
		Error:      "service_unavailable",
		Message:    message,
		RetryAfter: secs,
	})
}
