package middleware

import (
	"context"
	"log/slog"

	"quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports"
	"quotaguard/pkg/platform/audit"
	"quotaguard/pkg/platform/circuit"
)

// guardedLimiter tracks backing-store failures of the primary limiter:
//   - Open the circuit after N consecutive store errors; while open, the
//     in-memory fallback answers and responses carry X-RateLimit-Status: degraded.
//   - The primary is still probed on every request while open.
//   - Close after M consecutive successful primary checks.
//
// Throttle denials from the primary count as successes.
type guardedLimiter struct {
	primary   RateLimiter
	fallback  RateLimiter
	breaker   *circuit.Breaker
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
}

func (g *guardedLimiter) enforce(ctx context.Context, req *models.Request, scopes []models.Scope) (result *models.RateLimitResult, degraded bool, err error) {
	result, err = g.primary.EnforceRate(ctx, req, scopes...)
	if err == nil || !models.IsBackingStoreError(err) {
		usePrimary, change := g.breaker.RecordSuccess()
		if change.Closed {
			g.metrics.SetCircuitOpen(g.breaker.Name(), false)
			ports.LogAudit(ctx, g.logger, g.publisher, audit.EventLimiterCircuitClosed,
				"subject", g.breaker.Name(),
			)
		}
		if usePrimary {
			return result, false, err
		}
	} else {
		useFallback, change := g.breaker.RecordFailure()
		if change.Opened {
			g.metrics.SetCircuitOpen(g.breaker.Name(), true)
			ports.LogAudit(ctx, g.logger, g.publisher, audit.EventLimiterCircuitOpened,
				"subject", g.breaker.Name(),
				"reason", err.Error(),
			)
		}
		if !useFallback {
			return nil, false, err
		}
	}

	result, err = g.fallback.EnforceRate(ctx, req, scopes...)
	return result, true, err
}
