package middleware

import (
	"context"
	"errors"
	"log/slog"

	"quotaguard/internal/ratelimit/clientip"
	"quotaguard/internal/ratelimit/config"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports"
	"quotaguard/internal/ratelimit/service/requestlimit"
	"quotaguard/internal/ratelimit/store/bucket"
)

// fallbackLimiter provides in-memory rate limiting when the primary limiter is unavailable.
// Windows are local to this instance, so limits are per instance while the circuit is open.
type fallbackLimiter struct {
	requests *requestlimit.Service
	resolver ports.IdentityResolver
	logger   *slog.Logger
}

// NewFallbackLimiter creates a fallback rate limiter over an in-memory window
// store using the same scope table as the primary.
func NewFallbackLimiter(cfg *config.Config, logger *slog.Logger, opts ...bucket.Option) (RateLimiter, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	requests, err := requestlimit.New(
		bucket.New(opts...),
		requestlimit.WithLogger(logger),
		requestlimit.WithConfig(cfg),
	)
	if err != nil {
		return nil, err
	}
	return &fallbackLimiter{
		requests: requests,
		resolver: clientip.New(cfg.ResolverConfig()),
		logger:   logger,
	}, nil
}

func (f *fallbackLimiter) EnforceRate(ctx context.Context, req *models.Request, scopes ...models.Scope) (*models.RateLimitResult, error) {
	res := ports.ResolveClient(ctx, f.logger, f.resolver, req)
	identity := models.Identity{Client: res.IP}
	if req != nil {
		identity.UserID = req.UserID
	}

	result, err := f.requests.AllowAll(ctx, scopes, identity)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, models.NewRateLimited(result)
	}
	return result, nil
}
