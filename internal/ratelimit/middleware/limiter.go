package middleware

import (
	"context"
	"time"

	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/service/checker"
	"quotaguard/internal/ratelimit/service/globalthrottle"
)

// RateLimiter charges a request to one or more scopes. A denial is returned
// as a *models.ThrottleError alongside the result.
type RateLimiter interface {
	EnforceRate(ctx context.Context, req *models.Request, scopes ...models.Scope) (*models.RateLimitResult, error)
}

// Throttle is the per-instance admission check that runs before any scope.
type Throttle interface {
	Check(ctx context.Context) (bool, time.Duration)
}

var (
	_ RateLimiter = (*checker.Service)(nil)
	_ Throttle    = (*globalthrottle.Service)(nil)
)
