package models

import (
	"errors"
	"fmt"
	"time"

	dErrors "quotaguard/pkg/domain-errors"
)

var (
	// ErrQuotaExceeded matches denials of an entity (or platform) daily quota.
	ErrQuotaExceeded = dErrors.New(dErrors.CodeQuotaExceeded, "daily view quota exceeded")
	// ErrRateLimited matches denials of a scoped rate window.
	ErrRateLimited = dErrors.New(dErrors.CodeRateLimited, "rate limit exceeded")
	// ErrInvalidClientIdentity marks a resolution that fell back to an
	// unparseable connection address. It is logged, never returned to callers.
	ErrInvalidClientIdentity = errors.New("invalid client identity")
)

// ThrottleError is the structured denial returned by the enforcement facade.
// RetryAfter is only set for rate denials; a spent daily quota points at
// ResetAt and Hint instead.
type ThrottleError struct {
	Kind       error // ErrQuotaExceeded or ErrRateLimited
	Scope      string
	Limit      int
	RetryAfter *time.Duration
	ResetAt    time.Time
	Hint       string
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter == nil {
		return fmt.Sprintf("%s (scope=%s limit=%d reset_at=%s)", e.Kind.Error(), e.Scope, e.Limit, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (scope=%s limit=%d retry_after=%s)", e.Kind.Error(), e.Scope, e.Limit, *e.RetryAfter)
}

func (e *ThrottleError) Unwrap() error {
	return e.Kind
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds. Zero means no
// retry interval is known.
func (e *ThrottleError) RetryAfterSeconds() int {
	if e.RetryAfter == nil {
		return 0
	}
	return ceilSeconds(*e.RetryAfter)
}

// NewQuotaExceeded builds the denial for a spent daily quota.
func NewQuotaExceeded(level QuotaLevel, limit int, resetAt time.Time) *ThrottleError {
	return &ThrottleError{
		Kind:    ErrQuotaExceeded,
		Scope:   string(level),
		Limit:   limit,
		ResetAt: resetAt,
		Hint:    "Daily view limit reached. Try again tomorrow or sign in for unlimited access.",
	}
}

// NewRateLimited builds the denial for an exhausted rate window.
func NewRateLimited(result *RateLimitResult) *ThrottleError {
	retry := result.RetryAfter
	return &ThrottleError{
		Kind:       ErrRateLimited,
		Scope:      string(result.Scope),
		Limit:      result.Limit,
		RetryAfter: &retry,
		ResetAt:    result.ResetAt,
		Hint:       "Too many requests. Please slow down.",
	}
}

// AsThrottle unwraps a ThrottleError from err.
func AsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsBackingStoreError reports whether err means the event log or counter
// store could not answer. Callers decide whether to fail open or closed.
func IsBackingStoreError(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable)
}
