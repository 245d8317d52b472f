package models

import "time"

// ThrottledResponse is the 429 body for both quota and rate denials.
type ThrottledResponse struct {
	Error      string    `json:"error"` // "quota_exceeded" or "rate_limit_exceeded"
	Message    string    `json:"message"`
	Scope      string    `json:"scope"`
	Limit      int       `json:"limit"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, rate denials only
	ResetAt    time.Time `json:"reset_at"`
}

// NewThrottledResponse renders a ThrottleError for clients.
func NewThrottledResponse(te *ThrottleError) *ThrottledResponse {
	code := "rate_limit_exceeded"
	if te.Kind == ErrQuotaExceeded {
		code = "quota_exceeded"
	}
	return &ThrottledResponse{
		Error:      code,
		Message:    te.Hint,
		Scope:      te.Scope,
		Limit:      te.Limit,
		RetryAfter: te.RetryAfterSeconds(),
		ResetAt:    te.ResetAt,
	}
}

// QuotaResponse is the API response for a remaining-quota lookup.
type QuotaResponse struct {
	EntityKind     EntityKind `json:"entity_kind"`
	EntityID       string     `json:"entity_id"`
	Unlimited      bool       `json:"unlimited"`
	QuotaLevel     QuotaLevel `json:"quota_level,omitempty"`
	QuotaLimit     int        `json:"quota_limit"`
	QuotaUsed      int        `json:"quota_used"`
	QuotaRemaining int        `json:"quota_remaining"`
	QuotaReset     time.Time  `json:"quota_reset"`
}

// ServiceOverloadedResponse is the API response when global throttle is hit
// or a backing store is down under a fail-closed policy.
type ServiceOverloadedResponse struct {
	Error      string `json:"error"` // "service_unavailable"
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
