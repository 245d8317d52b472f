package models

import (
	"strconv"
	"strings"

	dErrors "quotaguard/pkg/domain-errors"
)

// DefaultStatsLookbackDays is used when the caller gives no window.
const DefaultStatsLookbackDays = 30

// MaxStatsLookbackDays bounds analytics scans.
const MaxStatsLookbackDays = 366

// ClampLookback applies the default and upper bound to a lookback window.
func ClampLookback(days int) int {
	if days <= 0 {
		return DefaultStatsLookbackDays
	}
	if days > MaxStatsLookbackDays {
		return MaxStatsLookbackDays
	}
	return days
}

// StatsQuery is the parsed form of ?days=N.
type StatsQuery struct {
	Days int
}

// ParseStatsQuery reads the optional lookback parameter.
func ParseStatsQuery(raw string) (*StatsQuery, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &StatsQuery{Days: DefaultStatsLookbackDays}, nil
	}
	if len(raw) > 4 {
		return nil, dErrors.New(dErrors.CodeValidation, "days must be between 1 and 366")
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > MaxStatsLookbackDays {
		return nil, dErrors.New(dErrors.CodeValidation, "days must be between 1 and 366")
	}
	return &StatsQuery{Days: days}, nil
}

// ResetRateLimitRequest identifies one window an operator wants cleared.
type ResetRateLimitRequest struct {
	Scope    ScopeName
	Kind     KeyKind
	Identity string
}

func (r *ResetRateLimitRequest) Normalize() {
	if r == nil {
		return
	}
	r.Scope = ScopeName(strings.TrimSpace(strings.ToLower(string(r.Scope))))
	r.Kind = KeyKind(strings.TrimSpace(strings.ToLower(string(r.Kind))))
	r.Identity = strings.TrimSpace(r.Identity)
}

// Follows validation order: Size -> Required -> Syntax.
func (r *ResetRateLimitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.Identity) > 255 {
		return dErrors.New(dErrors.CodeValidation, "identity must be 255 characters or less")
	}

	if r.Scope == "" {
		return dErrors.New(dErrors.CodeValidation, "scope is required")
	}
	if r.Identity == "" {
		return dErrors.New(dErrors.CodeValidation, "identity is required")
	}

	if r.Kind != KeyKindUser && r.Kind != KeyKindClient {
		return dErrors.New(dErrors.CodeValidation, "kind must be 'user' or 'client'")
	}

	return nil
}
