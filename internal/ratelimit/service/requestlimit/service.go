// Package requestlimit enforces scoped fixed-window rate limits.
package requestlimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quotaguard/internal/ratelimit/config"
	"quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports"
	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
	"quotaguard/pkg/platform/audit"
	"quotaguard/pkg/platform/privacy"
	"quotaguard/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
// This allows external packages to use these types without importing ports directly.
type (
	WindowStore    = ports.WindowStore
	AuditPublisher = ports.AuditPublisher
)

type Service struct {
	windows        WindowStore
	auditPublisher AuditPublisher
	logger         *slog.Logger
	config         *config.Config
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(windows WindowStore, opts ...Option) (*Service, error) {
	if windows == nil {
		return nil, errors.New("window store is required")
	}

	svc := &Service{
		windows: windows,
		config:  config.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Config returns the policy table the service was built with.
func (s *Service) Config() *config.Config {
	return s.config
}

// Scope looks up a configured scope by name.
func (s *Service) Scope(name models.ScopeName) (models.Scope, bool) {
	return s.config.GetScope(name)
}

// Allow charges one request to identity's window for scope. The attempt is
// counted even when it is denied, so hammering a closed window keeps it closed.
func (s *Service) Allow(ctx context.Context, scope models.Scope, identity models.Identity) (*models.RateLimitResult, error) {
	scope, ok := s.resolveScope(ctx, scope, identity)
	if !ok {
		return s.configMissing(ctx), nil
	}

	now := requestcontext.Now(ctx)
	key := models.NewWindowKey(scope, identity)
	count, resetAt, err := s.windows.Increment(ctx, key.String(), scope.Window)
	if err != nil {
		s.metrics.RecordStoreError("window")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check rate limit")
	}

	result := buildResult(scope, count, resetAt, now)
	s.metrics.RecordRateDecision(string(scope.Name), result.Allowed)
	if !result.Allowed {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitExceeded,
			"subject", logIdentity(key),
			"scope", string(scope.Name),
			"decision", "denied",
			"limit", scope.Limit,
			"window_seconds", int(scope.Window.Seconds()),
		)
	}
	return result, nil
}

// AllowAll checks scopes in order and stops at the first denial; scopes after
// it are not charged. When every scope allows, the most restrictive result
// is returned.
func (s *Service) AllowAll(ctx context.Context, scopes []models.Scope, identity models.Identity) (*models.RateLimitResult, error) {
	if len(scopes) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "at least one scope is required")
	}

	var strictest *models.RateLimitResult
	for _, scope := range scopes {
		res, err := s.Allow(ctx, scope, identity)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return res, nil
		}
		strictest = moreRestrictiveResult(strictest, res)
	}
	return strictest, nil
}

// Peek reports identity's standing in scope without charging it.
func (s *Service) Peek(ctx context.Context, scope models.Scope, identity models.Identity) (*models.RateLimitResult, error) {
	scope, ok := s.resolveScope(ctx, scope, identity)
	if !ok {
		return s.configMissing(ctx), nil
	}

	now := requestcontext.Now(ctx)
	key := models.NewWindowKey(scope, identity)
	count, resetAt, err := s.windows.Count(ctx, key.String())
	if err != nil {
		s.metrics.RecordStoreError("window")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read rate limit")
	}
	if resetAt.IsZero() {
		resetAt = now.Add(scope.Window)
	}

	result := &models.RateLimitResult{
		Scope:     scope.Name,
		Allowed:   count < scope.Limit,
		Limit:     scope.Limit,
		Remaining: max(scope.Limit-count, 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = retryAfter(resetAt, now, scope.Window)
	}
	return result, nil
}

// Reset clears one window. Used by operators to unblock a caller.
func (s *Service) Reset(ctx context.Context, scope models.Scope, identity models.Identity) error {
	key := models.NewWindowKey(scope, identity)
	if key.Identity == "" {
		return dErrors.New(dErrors.CodeBadRequest, "identity is required")
	}
	if err := s.windows.Reset(ctx, key.String()); err != nil {
		s.metrics.RecordStoreError("window")
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reset rate limit")
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitReset,
		"subject", logIdentity(key),
		"scope", string(scope.Name),
	)
	return nil
}

// ResetKey clears the window addressed by an admin request.
func (s *Service) ResetKey(ctx context.Context, req *models.ResetRateLimitRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}
	scope, ok := s.config.GetScope(req.Scope)
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "unknown rate limit scope")
	}
	identity := models.Identity{Client: req.Identity}
	if req.Kind == models.KeyKindUser {
		if scope.KeyBy == models.KeyByClient {
			return dErrors.New(dErrors.CodeValidation, "scope is keyed by client only")
		}
		userID, err := id.ParseUserID(req.Identity)
		if err != nil {
			return err
		}
		identity = models.Identity{UserID: userID}
	} else {
		// Client windows must be addressed even when the scope prefers users.
		scope.KeyBy = models.KeyByClient
	}
	return s.Reset(ctx, scope, identity)
}

// resolveScope re-reads the scope from config when the caller passed only a
// name, and validates the identity. ok is false for unknown scopes.
func (s *Service) resolveScope(ctx context.Context, scope models.Scope, identity models.Identity) (models.Scope, bool) {
	if scope.Limit > 0 && scope.Window > 0 {
		return scope, true
	}
	configured, ok := s.config.GetScope(scope.Name)
	if !ok {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitConfigMissing,
			"subject", logIdentity(models.NewWindowKey(scope, identity)),
			"scope", string(scope.Name),
			"decision", "denied",
		)
		return models.Scope{}, false
	}
	return configured, true
}

// configMissing is the default-deny result for a scope nobody configured.
func (s *Service) configMissing(ctx context.Context) *models.RateLimitResult {
	retry := s.config.ConfigMissingRetryAfter
	if retry <= 0 {
		retry = time.Minute
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      0,
		Remaining:  0,
		ResetAt:    requestcontext.Now(ctx).Add(retry),
		RetryAfter: retry,
	}
}

func buildResult(scope models.Scope, count int, resetAt, now time.Time) *models.RateLimitResult {
	result := &models.RateLimitResult{
		Scope:     scope.Name,
		Allowed:   count <= scope.Limit,
		Limit:     scope.Limit,
		Remaining: max(scope.Limit-count, 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = retryAfter(resetAt, now, scope.Window)
	}
	return result
}

// retryAfter is the time until the window ends, bounded to (0, window].
func retryAfter(resetAt, now time.Time, window time.Duration) time.Duration {
	d := resetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	if d > window {
		return window
	}
	return d
}

// moreRestrictiveResult returns the result with fewer remaining requests,
// or the earlier reset time if remaining counts are equal.
func moreRestrictiveResult(a, b *models.RateLimitResult) *models.RateLimitResult {
	if a == nil {
		return b
	}
	if a.Remaining < b.Remaining {
		return a
	}
	if b.Remaining < a.Remaining {
		return b
	}
	if a.ResetAt.Before(b.ResetAt) {
		return a
	}
	return b
}

// logIdentity keeps user ids and masks client addresses.
func logIdentity(key models.WindowKey) string {
	if key.Kind == models.KeyKindUser {
		return key.Identity
	}
	return privacy.AnonymizeIP(key.Identity)
}
