// Package checker is the enforcement facade: handlers hand it the raw request
// and get back either a result or a *models.ThrottleError.
package checker

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quotaguard/internal/ratelimit/clientip"
	"quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports"
	"quotaguard/internal/ratelimit/service/quota"
	"quotaguard/internal/ratelimit/service/requestlimit"
	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
)

const tracerName = "quotaguard/ratelimit"

// Service is a facade composing the quota engine and the rate limiter.
// Middleware and handlers depend on this unified interface.
type Service struct {
	requests *requestlimit.Service
	quotas   *quota.Service
	resolver ports.IdentityResolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithResolver overrides the resolver built from the rate limiter's config.
func WithResolver(r ports.IdentityResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithTracerProvider selects where facade spans go. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(
	requests *requestlimit.Service,
	quotas *quota.Service,
	opts ...Option,
) (*Service, error) {
	if requests == nil {
		return nil, errors.New("requests service is required")
	}
	if quotas == nil {
		return nil, errors.New("quotas service is required")
	}

	svc := &Service{
		requests: requests,
		quotas:   quotas,
		tracer:   otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.resolver == nil {
		svc.resolver = clientip.New(requests.Config().ResolverConfig())
	}

	return svc, nil
}

// EnforceEntityView applies the entity's daily quota to req. On allow the
// view has been recorded. On deny the error is a *models.ThrottleError
// matching models.ErrQuotaExceeded and nothing was recorded.
func (s *Service) EnforceEntityView(ctx context.Context, req *models.Request, entity models.Entity) (*models.QuotaResult, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.EnforceEntityView")
	defer span.End()
	if entity != nil {
		span.SetAttributes(
			attribute.String("entity.kind", string(entity.EntityKind())),
			attribute.String("entity.id", entity.EntityID()),
		)
	}
	span.SetAttributes(attribute.Bool("caller.authenticated", req.Authenticated()))

	result, err := s.quotas.CheckAndConsume(ctx, entity, req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("quota.allowed", result.Allowed),
		attribute.Bool("quota.unlimited", result.Unlimited),
	)
	if !result.Allowed {
		span.SetAttributes(attribute.String("quota.level", string(result.Level)))
		return result, models.NewQuotaExceeded(result.Level, result.Limit, result.ResetAt)
	}
	return result, nil
}

// EnforceRate charges req to every scope in order and stops at the first
// denial, which is returned as a *models.ThrottleError matching
// models.ErrRateLimited. The denied attempt still counts toward its window.
func (s *Service) EnforceRate(ctx context.Context, req *models.Request, scopes ...models.Scope) (*models.RateLimitResult, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.EnforceRate")
	defer span.End()

	if len(scopes) == 0 {
		err := dErrors.New(dErrors.CodeBadRequest, "at least one scope is required")
		recordError(span, err)
		return nil, err
	}
	names := make([]string, len(scopes))
	for i, sc := range scopes {
		names[i] = string(sc.Name)
	}
	span.SetAttributes(attribute.StringSlice("ratelimit.scopes", names))

	identity := s.Identity(ctx, req)
	result, err := s.requests.AllowAll(ctx, scopes, identity)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", result.Allowed),
		attribute.Int("ratelimit.remaining", result.Remaining),
	)
	if !result.Allowed {
		span.SetAttributes(attribute.String("ratelimit.denied_scope", string(result.Scope)))
		return result, models.NewRateLimited(result)
	}
	return result, nil
}

// Remaining is the read-only quota view for req on entity.
func (s *Service) Remaining(ctx context.Context, req *models.Request, entity models.Entity) (*models.QuotaStatus, error) {
	return s.quotas.Remaining(ctx, entity, req)
}

// Stats is the owner analytics view for an entity.
func (s *Service) Stats(ctx context.Context, kind models.EntityKind, entityID string, lookbackDays int) (*models.QuotaStats, error) {
	return s.quotas.Stats(ctx, kind, entityID, lookbackDays)
}

// ResetRateLimit clears one window on behalf of an operator.
func (s *Service) ResetRateLimit(ctx context.Context, req *models.ResetRateLimitRequest) error {
	return s.requests.ResetKey(ctx, req)
}

// ForgetActor detaches a deleted account from the views it made.
func (s *Service) ForgetActor(ctx context.Context, actor id.UserID) (int, error) {
	return s.quotas.ForgetActor(ctx, actor)
}

// Scope looks up a configured scope by name.
func (s *Service) Scope(name models.ScopeName) (models.Scope, bool) {
	return s.requests.Scope(name)
}

// Identity resolves who req should be charged to.
func (s *Service) Identity(ctx context.Context, req *models.Request) models.Identity {
	res := ports.ResolveClient(ctx, s.logger, s.resolver, req)
	if !res.Valid {
		s.metrics.IncrementIdentityFallbacks()
	}
	identity := models.Identity{Client: res.IP}
	if req != nil {
		identity.UserID = req.UserID
	}
	return identity
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}
