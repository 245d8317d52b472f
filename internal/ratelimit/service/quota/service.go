// Package quota enforces owner-defined daily view quotas on directory
// entities, backed by the append-only access event log.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quotaguard/internal/ratelimit/clientip"
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

// Type aliases for shared interfaces.
type (
	EventStore     = ports.EventStore
	AuditPublisher = ports.AuditPublisher
	Resolver       = ports.IdentityResolver
)

type Service struct {
	events         EventStore
	resolver       Resolver
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

// WithResolver overrides the client identity resolver built from config.
func WithResolver(r Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

func New(events EventStore, opts ...Option) (*Service, error) {
	if events == nil {
		return nil, errors.New("event store is required")
	}

	svc := &Service{
		events: events,
		config: config.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.resolver == nil {
		svc.resolver = clientip.New(svc.config.ResolverConfig())
	}

	return svc, nil
}

// CheckAndConsume decides whether req may view entity and, when allowed,
// appends the view to the event log. Denied views are not recorded.
//
// Authenticated callers and entities without a limit are always allowed.
// Anonymous callers get entity.DailyLimit() views per client identity per
// calendar day in the configured location.
func (s *Service) CheckAndConsume(ctx context.Context, entity models.Entity, req *models.Request) (*models.QuotaResult, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}
	if req == nil {
		req = &models.Request{}
	}

	now := requestcontext.Now(ctx)
	loc := s.config.Location()
	day := models.DayOf(now, loc)
	resetAt := day.Next(loc)
	client := ports.ResolveClient(ctx, s.logger, s.resolver, req).IP
	limit := max(entity.DailyLimit(), 0)

	if req.Authenticated() || limit == 0 {
		if err := s.record(ctx, entity, client, req, now); err != nil {
			return nil, err
		}
		s.metrics.RecordQuotaDecision(string(models.QuotaLevelEntity), true)
		return &models.QuotaResult{
			Allowed:   true,
			Unlimited: true,
			Level:     models.QuotaLevelEntity,
			Limit:     limit,
			ResetAt:   resetAt,
		}, nil
	}

	used, err := s.events.CountFor(ctx, entity.EntityKind(), entity.EntityID(), client, day)
	if err != nil {
		return nil, s.storeError(ctx, err, "failed to count entity views")
	}
	if used >= limit {
		s.metrics.RecordQuotaDecision(string(models.QuotaLevelEntity), false)
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventQuotaExceeded,
			"subject", privacy.AnonymizeIP(client),
			"scope", string(models.QuotaLevelEntity),
			"decision", "denied",
			"entity_kind", entity.EntityKind(),
			"entity_id", entity.EntityID(),
			"limit", limit,
			"used", used,
		)
		return &models.QuotaResult{
			Allowed: false,
			Level:   models.QuotaLevelEntity,
			Limit:   limit,
			Used:    used,
			ResetAt: resetAt,
		}, nil
	}

	if platformLimit := s.config.Quota.PlatformDailyLimit; platformLimit > 0 {
		total, err := s.events.CountForClient(ctx, client, day)
		if err != nil {
			return nil, s.storeError(ctx, err, "failed to count client views")
		}
		if total >= platformLimit {
			s.metrics.RecordQuotaDecision(string(models.QuotaLevelPlatform), false)
			ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventPlatformQuotaExceeded,
				"subject", privacy.AnonymizeIP(client),
				"scope", string(models.QuotaLevelPlatform),
				"decision", "denied",
				"limit", platformLimit,
				"used", total,
			)
			return &models.QuotaResult{
				Allowed: false,
				Level:   models.QuotaLevelPlatform,
				Limit:   platformLimit,
				Used:    total,
				ResetAt: resetAt,
			}, nil
		}
	}

	if err := s.record(ctx, entity, client, req, now); err != nil {
		return nil, err
	}
	s.metrics.RecordQuotaDecision(string(models.QuotaLevelEntity), true)
	return &models.QuotaResult{
		Allowed:   true,
		Level:     models.QuotaLevelEntity,
		Limit:     limit,
		Used:      used + 1,
		Remaining: limit - used - 1,
		ResetAt:   resetAt,
	}, nil
}

// Remaining reports the caller's quota for entity without recording anything.
func (s *Service) Remaining(ctx context.Context, entity models.Entity, req *models.Request) (*models.QuotaStatus, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}
	if req == nil {
		req = &models.Request{}
	}

	loc := s.config.Location()
	day := models.DayOf(requestcontext.Now(ctx), loc)
	resetAt := day.Next(loc)
	limit := max(entity.DailyLimit(), 0)

	if req.Authenticated() || limit == 0 {
		return &models.QuotaStatus{Limit: limit, Unlimited: true, ResetAt: resetAt}, nil
	}

	client := ports.ResolveClient(ctx, s.logger, s.resolver, req).IP
	used, err := s.events.CountFor(ctx, entity.EntityKind(), entity.EntityID(), client, day)
	if err != nil {
		return nil, s.storeError(ctx, err, "failed to count entity views")
	}
	status := &models.QuotaStatus{
		Level:     models.QuotaLevelEntity,
		Limit:     limit,
		Used:      used,
		Remaining: max(limit-used, 0),
		ResetAt:   resetAt,
	}

	if platformLimit := s.config.Quota.PlatformDailyLimit; platformLimit > 0 {
		total, err := s.events.CountForClient(ctx, client, day)
		if err != nil {
			return nil, s.storeError(ctx, err, "failed to count client views")
		}
		if left := max(platformLimit-total, 0); left < status.Remaining {
			status.Level = models.QuotaLevelPlatform
			status.Limit = platformLimit
			status.Used = total
			status.Remaining = left
		}
	}
	return status, nil
}

// Stats summarizes an entity's views over the last lookbackDays days,
// today included. Days without views appear with zero counts.
func (s *Service) Stats(ctx context.Context, kind models.EntityKind, entityID string, lookbackDays int) (*models.QuotaStats, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid entity kind")
	}
	if entityID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}

	days := models.ClampLookback(lookbackDays)
	to := models.DayOf(requestcontext.Now(ctx), s.config.Location())
	from := to.AddDays(-(days - 1))

	agg, err := s.events.Aggregate(ctx, kind, entityID, from, to)
	if err != nil {
		return nil, s.storeError(ctx, err, "failed to aggregate entity views")
	}

	daily := make([]models.DayCount, 0, days)
	for d := from; !to.Before(d); d = d.AddDays(1) {
		dc, ok := agg.ByDay[d]
		if !ok {
			dc = models.DayCount{Day: d}
		}
		daily = append(daily, dc)
	}

	return &models.QuotaStats{
		EntityKind:    kind,
		EntityID:      entityID,
		From:          from,
		To:            to,
		Total:         agg.Total,
		UniqueClients: agg.UniqueClients,
		Authenticated: agg.Authenticated,
		Anonymous:     agg.Anonymous,
		Daily:         daily,
	}, nil
}

// ForgetActor detaches a deleted account from its past views. The views
// stay in the log and count as anonymous from then on.
func (s *Service) ForgetActor(ctx context.Context, actor id.UserID) (int, error) {
	if actor.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "actor id is required")
	}
	n, err := s.events.DetachActor(ctx, actor)
	if err != nil {
		return 0, s.storeError(ctx, err, "failed to detach actor")
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventActorDetached,
		"actor_id", actor.String(),
		"events", n,
	)
	return n, nil
}

func (s *Service) record(ctx context.Context, entity models.Entity, client string, req *models.Request, now time.Time) error {
	event, err := models.NewAccessEvent(
		entity.EntityKind(),
		entity.EntityID(),
		client,
		req.UserAgent,
		req.UserID,
		models.ActionView,
		now,
		s.config.Location(),
	)
	if err != nil {
		return err
	}
	if err := s.events.Record(ctx, event); err != nil {
		return s.storeError(ctx, err, "failed to record entity view")
	}
	return nil
}

func (s *Service) storeError(ctx context.Context, err error, msg string) error {
	s.metrics.RecordStoreError("event_log")
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, "error", err)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
}

func validateEntity(entity models.Entity) error {
	if entity == nil {
		return dErrors.New(dErrors.CodeBadRequest, "entity is required")
	}
	if !entity.EntityKind().IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "invalid entity kind")
	}
	if entity.EntityID() == "" {
		return dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}
	return nil
}
