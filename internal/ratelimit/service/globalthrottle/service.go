// Package globalthrottle caps the total request rate one instance accepts,
// independent of who is calling.
package globalthrottle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"quotaguard/internal/ratelimit/metrics"
	"quotaguard/internal/ratelimit/ports"
	"quotaguard/pkg/platform/audit"
	"quotaguard/pkg/requestcontext"
)

type Service struct {
	limiter        *rate.Limiter
	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New builds a token bucket refilled at perSecond with room for burst.
// A burst below perSecond is raised to perSecond.
func New(perSecond, burst int, opts ...Option) (*Service, error) {
	if perSecond <= 0 {
		return nil, errors.New("global throttle rate must be positive")
	}
	burst = max(burst, perSecond)

	svc := &Service{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check takes one token. When none is available it returns false and how long
// until one will be.
func (s *Service) Check(ctx context.Context) (bool, time.Duration) {
	now := requestcontext.Now(ctx)
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)

	s.metrics.IncrementGlobalThrottled()
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventGlobalThrottleExceeded,
		"decision", "denied",
		"retry_after_ms", delay.Milliseconds(),
	)
	return false, delay
}
