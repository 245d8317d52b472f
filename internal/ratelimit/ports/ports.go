// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"quotaguard/internal/ratelimit/clientip"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/pkg/attrs"
	id "quotaguard/pkg/domain"
	"quotaguard/pkg/platform/audit"
	"quotaguard/pkg/requestcontext"
)

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// EventStore is the append-only access event log.
// There is deliberately no delete operation; retention is handled outside the service.
type EventStore interface {
	// Record appends a single event. Events are never updated afterwards.
	Record(ctx context.Context, event *models.AccessEvent) error

	// CountFor counts events for (entity, client) on one day.
	CountFor(ctx context.Context, kind models.EntityKind, entityID, client string, day models.Day) (int, error)

	// CountForClient counts a client's events across all entities on one day.
	CountForClient(ctx context.Context, client string, day models.Day) (int, error)

	// Aggregate summarizes an entity's events over the inclusive day range.
	Aggregate(ctx context.Context, kind models.EntityKind, entityID string, from, to models.Day) (*models.EventAggregate, error)

	// DetachActor clears the actor reference on every event of a deleted
	// account and returns how many rows changed. Events themselves are kept.
	DetachActor(ctx context.Context, actor id.UserID) (int, error)
}

// WindowStore keeps fixed-window counters for rate limiting.
type WindowStore interface {
	// Increment atomically adds one to the window for key, creating it with
	// the given length if absent or expired. It returns the count after the
	// increment and when the window ends.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Count returns the current count without incrementing. Expired or
	// missing windows report zero.
	Count(ctx context.Context, key string) (count int, resetAt time.Time, err error)

	// Reset clears the window for key.
	Reset(ctx context.Context, key string) error
}

// IdentityResolver turns request headers and the connection address into a
// client identity. *clientip.Resolver is the production implementation.
type IdentityResolver interface {
	Resolve(h http.Header, remoteAddr string) clientip.Resolution
}

// ResolveClient resolves the caller's client identity. A fallback to an
// unparseable connection address is logged at debug and otherwise used as is.
func ResolveClient(ctx context.Context, logger *slog.Logger, resolver IdentityResolver, req *models.Request) clientip.Resolution {
	var (
		headers http.Header
		remote  string
	)
	if req != nil {
		headers, remote = req.Headers, req.RemoteAddr
	}
	res := resolver.Resolve(headers, remote)
	if !res.Valid && logger != nil {
		logger.DebugContext(ctx, "client identity fell back to unparseable address",
			"error", models.ErrInvalidClientIdentity,
			"remote_addr", res.IP,
		)
	}
	return res
}

// LogAudit is a shared helper for logging audit events across ratelimit services.
// It logs to both the structured logger and the audit publisher if available.
// Well-known attribute keys (subject, scope, reason, user_id) are copied onto the audit event.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, args ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}

	if logger != nil {
		logger.InfoContext(ctx, string(event), append(args, "event", string(event), "log_type", "audit")...)
	}

	if publisher == nil {
		return
	}
	ev := audit.Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		UserID:    requestcontext.UserID(ctx),
		Subject:   attrs.String(args, "subject"),
		Action:    string(event),
		Scope:     attrs.String(args, "scope"),
		Decision:  attrs.String(args, "decision"),
		Reason:    attrs.String(args, "reason"),
		RequestID: requestID,
		ActorID:   attrs.String(args, "actor_id"),
	}
	if err := publisher.Emit(ctx, ev); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
