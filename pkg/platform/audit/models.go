package audit

import (
	"context"
	"time"

	id "quotaguard/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategorySecurity covers events relevant to abuse monitoring and forensics:
	// denials, spoofed identities, operator resets.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for operational visibility.
	// These can be sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"

	// CategoryCompliance covers events with data-protection significance,
	// such as detaching a deleted account from its access history.
	CategoryCompliance EventCategory = "compliance"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    id.UserID     `json:"user_id"`
	// Subject is the anonymized client identity or the entity involved.
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Scope     string `json:"scope,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// ActorID tracks who performed the action when different from UserID,
	// e.g. the operator resetting a window.
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	EventQuotaExceeded          AuditEvent = "quota_exceeded"
	EventPlatformQuotaExceeded  AuditEvent = "platform_quota_exceeded"
	EventRateLimitExceeded      AuditEvent = "rate_limit_exceeded"
	EventRateLimitConfigMissing AuditEvent = "rate_limit_config_missing"
	EventRateLimitReset         AuditEvent = "rate_limit_reset"
	EventGlobalThrottleExceeded AuditEvent = "global_throttle_exceeded"
	EventInvalidClientIdentity  AuditEvent = "invalid_client_identity"
	EventBackingStoreFailure    AuditEvent = "backing_store_failure"
	EventLimiterCircuitOpened   AuditEvent = "limiter_circuit_opened"
	EventLimiterCircuitClosed   AuditEvent = "limiter_circuit_closed"
	EventActorDetached          AuditEvent = "actor_detached"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventQuotaExceeded:          CategorySecurity,
	EventPlatformQuotaExceeded:  CategorySecurity,
	EventRateLimitExceeded:      CategorySecurity,
	EventRateLimitConfigMissing: CategorySecurity,
	EventRateLimitReset:         CategorySecurity,
	EventGlobalThrottleExceeded: CategorySecurity,
	EventInvalidClientIdentity:  CategorySecurity,

	EventBackingStoreFailure:  CategoryOperations,
	EventLimiterCircuitOpened: CategoryOperations,
	EventLimiterCircuitClosed: CategoryOperations,

	EventActorDetached: CategoryCompliance,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
