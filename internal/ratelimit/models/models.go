package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
)

// MaxClientAgentLength caps the stored User-Agent, counted in runes.
const MaxClientAgentLength = 255

// MaxClientIdentityLength matches the width of the stored client identity.
const MaxClientIdentityLength = 64

// maxActionLength bounds the free-form action tag.
const maxActionLength = 32

// EntityKind names the kind of directory entity a quota applies to.
type EntityKind string

const (
	EntityDoctor   EntityKind = "DOCTOR"
	EntityHospital EntityKind = "HOSPITAL"
)

// IsValid checks if the entity kind is one of the supported enum values.
func (k EntityKind) IsValid() bool {
	return k == EntityDoctor || k == EntityHospital
}

func (k EntityKind) String() string {
	return string(k)
}

// ParseEntityKind accepts the enum value case-insensitively.
func ParseEntityKind(s string) (EntityKind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "entity kind cannot be empty")
	}
	k := EntityKind(strings.ToUpper(s))
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid entity kind: must be 'DOCTOR' or 'HOSPITAL'")
	}
	return k, nil
}

// Entity is anything whose views are governed by an owner-defined daily quota.
// The quota subsystem never loads entities itself; callers pass them in.
type Entity interface {
	EntityID() string
	EntityKind() EntityKind
	// DailyLimit is the maximum number of anonymous views per client per day.
	// Zero means unlimited; negative values are treated as zero.
	DailyLimit() int
}

// Action tags what the client did with the entity.
type Action string

const (
	ActionView   Action = "view"
	ActionSearch Action = "search"
)

// AccessEvent is one append-only row of the event log.
type AccessEvent struct {
	ID             id.EventID `json:"id"`
	EntityKind     EntityKind `json:"entity_kind"`
	EntityID       string     `json:"entity_id"`
	ClientIdentity string     `json:"client_identity"`
	ClientAgent    string     `json:"client_agent"`
	ActorID        id.UserID  `json:"actor_id"` // nil for anonymous
	OccurredAt     time.Time  `json:"occurred_at"`
	EventDate      Day        `json:"event_date"`
	Action         Action     `json:"action"`
}

// Authenticated reports whether an account was attached to the event.
func (e *AccessEvent) Authenticated() bool {
	return !e.ActorID.IsNil()
}

// NewAccessEvent creates an AccessEvent with domain invariant validation.
// The event date is the calendar day of occurredAt in loc.
func NewAccessEvent(
	kind EntityKind,
	entityID string,
	clientIdentity string,
	clientAgent string,
	actor id.UserID,
	action Action,
	occurredAt time.Time,
	loc *time.Location,
) (*AccessEvent, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid entity kind")
	}
	if entityID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "entity id cannot be empty")
	}
	if clientIdentity == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client identity cannot be empty")
	}
	if utf8.RuneCountInString(clientIdentity) > MaxClientIdentityLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client identity too long")
	}
	if occurredAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "occurred_at cannot be zero")
	}
	if action == "" {
		action = ActionView
	}
	if len(action) > maxActionLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "action tag too long")
	}

	return &AccessEvent{
		ID:             id.NewEventID(),
		EntityKind:     kind,
		EntityID:       entityID,
		ClientIdentity: clientIdentity,
		ClientAgent:    TruncateAgent(clientAgent),
		ActorID:        actor,
		OccurredAt:     occurredAt.UTC(),
		EventDate:      DayOf(occurredAt, loc),
		Action:         action,
	}, nil
}

// TruncateAgent caps a User-Agent at MaxClientAgentLength runes without
// splitting a multi-byte character.
func TruncateAgent(agent string) string {
	if utf8.RuneCountInString(agent) <= MaxClientAgentLength {
		return agent
	}
	runes := []rune(agent)
	return string(runes[:MaxClientAgentLength])
}

// DayCount is the per-day slice of an aggregate.
type DayCount struct {
	Day           Day `json:"day"`
	Total         int `json:"total"`
	Authenticated int `json:"authenticated"`
	Anonymous     int `json:"anonymous"`
}

// EventAggregate is what the event log returns for an entity over a day range.
// ByDay only contains days that have events.
type EventAggregate struct {
	Total         int
	UniqueClients int
	Authenticated int
	Anonymous     int
	ByDay         map[Day]DayCount
}

// QuotaStats is the owner-facing analytics view of an entity.
type QuotaStats struct {
	EntityKind    EntityKind `json:"entity_kind"`
	EntityID      string     `json:"entity_id"`
	From          Day        `json:"from"`
	To            Day        `json:"to"`
	Total         int        `json:"total"`
	UniqueClients int        `json:"unique_clients"`
	Authenticated int        `json:"authenticated"`
	Anonymous     int        `json:"anonymous"`
	Daily         []DayCount `json:"daily"`
}

// QuotaLevel says which quota produced a decision.
type QuotaLevel string

const (
	QuotaLevelEntity   QuotaLevel = "entity"
	QuotaLevelPlatform QuotaLevel = "platform"
)

// QuotaResult represents the outcome of a daily quota check.
type QuotaResult struct {
	Allowed   bool       `json:"allowed"`
	Unlimited bool       `json:"unlimited"`
	Level     QuotaLevel `json:"level,omitempty"`
	Limit     int        `json:"limit"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	ResetAt   time.Time  `json:"reset_at"`
}

// QuotaStatus is the side-effect free view returned by Remaining. Level
// names the quota that binds first.
type QuotaStatus struct {
	Level     QuotaLevel `json:"level,omitempty"`
	Limit     int        `json:"limit"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	Unlimited bool       `json:"unlimited"`
	ResetAt   time.Time  `json:"reset_at"`
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Scope      ScopeName     `json:"scope"`
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"` // only set when not allowed
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for headers.
func (r *RateLimitResult) RetryAfterSeconds() int {
	return ceilSeconds(r.RetryAfter)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
