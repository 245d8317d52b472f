package domain

import (
	"github.com/google/uuid"

	dErrors "quotaguard/pkg/domain-errors"
)

// UserID identifies an authenticated account owned by the auth subsystem.
// The zero value means "anonymous".
type UserID uuid.UUID

// EventID identifies a single access event.
type EventID uuid.UUID

func (id UserID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is unset.
func (id UserID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// IsNil reports whether the id is unset.
func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewEventID returns a random event id.
func NewEventID() EventID { return EventID(uuid.New()) }

// ParseUserID parses an authenticated user id at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

// ParseEventID parses an access event id.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event_id")
	return EventID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field+" format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}
