// Package kafka streams audit events to a broker topic as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "quotaguard/pkg/platform/audit"
)

// Producer writes one keyed record. *kafka.Producer from the platform
// package is the production implementation.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// Store implements the publisher's sink over a Kafka producer.
type Store struct {
	producer Producer
}

func New(producer Producer) (*Store, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	return &Store{producer: producer}, nil
}

// Payload is the JSON record published per event. Consumers decode into
// this type.
type Payload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Scope     string `json:"scope,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}

// Append publishes event. Records are keyed by subject so one client's
// denials stay ordered on a partition.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	// Always derive category from action - eventCategories map is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := Payload{
		ID:        uuid.NewString(),
		Category:  string(category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		Scope:     event.Scope,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
	}
	if !event.UserID.IsNil() {
		payload.UserID = event.UserID.String()
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	key := event.Subject
	if key == "" {
		key = event.Action
	}
	if err := s.producer.Produce(ctx, []byte(key), value); err != nil {
		return fmt.Errorf("publish audit event %s: %w", event.Action, err)
	}
	return nil
}
