package eventlog

import (
	"context"
	"errors"
	"sync"

	"quotaguard/internal/ratelimit/models"
	id "quotaguard/pkg/domain"
)

// ErrNilEvent is returned when Record is called without an event.
var ErrNilEvent = errors.New("access event is required")

type entityKey struct {
	kind     models.EntityKind
	entityID string
}

type entityClientDayKey struct {
	entity entityKey
	client string
	day    models.Day
}

type clientDayKey struct {
	client string
	day    models.Day
}

// InMemoryStore is an append-only event log held in process memory.
// Suitable for tests and single-instance deployments; nothing survives a restart.
type InMemoryStore struct {
	mu sync.RWMutex

	byEntity    map[entityKey][]*models.AccessEvent
	entityCount map[entityClientDayKey]int
	clientCount map[clientDayKey]int
}

// NewInMemory creates an empty in-memory event log.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byEntity:    make(map[entityKey][]*models.AccessEvent),
		entityCount: make(map[entityClientDayKey]int),
		clientCount: make(map[clientDayKey]int),
	}
}

func (s *InMemoryStore) Record(_ context.Context, event *models.AccessEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	stored := *event

	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entityKey{kind: stored.EntityKind, entityID: stored.EntityID}
	s.byEntity[ek] = append(s.byEntity[ek], &stored)
	s.entityCount[entityClientDayKey{entity: ek, client: stored.ClientIdentity, day: stored.EventDate}]++
	s.clientCount[clientDayKey{client: stored.ClientIdentity, day: stored.EventDate}]++
	return nil
}

func (s *InMemoryStore) CountFor(_ context.Context, kind models.EntityKind, entityID, client string, day models.Day) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entityCount[entityClientDayKey{
		entity: entityKey{kind: kind, entityID: entityID},
		client: client,
		day:    day,
	}], nil
}

func (s *InMemoryStore) CountForClient(_ context.Context, client string, day models.Day) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCount[clientDayKey{client: client, day: day}], nil
}

func (s *InMemoryStore) Aggregate(_ context.Context, kind models.EntityKind, entityID string, from, to models.Day) (*models.EventAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := &models.EventAggregate{ByDay: make(map[models.Day]models.DayCount)}
	clients := make(map[string]struct{})
	for _, ev := range s.byEntity[entityKey{kind: kind, entityID: entityID}] {
		if ev.EventDate.Before(from) || to.Before(ev.EventDate) {
			continue
		}
		dc := agg.ByDay[ev.EventDate]
		dc.Day = ev.EventDate
		dc.Total++
		agg.Total++
		if ev.Authenticated() {
			dc.Authenticated++
			agg.Authenticated++
		} else {
			dc.Anonymous++
			agg.Anonymous++
		}
		agg.ByDay[ev.EventDate] = dc
		clients[ev.ClientIdentity] = struct{}{}
	}
	agg.UniqueClients = len(clients)
	return agg, nil
}

func (s *InMemoryStore) DetachActor(_ context.Context, actor id.UserID) (int, error) {
	if actor.IsNil() {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, events := range s.byEntity {
		for _, ev := range events {
			if ev.ActorID == actor {
				ev.ActorID = id.UserID{}
				n++
			}
		}
	}
	return n, nil
}

// Len returns the number of recorded events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, events := range s.byEntity {
		n += len(events)
	}
	return n
}
