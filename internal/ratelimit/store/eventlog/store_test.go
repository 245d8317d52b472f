package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"quotaguard/internal/platform/config"
	"quotaguard/internal/platform/database"
	"quotaguard/internal/ratelimit/models"
	"quotaguard/internal/ratelimit/ports"
	id "quotaguard/pkg/domain"
)

var baseTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// EventStoreSuite runs the same behaviour checks against every EventStore.
type EventStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) ports.EventStore
	store    ports.EventStore
	ctx      context.Context
}

func TestInMemoryEventStore(t *testing.T) {
	suite.Run(t, &EventStoreSuite{newStore: func(*testing.T) ports.EventStore {
		return NewInMemory()
	}})
}

func TestSQLiteEventStore(t *testing.T) {
	suite.Run(t, &EventStoreSuite{newStore: func(t *testing.T) ports.EventStore {
		return newSQLiteStore(t)
	}})
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	pool, err := database.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store := NewSQL(pool)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func (s *EventStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *EventStoreSuite) record(kind models.EntityKind, entityID, client string, actor id.UserID, at time.Time) {
	ev, err := models.NewAccessEvent(kind, entityID, client, "test-agent", actor, models.ActionView, at, time.UTC)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Record(s.ctx, ev))
}

func (s *EventStoreSuite) TestRecordRejectsNil() {
	s.ErrorIs(s.store.Record(s.ctx, nil), ErrNilEvent)
}

func (s *EventStoreSuite) TestCountFor() {
	day := models.DayOf(baseTime, time.UTC)

	s.Run("empty log counts zero", func() {
		n, err := s.store.CountFor(s.ctx, models.EntityDoctor, "doc-empty", "203.0.113.1", day)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("counts only matching entity client and day", func() {
		s.record(models.EntityDoctor, "doc-1", "203.0.113.1", id.UserID{}, baseTime)
		s.record(models.EntityDoctor, "doc-1", "203.0.113.1", id.UserID{}, baseTime.Add(time.Hour))
		s.record(models.EntityDoctor, "doc-1", "203.0.113.2", id.UserID{}, baseTime)
		s.record(models.EntityHospital, "doc-1", "203.0.113.1", id.UserID{}, baseTime)
		s.record(models.EntityDoctor, "doc-2", "203.0.113.1", id.UserID{}, baseTime)
		s.record(models.EntityDoctor, "doc-1", "203.0.113.1", id.UserID{}, baseTime.Add(24*time.Hour))

		n, err := s.store.CountFor(s.ctx, models.EntityDoctor, "doc-1", "203.0.113.1", day)
		s.Require().NoError(err)
		s.Equal(2, n)
	})
}

func (s *EventStoreSuite) TestCountForClient() {
	day := models.DayOf(baseTime, time.UTC)
	s.record(models.EntityDoctor, "doc-1", "198.51.100.7", id.UserID{}, baseTime)
	s.record(models.EntityHospital, "hosp-1", "198.51.100.7", id.UserID{}, baseTime)
	s.record(models.EntityDoctor, "doc-2", "198.51.100.7", id.UserID{}, baseTime.Add(-24*time.Hour))
	s.record(models.EntityDoctor, "doc-1", "198.51.100.8", id.UserID{}, baseTime)

	n, err := s.store.CountForClient(s.ctx, "198.51.100.7", day)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *EventStoreSuite) TestAggregate() {
	actor := id.UserID(uuid.New())
	d0 := baseTime
	d1 := baseTime.Add(24 * time.Hour)
	outside := baseTime.Add(5 * 24 * time.Hour)

	s.record(models.EntityDoctor, "doc-1", "203.0.113.1", id.UserID{}, d0)
	s.record(models.EntityDoctor, "doc-1", "203.0.113.2", actor, d0)
	s.record(models.EntityDoctor, "doc-1", "203.0.113.1", id.UserID{}, d1)
	s.record(models.EntityDoctor, "doc-1", "203.0.113.9", id.UserID{}, outside)
	s.record(models.EntityDoctor, "doc-2", "203.0.113.1", id.UserID{}, d0)

	from := models.DayOf(d0, time.UTC)
	to := models.DayOf(d1, time.UTC)
	agg, err := s.store.Aggregate(s.ctx, models.EntityDoctor, "doc-1", from, to)
	s.Require().NoError(err)

	s.Equal(3, agg.Total)
	s.Equal(2, agg.UniqueClients)
	s.Equal(1, agg.Authenticated)
	s.Equal(2, agg.Anonymous)
	s.Require().Len(agg.ByDay, 2)
	s.Equal(models.DayCount{Day: from, Total: 2, Authenticated: 1, Anonymous: 1}, agg.ByDay[from])
	s.Equal(models.DayCount{Day: to, Total: 1, Authenticated: 0, Anonymous: 1}, agg.ByDay[to])

	s.Run("empty range", func() {
		agg, err := s.store.Aggregate(s.ctx, models.EntityHospital, "none", from, to)
		s.Require().NoError(err)
		s.Zero(agg.Total)
		s.Zero(agg.UniqueClients)
		s.Empty(agg.ByDay)
	})
}

func (s *EventStoreSuite) TestDetachActor() {
	actor := id.UserID(uuid.New())
	other := id.UserID(uuid.New())
	day := models.DayOf(baseTime, time.UTC)

	s.record(models.EntityDoctor, "doc-1", "203.0.113.1", actor, baseTime)
	s.record(models.EntityHospital, "hosp-1", "203.0.113.1", actor, baseTime)
	s.record(models.EntityDoctor, "doc-1", "203.0.113.2", other, baseTime)

	n, err := s.store.DetachActor(s.ctx, actor)
	s.Require().NoError(err)
	s.Equal(2, n)

	s.Run("events are kept and counted as anonymous", func() {
		count, err := s.store.CountFor(s.ctx, models.EntityDoctor, "doc-1", "203.0.113.1", day)
		s.Require().NoError(err)
		s.Equal(1, count)

		agg, err := s.store.Aggregate(s.ctx, models.EntityDoctor, "doc-1", day, day)
		s.Require().NoError(err)
		s.Equal(2, agg.Total)
		s.Equal(1, agg.Authenticated)
		s.Equal(1, agg.Anonymous)
	})

	s.Run("second detach is a no-op", func() {
		n, err := s.store.DetachActor(s.ctx, actor)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("nil actor is ignored", func() {
		n, err := s.store.DetachActor(s.ctx, id.UserID{})
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *EventStoreSuite) TestConcurrentRecord() {
	const goroutines = 50
	day := models.DayOf(baseTime, time.UTC)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := models.NewAccessEvent(models.EntityDoctor, "doc-c", "203.0.113.50", "", id.UserID{}, models.ActionView, baseTime, time.UTC)
			if err != nil {
				return
			}
			_ = s.store.Record(s.ctx, ev)
		}()
	}
	wg.Wait()

	n, err := s.store.CountFor(s.ctx, models.EntityDoctor, "doc-c", "203.0.113.50", day)
	s.Require().NoError(err)
	s.Equal(goroutines, n)
}

func TestInMemoryStore_RecordCopiesEvent(t *testing.T) {
	store := NewInMemory()
	ev, err := models.NewAccessEvent(models.EntityDoctor, "doc-1", "203.0.113.1", "", id.UserID{}, models.ActionView, baseTime, time.UTC)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), ev))

	ev.EntityID = "mutated"
	n, err := store.CountFor(context.Background(), models.EntityDoctor, "doc-1", "203.0.113.1", models.DayOf(baseTime, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, store.Len())
}
