package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"quotaguard/internal/platform/database"
	"quotaguard/internal/ratelimit/models"
	id "quotaguard/pkg/domain"
	"quotaguard/pkg/platform/tx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS access_events (
	id              UUID PRIMARY KEY,
	entity_kind     VARCHAR(16)  NOT NULL,
	entity_id       VARCHAR(128) NOT NULL,
	client_identity VARCHAR(64)  NOT NULL,
	client_agent    VARCHAR(255) NOT NULL DEFAULT '',
	actor_id        UUID NULL,
	occurred_at     TIMESTAMPTZ  NOT NULL,
	event_date      VARCHAR(10)  NOT NULL,
	action          VARCHAR(32)  NOT NULL DEFAULT 'view'
);
CREATE INDEX IF NOT EXISTS idx_access_events_entity_day ON access_events (entity_kind, entity_id, event_date);
CREATE INDEX IF NOT EXISTS idx_access_events_client_day ON access_events (client_identity, event_date);
CREATE INDEX IF NOT EXISTS idx_access_events_actor ON access_events (actor_id) WHERE actor_id IS NOT NULL;
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS access_events (
	id              TEXT PRIMARY KEY,
	entity_kind     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	client_identity TEXT NOT NULL,
	client_agent    TEXT NOT NULL DEFAULT '',
	actor_id        TEXT NULL,
	occurred_at     TIMESTAMP NOT NULL,
	event_date      TEXT NOT NULL,
	action          TEXT NOT NULL DEFAULT 'view'
);
CREATE INDEX IF NOT EXISTS idx_access_events_entity_day ON access_events (entity_kind, entity_id, event_date);
CREATE INDEX IF NOT EXISTS idx_access_events_client_day ON access_events (client_identity, event_date);
CREATE INDEX IF NOT EXISTS idx_access_events_actor ON access_events (actor_id);
`

const (
	insertEventSQL = `INSERT INTO access_events
	(id, entity_kind, entity_id, client_identity, client_agent, actor_id, occurred_at, event_date, action)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	countForSQL = `SELECT COUNT(*) FROM access_events
	WHERE entity_kind = ? AND entity_id = ? AND client_identity = ? AND event_date = ?`

	countForClientSQL = `SELECT COUNT(*) FROM access_events
	WHERE client_identity = ? AND event_date = ?`

	aggregateByDaySQL = `SELECT event_date, COUNT(*), COUNT(actor_id) FROM access_events
	WHERE entity_kind = ? AND entity_id = ? AND event_date >= ? AND event_date <= ?
	GROUP BY event_date`

	uniqueClientsSQL = `SELECT COUNT(DISTINCT client_identity) FROM access_events
	WHERE entity_kind = ? AND entity_id = ? AND event_date >= ? AND event_date <= ?`

	detachActorSQL = `UPDATE access_events SET actor_id = NULL WHERE actor_id = ?`
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore persists the event log in PostgreSQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQL constructs a SQL-backed event log over an open pool.
func NewSQL(pool *database.Pool) *SQLStore {
	return &SQLStore{db: pool.DB, dialect: pool.Dialect}
}

// Migrate creates the access_events table and its indexes if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == database.DialectSQLite {
		schema = sqliteSchema
	}
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.q(ctx).ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate access_events: %w", err)
			}
		}
		return nil
	})
}

// q returns the ambient transaction when one is in context.
func (s *SQLStore) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *SQLStore) Record(ctx context.Context, event *models.AccessEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	_, err := s.q(ctx).ExecContext(ctx, s.dialect.Rebind(insertEventSQL),
		event.ID.String(),
		string(event.EntityKind),
		event.EntityID,
		event.ClientIdentity,
		models.TruncateAgent(event.ClientAgent),
		nullActor(event.ActorID),
		event.OccurredAt.UTC(),
		string(event.EventDate),
		string(event.Action),
	)
	if err != nil {
		return fmt.Errorf("record access event: %w", err)
	}
	return nil
}

func (s *SQLStore) CountFor(ctx context.Context, kind models.EntityKind, entityID, client string, day models.Day) (int, error) {
	var n int
	err := s.q(ctx).QueryRowContext(ctx, s.dialect.Rebind(countForSQL),
		string(kind), entityID, client, string(day),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count access events: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CountForClient(ctx context.Context, client string, day models.Day) (int, error) {
	var n int
	err := s.q(ctx).QueryRowContext(ctx, s.dialect.Rebind(countForClientSQL), client, string(day)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count client access events: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Aggregate(ctx context.Context, kind models.EntityKind, entityID string, from, to models.Day) (*models.EventAggregate, error) {
	q := s.q(ctx)
	args := []any{string(kind), entityID, string(from), string(to)}

	rows, err := q.QueryContext(ctx, s.dialect.Rebind(aggregateByDaySQL), args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate access events: %w", err)
	}
	defer rows.Close()

	agg := &models.EventAggregate{ByDay: make(map[models.Day]models.DayCount)}
	for rows.Next() {
		var (
			day         string
			total, auth int
		)
		if err := rows.Scan(&day, &total, &auth); err != nil {
			return nil, fmt.Errorf("scan access event aggregate: %w", err)
		}
		dc := models.DayCount{
			Day:           models.Day(day),
			Total:         total,
			Authenticated: auth,
			Anonymous:     total - auth,
		}
		agg.ByDay[dc.Day] = dc
		agg.Total += dc.Total
		agg.Authenticated += dc.Authenticated
		agg.Anonymous += dc.Anonymous
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access event aggregate: %w", err)
	}

	if err := q.QueryRowContext(ctx, s.dialect.Rebind(uniqueClientsSQL), args...).Scan(&agg.UniqueClients); err != nil {
		return nil, fmt.Errorf("count unique clients: %w", err)
	}
	return agg, nil
}

func (s *SQLStore) DetachActor(ctx context.Context, actor id.UserID) (int, error) {
	if actor.IsNil() {
		return 0, nil
	}
	res, err := s.q(ctx).ExecContext(ctx, s.dialect.Rebind(detachActorSQL), actor.String())
	if err != nil {
		return 0, fmt.Errorf("detach actor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("detach actor rows affected: %w", err)
	}
	return int(n), nil
}

func nullActor(actor id.UserID) sql.NullString {
	if actor.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: actor.String(), Valid: true}
}
