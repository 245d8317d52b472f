package bucket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotaguard/internal/platform/database"
)

// reset_at is unix milliseconds so both dialects compare it numerically.
const windowSchema = `CREATE TABLE IF NOT EXISTS rate_limit_windows (
	window_key VARCHAR(255) PRIMARY KEY,
	hits       INTEGER NOT NULL,
	reset_at   BIGINT  NOT NULL
)`

const (
	incrementWindowSQL = `INSERT INTO rate_limit_windows (window_key, hits, reset_at) VALUES (?, 1, ?)
	ON CONFLICT (window_key) DO UPDATE SET
		hits = CASE WHEN rate_limit_windows.reset_at <= ? THEN 1 ELSE rate_limit_windows.hits + 1 END,
		reset_at = CASE WHEN rate_limit_windows.reset_at <= ? THEN excluded.reset_at ELSE rate_limit_windows.reset_at END
	RETURNING hits, reset_at`

	countWindowSQL   = `SELECT hits, reset_at FROM rate_limit_windows WHERE window_key = ?`
	deleteWindowSQL  = `DELETE FROM rate_limit_windows WHERE window_key = ?`
	expireWindowsSQL = `DELETE FROM rate_limit_windows WHERE reset_at <= ?`
)

// SQLStore implements ports.WindowStore as a single upserted row per window.
// The upsert is atomic in both PostgreSQL and SQLite, so concurrent hits never
// lose increments.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
	logger  *slog.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLLogger sets where failed cleanup runs are reported.
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSQL creates a SQL-backed window store. A nil now uses time.Now.
func NewSQL(pool *database.Pool, now func() time.Time, opts ...SQLOption) *SQLStore {
	if now == nil {
		now = time.Now
	}
	s := &SQLStore{db: pool.DB, dialect: pool.Dialect, now: now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the rate_limit_windows table if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, windowSchema); err != nil {
		return fmt.Errorf("migrate rate_limit_windows: %w", err)
	}
	return nil
}

func (s *SQLStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := s.now().UnixMilli()
	next := now + window.Milliseconds()

	var (
		hits    int
		resetAt int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(incrementWindowSQL), key, next, now, now).Scan(&hits, &resetAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment window %s: %w", key, err)
	}
	return hits, time.UnixMilli(resetAt), nil
}

func (s *SQLStore) Count(ctx context.Context, key string) (int, time.Time, error) {
	var (
		hits    int
		resetAt int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(countWindowSQL), key).Scan(&hits, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read window %s: %w", key, err)
	}
	if resetAt <= s.now().UnixMilli() {
		return 0, time.Time{}, nil
	}
	return hits, time.UnixMilli(resetAt), nil
}

func (s *SQLStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(deleteWindowSQL), key); err != nil {
		return fmt.Errorf("reset window %s: %w", key, err)
	}
	return nil
}

// RemoveExpiredAt deletes windows that ended at or before now.
func (s *SQLStore) RemoveExpiredAt(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(expireWindowsSQL), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit windows: %w", err)
	}
	return int(n), nil
}

// StartCleanup deletes ended windows every interval until ctx is cancelled.
// A failed run is logged and retried on the next tick; it only ever returns
// ctx.Err().
func (s *SQLStore) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RemoveExpiredAt(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "rate limit window cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
