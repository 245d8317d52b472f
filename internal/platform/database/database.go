// Package database opens the SQL pool shared by the event log and the SQL
// window store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"quotaguard/internal/platform/config"
)

// Dialect selects placeholder and upsert syntax.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Placeholder returns the n-th (1-based) bind parameter for the dialect.
func (d Dialect) Placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Rebind rewrites "?" placeholders into the dialect's form. Queries must not
// contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d == DialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Pool is an open database handle plus its dialect.
type Pool struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open connects and pings. SQLite gets a single connection with WAL and a
// busy timeout, since it serializes writers anyway.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required for driver %q", cfg.Driver)
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	driver := cfg.Driver
	if dialect == DialectSQLite {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
			}
		}
	} else {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 20
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Pool{DB: db, Dialect: dialect}, nil
}

// Health pings the database.
func (p *Pool) Health(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

func (p *Pool) Close() error {
	return p.DB.Close()
}
