package tx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE items (name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func insert(ctx context.Context) error {
	t, _ := From(ctx)
	_, err := t.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
	return err
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	_, ok := From(ctx)
	assert.False(t, ok)
	assert.Equal(t, ctx, WithTx(ctx, nil), "nil transaction leaves context unchanged")
}

func TestRun(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		db := openDB(t)
		require.NoError(t, Run(context.Background(), db, insert))
		assert.Equal(t, 1, count(t, db))
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		db := openDB(t)
		boom := errors.New("boom")
		err := Run(context.Background(), db, func(ctx context.Context) error {
			require.NoError(t, insert(ctx))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, count(t, db))
	})

	t.Run("joins an outer transaction", func(t *testing.T) {
		db := openDB(t)
		outer, err := db.Begin()
		require.NoError(t, err)
		ctx := WithTx(context.Background(), outer)

		require.NoError(t, Run(ctx, db, func(inner context.Context) error {
			got, ok := From(inner)
			assert.True(t, ok)
			assert.Same(t, outer, got)
			return insert(inner)
		}))
		require.NoError(t, outer.Rollback())
		assert.Zero(t, count(t, db), "outer rollback discards the joined write")
	})
}
