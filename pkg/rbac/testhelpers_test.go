package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory sqlite database with the permission tables
// and the default levels seeded
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE permission_level_lk (
			permission_level_lk TEXT PRIMARY KEY,
			level_value INTEGER NOT NULL
		);

		CREATE TABLE user_permission (
			user_permission_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			permission_lk TEXT NOT NULL,
			permission_target_lk TEXT,
			permission_level_lk TEXT REFERENCES permission_level_lk(permission_level_lk),
			granted_at TIMESTAMP NOT NULL,
			granted_by INTEGER
		);

		CREATE UNIQUE INDEX user_permission_tuple ON user_permission (
			user_id, permission_lk, COALESCE(permission_target_lk, ''), COALESCE(permission_level_lk, '')
		);
	`)
	require.NoError(t, err)

	store := NewStore(db)
	require.NoError(t, SeedLevels(context.Background(), store))
	return db, store
}

func newTestEvaluator(t *testing.T, opts ...Option) (*Evaluator, *Store) {
	t.Helper()
	_, store := setupTestDB(t)
	e, err := NewEvaluator(context.Background(), store, opts...)
	require.NoError(t, err)
	return e, store
}
