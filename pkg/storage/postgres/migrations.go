package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the gatehouse schema in apply order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(32) NOT NULL UNIQUE,
					authentication_method VARCHAR(64) NOT NULL,
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create user_password table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_password (
					user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					password_hash TEXT NOT NULL
				);
			`,
		},
		{
			Version:     3,
			Description: "Create jwt_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS jwt_tokens (
					token_secret VARCHAR(128) PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					access_token TEXT NOT NULL,
					refresh_token TEXT NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_jwt_tokens_user_id ON jwt_tokens(user_id);
				CREATE INDEX IF NOT EXISTS idx_jwt_tokens_expires_at ON jwt_tokens(expires_at);
			`,
		},
		{
			Version:     4,
			Description: "Create user_oauth_accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_oauth_accounts (
					provider VARCHAR(64) NOT NULL,
					external_user_id VARCHAR(255) NOT NULL,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (provider, external_user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_oauth_accounts_user_id ON user_oauth_accounts(user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create permission_level_lk table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_level_lk (
					permission_level_lk VARCHAR(64) PRIMARY KEY,
					level_value INT NOT NULL CHECK (level_value > 0)
				);
			`,
		},
		{
			Version:     6,
			Description: "Create user_permission table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permission (
					user_permission_id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_lk VARCHAR(128) NOT NULL,
					permission_target_lk VARCHAR(255),
					permission_level_lk VARCHAR(64) REFERENCES permission_level_lk(permission_level_lk),
					granted_at TIMESTAMP NOT NULL,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_user_permission_tuple ON user_permission (
					user_id, permission_lk, COALESCE(permission_target_lk, ''), COALESCE(permission_level_lk, '')
				);
			`,
		},
		{
			Version:     7,
			Description: "Add provider details to user_oauth_accounts",
			SQL: `
				ALTER TABLE user_oauth_accounts ADD COLUMN IF NOT EXISTS email VARCHAR(320) NOT NULL DEFAULT '';
				ALTER TABLE user_oauth_accounts ADD COLUMN IF NOT EXISTS display_name VARCHAR(255) NOT NULL DEFAULT '';
			`,
		},
	}
}

// Migrate applies every migration not yet recorded in schema_migrations, each
// in its own transaction
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	return migrate(ctx, db, Migrations(), logger)
}

func migrate(ctx context.Context, db *sql.DB, migrations []Migration, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		log := logger.WithFields(map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		})
		log.Info("running migration")

		if err := applyMigration(ctx, db, m); err != nil {
			log.WithError(err).Error("migration failed")
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate migrations: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
