package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Store handles permission persistence
type Store struct {
	db *sql.DB
	q  auth.Querier
}

// NewStore creates a new permission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx runs fn with a store bound to one transaction
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Levels loads every permission level
func (s *Store) Levels(ctx context.Context) ([]PermissionLevel, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT permission_level_lk, level_value
		FROM permission_level_lk
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission levels: %w", err)
	}
	defer rows.Close()

	var levels []PermissionLevel
	for rows.Next() {
		var level PermissionLevel
		if err := rows.Scan(&level.Name, &level.Value); err != nil {
			return nil, fmt.Errorf("failed to scan permission level: %w", err)
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission levels: %w", err)
	}
	return levels, nil
}

// UpsertLevel creates or updates a level
func (s *Store) UpsertLevel(ctx context.Context, level PermissionLevel) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO permission_level_lk (permission_level_lk, level_value)
		VALUES ($1, $2)
		ON CONFLICT (permission_level_lk) DO UPDATE SET level_value = excluded.level_value
	`, level.Name, level.Value)
	if err != nil {
		return fmt.Errorf("failed to upsert permission level %s: %w", level.Name, err)
	}
	return nil
}

// PermissionsForKey returns the grants of userID for one permission key
func (s *Store) PermissionsForKey(ctx context.Context, userID int64, key string) ([]UserPermission, error) {
	return s.queryPermissions(ctx, `
		SELECT user_permission_id, user_id, permission_lk, permission_target_lk, permission_level_lk, granted_at, granted_by
		FROM user_permission
		WHERE user_id = $1 AND permission_lk = $2
		ORDER BY user_permission_id
	`, userID, key)
}

// PermissionsForUser returns every grant of userID
func (s *Store) PermissionsForUser(ctx context.Context, userID int64) ([]UserPermission, error) {
	return s.queryPermissions(ctx, `
		SELECT user_permission_id, user_id, permission_lk, permission_target_lk, permission_level_lk, granted_at, granted_by
		FROM user_permission
		WHERE user_id = $1
		ORDER BY permission_lk, user_permission_id
	`, userID)
}

// FindPermission returns the grant matching the exact tuple. Nil target and
// level match NULL columns.
func (s *Store) FindPermission(ctx context.Context, userID int64, key string, target, level *string) (*UserPermission, error) {
	where, args := tupleCriteria(userID, key, target, level)
	row := s.q.QueryRowContext(ctx, `
		SELECT user_permission_id, user_id, permission_lk, permission_target_lk, permission_level_lk, granted_at, granted_by
		FROM user_permission
		WHERE `+where, args...)

	perm, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: permission %s for user %d", auth.ErrResourceNotFound, key, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// InsertPermission stores a grant and fills in its ID
func (s *Store) InsertPermission(ctx context.Context, perm *UserPermission) error {
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO user_permission (user_id, permission_lk, permission_target_lk, permission_level_lk, granted_at, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING user_permission_id
	`, perm.UserID, perm.PermissionLk, perm.PermissionTargetLk, perm.PermissionLevelLk, perm.GrantedAt, perm.GrantedBy).Scan(&perm.ID)
	if err != nil {
		if auth.IsUniqueViolation(err) {
			return fmt.Errorf("%w: permission %s already granted to user %d", auth.ErrResourceAlreadyExists, perm.PermissionLk, perm.UserID)
		}
		return fmt.Errorf("failed to insert permission: %w", err)
	}
	return nil
}

// DeletePermissions removes the grants matching the exact tuple
func (s *Store) DeletePermissions(ctx context.Context, userID int64, key string, target, level *string) (int64, error) {
	where, args := tupleCriteria(userID, key, target, level)
	res, err := s.q.ExecContext(ctx, `DELETE FROM user_permission WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete permissions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]UserPermission, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []UserPermission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return perms, nil
}

// tupleCriteria builds a NULL-aware WHERE clause for (user, key, target, level)
func tupleCriteria(userID int64, key string, target, level *string) (string, []any) {
	args := []any{userID, key}
	where := "user_id = $1 AND permission_lk = $2"
	for _, c := range []struct {
		column string
		value  *string
	}{
		{"permission_target_lk", target},
		{"permission_level_lk", level},
	} {
		if c.value == nil {
			where += " AND " + c.column + " IS NULL"
			continue
		}
		args = append(args, *c.value)
		where += fmt.Sprintf(" AND %s = $%d", c.column, len(args))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (*UserPermission, error) {
	var (
		perm      UserPermission
		target    sql.NullString
		level     sql.NullString
		grantedBy sql.NullInt64
	)
	if err := row.Scan(&perm.ID, &perm.UserID, &perm.PermissionLk, &target, &level, &perm.GrantedAt, &grantedBy); err != nil {
		return nil, err
	}
	return toUserPermission(perm, target, level, grantedBy), nil
}

func toUserPermission(perm UserPermission, target, level sql.NullString, grantedBy sql.NullInt64) *UserPermission {
	if target.Valid {
		perm.PermissionTargetLk = &target.String
	}
	if level.Valid {
		perm.PermissionLevelLk = &level.String
	}
	if grantedBy.Valid {
		perm.GrantedBy = &grantedBy.Int64
	}
	return &perm
}
