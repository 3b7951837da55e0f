package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Querier is the subset of *sql.DB and *sql.Tx the stores use
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserStore resolves local users
type UserStore interface {
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
}

// TokenStore persists token records
type TokenStore interface {
	InsertToken(ctx context.Context, rec *TokenRecord) error
	TokensForUser(ctx context.Context, userID int64) ([]TokenRecord, error)
	DeleteTokensBySecret(ctx context.Context, secrets ...string) (int64, error)
	DeleteTokensForUser(ctx context.Context, userID int64) ([]string, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	// WithTokenTx runs fn against a store bound to one transaction
	WithTokenTx(ctx context.Context, fn func(TokenStore) error) error
}

// Store handles user, password and token persistence
type Store struct {
	db *sql.DB
	q  Querier
}

// NewStore creates a new store over db
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Querier returns the handle this store issues statements on. Inside InTx it
// is the transaction.
func (s *Store) Querier() Querier {
	return s.q
}

// InTx runs fn with a store bound to a new transaction. The transaction is
// committed when fn returns nil and rolled back otherwise. Rollback after a
// commit is a no-op.
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

// WithTokenTx implements TokenStore
func (s *Store) WithTokenTx(ctx context.Context, fn func(TokenStore) error) error {
	return s.InTx(ctx, func(tx *Store) error {
		return fn(tx)
	})
}

// InsertUser creates a user row and fills in its generated ID
func (s *Store) InsertUser(ctx context.Context, user *User) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO users (username, authentication_method, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, user.Username, user.AuthenticationMethod, time.Now().UTC()).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s", ErrResourceAlreadyExists, user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// DeleteUser removes a user row. Deleting a missing user is not an error.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// UserByID returns the user or ErrResourceNotFound
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, username, authentication_method
		FROM users
		WHERE id = $1
	`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", ErrResourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UserByUsername returns the user or ErrResourceNotFound
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, username, authentication_method
		FROM users
		WHERE username = $1
	`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrResourceNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UsernameExists reports whether a user already holds username
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = $1`, username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return n > 0, nil
}

// SetPasswordHash stores (or replaces) the password hash of a user
func (s *Store) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE user_password SET password_hash = $1 WHERE user_id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `
		INSERT INTO user_password (user_id, password_hash)
		VALUES ($1, $2)
	`, userID, hash); err != nil {
		return fmt.Errorf("failed to insert password: %w", err)
	}
	return nil
}

// PasswordHashByUsername returns the user and stored hash for username
func (s *Store) PasswordHashByUsername(ctx context.Context, username string) (*User, string, error) {
	var (
		user User
		hash sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.authentication_method, p.password_hash
		FROM users u
		LEFT JOIN user_password p ON p.user_id = u.id
		WHERE u.username = $1
	`, username).Scan(&user.ID, &user.Username, &user.AuthenticationMethod, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%w: user %s", ErrResourceNotFound, username)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get password: %w", err)
	}
	if !hash.Valid || hash.String == "" {
		return nil, "", fmt.Errorf("%w: no password for user %s", ErrResourceNotFound, username)
	}
	return &user, hash.String, nil
}

// InsertToken persists one issuance
func (s *Store) InsertToken(ctx context.Context, rec *TokenRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO jwt_tokens (token_secret, user_id, access_token, refresh_token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.TokenSecret, rec.UserID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// TokensForUser returns every record of userID, expired ones included
func (s *Store) TokensForUser(ctx context.Context, userID int64) ([]TokenRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT token_secret, user_id, access_token, refresh_token, expires_at
		FROM jwt_tokens
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var records []TokenRecord
	for rows.Next() {
		var rec TokenRecord
		if err := rows.Scan(&rec.TokenSecret, &rec.UserID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}
	return records, nil
}

// DeleteTokensBySecret removes the records holding any of secrets
func (s *Store) DeleteTokensBySecret(ctx context.Context, secrets ...string) (int64, error) {
	if len(secrets) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(secrets))
	args := make([]any, len(secrets))
	for i, secret := range secrets {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = secret
	}

	query := "DELETE FROM jwt_tokens WHERE token_secret IN (" + strings.Join(placeholders, ", ") + ")"
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTokensForUser removes every record of userID and returns the
// secrets of the deleted rows
func (s *Store) DeleteTokensForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `DELETE FROM jwt_tokens WHERE user_id = $1 RETURNING token_secret`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user tokens: %w", err)
	}
	defer rows.Close()

	var secrets []string
	for rows.Next() {
		var secret string
		if err := rows.Scan(&secret); err != nil {
			return nil, fmt.Errorf("failed to scan deleted token: %w", err)
		}
		secrets = append(secrets, secret)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to delete user tokens: %w", err)
	}
	return secrets, nil
}

// DeleteExpiredTokens removes records whose expiry is at or before now
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM jwt_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.AuthenticationMethod); err != nil {
		return nil, err
	}
	return &user, nil
}

// isUniqueViolation recognises unique-constraint failures from postgres and
// from sqlite, which reports them as plain text
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// IsUniqueViolation is exported for stores in other packages
func IsUniqueViolation(err error) bool {
	return err != nil && isUniqueViolation(err)
}
