package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Linker persists OAuth account links in user_oauth_accounts
type Linker struct {
	store *auth.Store
}

// NewLinker creates a linker over store. Inside auth.Store.InTx pass the
// transaction-bound store.
func NewLinker(store *auth.Store) *Linker {
	return &Linker{store: store}
}

// Link records that externalUserID at provider is link.UserID, along with the
// email and name the provider reported. A subject that is already linked
// returns auth.ErrResourceAlreadyExists.
func (l *Linker) Link(ctx context.Context, link *OAuthAccountLink) error {
	if link == nil || link.Provider == "" || link.ExternalUserID == "" || link.UserID <= 0 {
		return fmt.Errorf("%w: provider, external user id and user id are required", auth.ErrInvalidArgument)
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	_, err := l.store.Querier().ExecContext(ctx, `
		INSERT INTO user_oauth_accounts (provider, external_user_id, user_id, email, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, link.Provider, link.ExternalUserID, link.UserID, link.Email, link.Name, link.CreatedAt)
	if err != nil {
		if auth.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s account %s is already linked", auth.ErrResourceAlreadyExists, link.Provider, link.ExternalUserID)
		}
		return fmt.Errorf("failed to link account: %w", err)
	}
	return nil
}

// UserByExternalID resolves the local user linked to externalUserID
func (l *Linker) UserByExternalID(ctx context.Context, provider, externalUserID string) (*auth.User, error) {
	if provider == "" || externalUserID == "" {
		return nil, fmt.Errorf("%w: provider and external user id are required", auth.ErrInvalidArgument)
	}

	var user auth.User
	err := l.store.Querier().QueryRowContext(ctx, `
		SELECT u.id, u.username, u.authentication_method
		FROM user_oauth_accounts a
		JOIN users u ON u.id = a.user_id
		WHERE a.provider = $1 AND a.external_user_id = $2
	`, provider, externalUserID).Scan(&user.ID, &user.Username, &user.AuthenticationMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no user linked to %s account %s", auth.ErrResourceNotFound, provider, externalUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account link: %w", err)
	}
	return &user, nil
}

// LinksForUser lists the external accounts linked to userID
func (l *Linker) LinksForUser(ctx context.Context, userID int64) ([]OAuthAccountLink, error) {
	rows, err := l.store.Querier().QueryContext(ctx, `
		SELECT provider, external_user_id, user_id, email, display_name, created_at
		FROM user_oauth_accounts
		WHERE user_id = $1
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account links: %w", err)
	}
	defer rows.Close()

	var links []OAuthAccountLink
	for rows.Next() {
		var link OAuthAccountLink
		if err := rows.Scan(&link.Provider, &link.ExternalUserID, &link.UserID, &link.Email, &link.Name, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
