package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// OAuthProvider implements auth.Provider for any method whose credential is
// an external token. Local users are found through their account link,
// never by username.
type OAuthProvider struct {
	method   string
	verifier IdentityVerifier
	store    *auth.Store
	logger   *observability.Logger
}

var _ auth.Provider = (*OAuthProvider)(nil)

// NewOAuthProvider creates a provider registered under method
func NewOAuthProvider(method string, verifier IdentityVerifier, store *auth.Store, logger *observability.Logger) *OAuthProvider {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &OAuthProvider{
		method:   method,
		verifier: verifier,
		store:    store,
		logger:   logger.WithField("provider", method),
	}
}

// Name returns the method id
func (p *OAuthProvider) Name() string {
	return p.method
}

// ValidateCredentials requires a non-empty id_token
func (p *OAuthProvider) ValidateCredentials(credentials map[string]any) error {
	if _, ok := auth.CredentialString(credentials, auth.KeyIDToken); !ok {
		return fmt.Errorf("%w: %s requires an %s", auth.ErrInvalidArgument, p.method, auth.KeyIDToken)
	}
	return nil
}

// Authenticate verifies the external token and requires an existing link
func (p *OAuthProvider) Authenticate(ctx context.Context, credentials map[string]any) (bool, error) {
	if err := p.ValidateCredentials(credentials); err != nil {
		return false, fmt.Errorf("%w: %v", auth.ErrAuthenticationFailed, err)
	}
	token, _ := auth.CredentialString(credentials, auth.KeyIDToken)

	identity, err := p.verify(ctx, token)
	if err != nil {
		return false, err
	}

	if _, err := NewLinker(p.store).UserByExternalID(ctx, p.method, identity.Subject); err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser verifies the token, derives the username and writes the user
// row and its account link in one transaction
func (p *OAuthProvider) CreateUser(ctx context.Context, form *auth.AuthenticationForm) (*auth.User, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is required", auth.ErrInvalidArgument)
	}
	credentials := form.Credentials()
	if err := p.ValidateCredentials(credentials); err != nil {
		return nil, err
	}
	token, _ := auth.CredentialString(credentials, auth.KeyIDToken)

	identity, err := p.verify(ctx, token)
	if err != nil {
		return nil, err
	}

	username, err := auth.GenerateOAuthUsername(identity.Email, identity.Subject)
	if err != nil {
		return nil, err
	}
	if err := auth.ValidateUsername(username); err != nil {
		return nil, err
	}

	user := &auth.User{Username: username, AuthenticationMethod: p.method}
	err = p.store.InTx(ctx, func(tx *auth.Store) error {
		exists, err := tx.UsernameExists(ctx, username)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: username %s", auth.ErrResourceAlreadyExists, username)
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		return NewLinker(tx).Link(ctx, &OAuthAccountLink{
			Provider:       p.method,
			ExternalUserID: identity.Subject,
			UserID:         user.ID,
			Email:          identity.Email,
			Name:           identity.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("user created")
	return user, nil
}

// UserFromCredentials resolves the linked user. The token is decoded
// without verification, Authenticate already did that.
func (p *OAuthProvider) UserFromCredentials(ctx context.Context, form *auth.AuthenticationForm) (*auth.User, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is required", auth.ErrInvalidArgument)
	}
	token, ok := auth.CredentialString(form.Credentials(), auth.KeyIDToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", auth.ErrInvalidArgument, auth.KeyIDToken)
	}

	identity, err := p.verifier.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrAuthenticationFailed, err)
	}
	return NewLinker(p.store).UserByExternalID(ctx, p.method, identity.Subject)
}

// InsertCredentialsForUser links the subject of the token to an existing
// user
func (p *OAuthProvider) InsertCredentialsForUser(ctx context.Context, user *auth.User, credentials map[string]any) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user is required", auth.ErrInvalidArgument)
	}
	if err := p.ValidateCredentials(credentials); err != nil {
		return err
	}
	token, _ := auth.CredentialString(credentials, auth.KeyIDToken)

	identity, err := p.verify(ctx, token)
	if err != nil {
		return err
	}
	return NewLinker(p.store).Link(ctx, &OAuthAccountLink{
		Provider:       p.method,
		ExternalUserID: identity.Subject,
		UserID:         user.ID,
		Email:          identity.Email,
		Name:           identity.Name,
	})
}

func (p *OAuthProvider) verify(ctx context.Context, token string) (*Identity, error) {
	identity, err := p.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrAuthenticationFailed, err)
	}
	if identity.Subject == "" || identity.Email == "" {
		return nil, fmt.Errorf("%w: token carries no subject or email", auth.ErrAuthenticationFailed)
	}
	return identity, nil
}
