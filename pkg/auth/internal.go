package auth

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// InternalProvider authenticates local username/password accounts
type InternalProvider struct {
	store  *Store
	hasher Hasher
	logger *observability.Logger
}

// NewInternalProvider creates the password provider
func NewInternalProvider(store *Store, hasher Hasher, logger *observability.Logger) *InternalProvider {
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &InternalProvider{store: store, hasher: hasher, logger: logger}
}

// Name implements Provider
func (p *InternalProvider) Name() string {
	return MethodInternal
}

// ValidateCredentials implements Provider
func (p *InternalProvider) ValidateCredentials(credentials map[string]any) error {
	if _, ok := CredentialString(credentials, KeyUsername); !ok {
		return fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if _, ok := CredentialString(credentials, KeyPassword); !ok {
		return fmt.Errorf("%w: password is required", ErrInvalidArgument)
	}
	return nil
}

// Authenticate implements Provider
func (p *InternalProvider) Authenticate(ctx context.Context, credentials map[string]any) (bool, error) {
	if err := p.ValidateCredentials(credentials); err != nil {
		return false, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	username, _ := CredentialString(credentials, KeyUsername)
	password, _ := CredentialString(credentials, KeyPassword)

	_, hash, err := p.store.PasswordHashByUsername(ctx, username)
	if err != nil {
		return false, err
	}

	ok, err := p.hasher.Verify(password, hash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: password mismatch for %s", ErrInvalidCredentials, username)
	}
	return true, nil
}

// CreateUser implements Provider. The user row and password hash are written
// in one transaction.
func (p *InternalProvider) CreateUser(ctx context.Context, form *AuthenticationForm) (*User, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is required", ErrInvalidArgument)
	}
	if err := ValidateUsername(form.Username); err != nil {
		return nil, err
	}
	if form.SpecialToken == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidArgument)
	}

	hash, err := p.hasher.Hash(form.SpecialToken)
	if err != nil {
		return nil, err
	}

	user := &User{Username: form.Username, AuthenticationMethod: MethodInternal}
	err = p.store.InTx(ctx, func(tx *Store) error {
		exists, err := tx.UsernameExists(ctx, user.Username)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: username %s", ErrResourceAlreadyExists, user.Username)
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		return tx.SetPasswordHash(ctx, user.ID, hash)
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"method":  MethodInternal,
	}).Info("user created")
	return user, nil
}

// UserFromCredentials implements Provider
func (p *InternalProvider) UserFromCredentials(ctx context.Context, form *AuthenticationForm) (*User, error) {
	if form == nil || form.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	return p.store.UserByUsername(ctx, form.Username)
}

// InsertCredentialsForUser implements Provider by replacing the stored hash
func (p *InternalProvider) InsertCredentialsForUser(ctx context.Context, user *User, credentials map[string]any) error {
	if user == nil || user.ID <= 0 {
		return fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	password, ok := CredentialString(credentials, KeyPassword)
	if !ok {
		return fmt.Errorf("%w: password is required", ErrInvalidArgument)
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return err
	}
	return p.store.SetPasswordHash(ctx, user.ID, hash)
}
