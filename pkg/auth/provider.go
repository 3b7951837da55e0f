package auth

import "context"

// Provider authenticates one credential scheme and can create local users
// from it
type Provider interface {
	// Name returns the method identifier used as registry key and persisted
	// as the user's authentication method.
	Name() string

	// Authenticate checks the credentials. It returns ErrAuthenticationFailed
	// for unverifiable input, ErrInvalidCredentials for a wrong secret and
	// ErrResourceNotFound when no local user matches.
	Authenticate(ctx context.Context, credentials map[string]any) (bool, error)

	// ValidateCredentials is a structural check that never touches storage.
	ValidateCredentials(credentials map[string]any) error

	// CreateUser inserts the user row and its method-specific credential in
	// one transaction.
	CreateUser(ctx context.Context, form *AuthenticationForm) (*User, error)

	// UserFromCredentials resolves the identity behind a form that already
	// passed Authenticate.
	UserFromCredentials(ctx context.Context, form *AuthenticationForm) (*User, error)

	// InsertCredentialsForUser stores the secret (or external link) for an
	// existing user.
	InsertCredentialsForUser(ctx context.Context, user *User, credentials map[string]any) error
}

// CredentialString returns a non-empty string credential or false
func CredentialString(credentials map[string]any, key string) (string, bool) {
	if credentials == nil {
		return "", false
	}
	v, ok := credentials[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
