package auth

import "errors"

// Error kinds returned by providers, the token manager and the permission
// evaluator. Wrap with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrInvalidArgument marks malformed input from the caller.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAuthenticationFailed marks an unverifiable external token or an
	// identity provider that could not be reached.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidCredentials marks a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrResourceNotFound marks a missing user or account link.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceAlreadyExists marks a duplicate username, link or grant.
	ErrResourceAlreadyExists = errors.New("resource already exists")
	// ErrTokenExpired is returned by Verify when a correctly signed token is
	// past its expiration.
	ErrTokenExpired = errors.New("token expired")
	// ErrUnknownProvider marks an authentication method nobody registered.
	ErrUnknownProvider = errors.New("unknown authentication provider")
	// ErrNotImplemented is returned by providers that are declared but not
	// yet supported.
	ErrNotImplemented = errors.New("not implemented")
)

// IsAuthFailure reports whether err should be rendered to untrusted callers
// as a generic authentication failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrResourceNotFound)
}
