package auth

import (
	"fmt"
	"strings"
)

const (
	maxOAuthIDLength       = 10
	maxOAuthUsernameLength = 30
)

// GenerateOAuthUsername derives a local username from an external email and
// subject id. The result is deterministic and at most 30 characters long.
//
// The id part keeps min(len(externalID), 10) characters of the filtered id,
// bounded by the filtered length.
func GenerateOAuthUsername(email, externalID string) (string, error) {
	if email == "" || externalID == "" {
		return "", fmt.Errorf("%w: email and external id are required", ErrInvalidArgument)
	}

	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	emailPart := alnumLower(local)

	// uppercase id characters are dropped, not folded
	idPart := strings.ToLower(keepAlnum(externalID))
	if idPart == "" {
		return "", fmt.Errorf("%w: external id has no usable characters", ErrInvalidArgument)
	}
	keep := len(externalID)
	if keep > maxOAuthIDLength {
		keep = maxOAuthIDLength
	}
	if keep > len(idPart) {
		keep = len(idPart)
	}
	idPart = idPart[:keep]

	trimEmail := true
	for len(emailPart)+len(idPart) > maxOAuthUsernameLength {
		switch {
		case trimEmail && len(emailPart) > 0:
			emailPart = emailPart[:len(emailPart)-1]
		case len(idPart) > 0:
			idPart = idPart[:len(idPart)-1]
		default:
			emailPart = emailPart[:len(emailPart)-1]
		}
		trimEmail = !trimEmail
	}

	return emailPart + idPart, nil
}

// ValidateUsername enforces the registration length bounds
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username cannot be empty", ErrInvalidArgument)
	}
	if len(username) < MinUsernameLength {
		return fmt.Errorf("%w: username must be at least %d characters long", ErrInvalidArgument, MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters long", ErrInvalidArgument, MaxUsernameLength)
	}
	return nil
}

// alnumLower lowercases s and drops everything outside [a-z0-9]
func alnumLower(s string) string {
	return keepAlnum(strings.ToLower(s))
}

// keepAlnum drops everything outside [a-z0-9]
func keepAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
