package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost matches the cost used for stored password hashes
	DefaultBcryptCost = 12
	// tokenSecretLength is the number of random bytes in a token secret
	tokenSecretLength = 32
)

// Hasher hashes and verifies secrets one way
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) (bool, error)
}

// BcryptHasher implements Hasher with bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher. A cost outside bcrypt's range falls back
// to DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of plaintext
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: input cannot be empty", ErrInvalidArgument)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: input exceeds 72 bytes", ErrInvalidArgument)
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hashed. A mismatch is (false, nil).
func (h *BcryptHasher) Verify(plaintext, hashed string) (bool, error) {
	if plaintext == "" || hashed == "" {
		return false, fmt.Errorf("%w: input and hash cannot be empty", ErrInvalidArgument)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to verify secret: %w", err)
	}
	return true, nil
}

// NewTokenSecret returns a random opaque per-issuance secret.
// Format: base64url(32 random bytes), no padding.
func NewTokenSecret() (string, error) {
	randomBytes := make([]byte, tokenSecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}
