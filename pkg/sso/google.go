package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Google endpoints
const (
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleVerifier checks Google ID tokens: signature against Google's JWKS,
// issuer, expiry and audience
type GoogleVerifier struct {
	verifier *oidc.IDTokenVerifier
}

type googleClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// NewGoogleVerifier creates a verifier for tokens minted for clientID. Keys
// are fetched lazily and cached by go-oidc.
func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: google client id is required", auth.ErrInvalidArgument)
	}
	keySet := oidc.NewRemoteKeySet(ctx, GoogleJWKSURL)
	return &GoogleVerifier{
		verifier: oidc.NewVerifier(GoogleIssuer, keySet, &oidc.Config{ClientID: clientID}),
	}, nil
}

// NewGoogleVerifierWithKeySet verifies against a fixed issuer and key set
func NewGoogleVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet, now func() time.Time) *GoogleVerifier {
	return &GoogleVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID, Now: now}),
	}
}

// Verify implements IdentityVerifier
func (v *GoogleVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: google id token: %v", auth.ErrAuthenticationFailed, err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: google id token claims: %v", auth.ErrAuthenticationFailed, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: google id token has no email", auth.ErrAuthenticationFailed)
	}

	return &Identity{
		Subject:  idToken.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: FlowGoogle,
	}, nil
}

// Decode implements IdentityVerifier
func (v *GoogleVerifier) Decode(token string) (*Identity, error) {
	var claims googleClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode google id token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("google id token has no subject")
	}
	return &Identity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: FlowGoogle,
	}, nil
}

// NewGoogleProvider creates the GOOGLE_OAUTH2 provider
func NewGoogleProvider(verifier IdentityVerifier, store *auth.Store, logger *observability.Logger) *OAuthProvider {
	return NewOAuthProvider(auth.MethodGoogle, verifier, store, logger)
}
