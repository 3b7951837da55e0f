package sso

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// MicrosoftVerifier accepts the composite token built by MicrosoftFlow: a
// base64 JSON object with sub, email, name and provider. The token is not
// signed, only its structure is checked.
type MicrosoftVerifier struct{}

// EncodeCompositeToken builds the token MicrosoftVerifier accepts
func EncodeCompositeToken(identity Identity) (string, error) {
	if identity.Subject == "" || identity.Email == "" {
		return "", fmt.Errorf("%w: composite token needs sub and email", auth.ErrInvalidArgument)
	}
	if identity.Provider == "" {
		identity.Provider = FlowMicrosoft
	}
	raw, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("failed to encode composite token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Verify implements IdentityVerifier
func (MicrosoftVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	identity, err := decodeCompositeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrAuthenticationFailed, err)
	}
	return identity, nil
}

// Decode implements IdentityVerifier
func (MicrosoftVerifier) Decode(token string) (*Identity, error) {
	return decodeCompositeToken(token)
}

func decodeCompositeToken(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("composite token is empty")
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		// Clients sometimes re-encode with the URL alphabet
		raw, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("composite token is not base64: %w", err)
		}
	}

	var identity Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("composite token is not JSON: %w", err)
	}
	if identity.Subject == "" || identity.Email == "" {
		return nil, fmt.Errorf("composite token missing required fields (sub or email)")
	}
	return &identity, nil
}

// NewMicrosoftProvider creates the MICROSOFT_OAUTH2 provider
func NewMicrosoftProvider(store *auth.Store, logger *observability.Logger) *OAuthProvider {
	return NewOAuthProvider(auth.MethodMicrosoft, MicrosoftVerifier{}, store, logger)
}
