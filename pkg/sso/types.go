package sso

import (
	"context"
	"time"
)

// Flow ids used in /auth/oauth2/{id}
const (
	FlowGoogle    = "google"
	FlowMicrosoft = "microsoft"
)

// Identity is the subject an external token vouches for
type Identity struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// IdentityVerifier turns an external token into an Identity
type IdentityVerifier interface {
	// Verify checks the token and returns the identity it carries.
	Verify(ctx context.Context, token string) (*Identity, error)

	// Decode extracts the identity from a token that already passed Verify.
	Decode(token string) (*Identity, error)
}

// OAuthAccountLink maps an external subject to a local user
type OAuthAccountLink struct {
	Provider       string    `json:"provider"`
	ExternalUserID string    `json:"external_user_id"`
	UserID         int64     `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProviderConfig holds the OAuth2 client settings of one provider
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	RedirectURL  string   `yaml:"redirect_url" json:"redirect_url"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// Microsoft only. Defaults to "common".
	Tenant string `yaml:"tenant,omitempty" json:"tenant,omitempty"`

	// Endpoint overrides, empty means the provider's public endpoints
	AuthURL  string `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`
	TokenURL string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	GraphURL string `yaml:"graph_url,omitempty" json:"graph_url,omitempty"`
}

// Credential is what a finished redirect flow hands back to the client
type Credential struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
	State    string `json:"state,omitempty"`
}
