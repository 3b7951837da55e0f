package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/microsoft"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

const (
	// DefaultGraphURL is the Microsoft Graph base the profile is read from
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"

	flowHTTPTimeout = 10 * time.Second
)

// Flow drives one provider's authorization code grant
type Flow interface {
	// ID is the short name used in /auth/oauth2/{id}
	ID() string

	// Method is the auth method id the resulting credential logs in with
	Method() string

	// AuthCodeURL is where the user agent is redirected to
	AuthCodeURL(state string) string

	// Exchange trades the callback code for a login credential
	Exchange(ctx context.Context, code string) (*Credential, error)
}

// Flows is an immutable set of flows keyed by id
type Flows struct {
	flows map[string]Flow
}

// NewFlows indexes flows by ID. Duplicate ids are an error.
func NewFlows(flows ...Flow) (*Flows, error) {
	m := make(map[string]Flow, len(flows))
	for _, f := range flows {
		if f == nil {
			return nil, fmt.Errorf("%w: nil flow", auth.ErrInvalidArgument)
		}
		id := strings.ToLower(f.ID())
		if _, exists := m[id]; exists {
			return nil, fmt.Errorf("oauth2 flow %s already registered", id)
		}
		m[id] = f
	}
	return &Flows{flows: m}, nil
}

// Get returns the flow for id or auth.ErrUnknownProvider
func (f *Flows) Get(id string) (Flow, error) {
	if f != nil {
		if flow, ok := f.flows[strings.ToLower(strings.TrimSpace(id))]; ok {
			return flow, nil
		}
	}
	return nil, fmt.Errorf("%w: oauth2 flow %q", auth.ErrUnknownProvider, id)
}

// IDs lists the registered flow ids in order
func (f *Flows) IDs() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f.flows))
	for id := range f.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GoogleFlow performs the Google OIDC code flow and returns the id_token
type GoogleFlow struct {
	config *oauth2.Config
	client *http.Client
}

// NewGoogleFlow creates the google flow
func NewGoogleFlow(cfg ProviderConfig) (*GoogleFlow, error) {
	if err := validateFlowConfig(FlowGoogle, cfg); err != nil {
		return nil, err
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &GoogleFlow{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpointFor(cfg, endpoints.Google),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		client: newFlowHTTPClient(),
	}, nil
}

func (f *GoogleFlow) ID() string     { return FlowGoogle }
func (f *GoogleFlow) Method() string { return auth.MethodGoogle }

// AuthCodeURL implements Flow
func (f *GoogleFlow) AuthCodeURL(state string) string {
	return f.config.AuthCodeURL(state)
}

// Exchange implements Flow
func (f *GoogleFlow) Exchange(ctx context.Context, code string) (*Credential, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", auth.ErrInvalidArgument)
	}

	token, err := f.config.Exchange(withFlowClient(ctx, f.client), code)
	if err != nil {
		return nil, fmt.Errorf("%w: google code exchange: %v", auth.ErrAuthenticationFailed, err)
	}

	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%w: google token response has no id_token", auth.ErrAuthenticationFailed)
	}
	return &Credential{Provider: auth.MethodGoogle, Token: idToken}, nil
}

// MicrosoftFlow performs the Azure AD code flow, reads the Graph profile
// and returns a composite token
type MicrosoftFlow struct {
	config   *oauth2.Config
	graphURL string
	client   *http.Client
}

type graphProfile struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
}

// NewMicrosoftFlow creates the microsoft flow
func NewMicrosoftFlow(cfg ProviderConfig) (*MicrosoftFlow, error) {
	if err := validateFlowConfig(FlowMicrosoft, cfg); err != nil {
		return nil, err
	}

	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile", "https://graph.microsoft.com/User.Read"}
	}
	graphURL := strings.TrimSuffix(cfg.GraphURL, "/")
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}

	return &MicrosoftFlow{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpointFor(cfg, microsoft.AzureADEndpoint(tenant)),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		graphURL: graphURL,
		client:   newFlowHTTPClient(),
	}, nil
}

func (f *MicrosoftFlow) ID() string     { return FlowMicrosoft }
func (f *MicrosoftFlow) Method() string { return auth.MethodMicrosoft }

// AuthCodeURL implements Flow
func (f *MicrosoftFlow) AuthCodeURL(state string) string {
	return f.config.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// Exchange implements Flow
func (f *MicrosoftFlow) Exchange(ctx context.Context, code string) (*Credential, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", auth.ErrInvalidArgument)
	}

	ctx = withFlowClient(ctx, f.client)
	token, err := f.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: microsoft code exchange: %v", auth.ErrAuthenticationFailed, err)
	}

	profile, err := f.fetchProfile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrAuthenticationFailed, err)
	}

	composite, err := EncodeCompositeToken(Identity{
		Subject:  profile.ID,
		Email:    profile.UserPrincipalName,
		Name:     profile.DisplayName,
		Provider: FlowMicrosoft,
	})
	if err != nil {
		return nil, err
	}
	return &Credential{Provider: auth.MethodMicrosoft, Token: composite}, nil
}

func (f *MicrosoftFlow) fetchProfile(ctx context.Context, token *oauth2.Token) (*graphProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.graphURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("graph profile request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var profile graphProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode graph profile: %w", err)
	}
	if profile.ID == "" || profile.UserPrincipalName == "" {
		return nil, fmt.Errorf("graph profile is missing required fields (id or userPrincipalName)")
	}
	return &profile, nil
}

func validateFlowConfig(id string, cfg ProviderConfig) error {
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: %s client_id is required", auth.ErrInvalidArgument, id)
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("%w: %s client_secret is required", auth.ErrInvalidArgument, id)
	}
	if cfg.RedirectURL == "" {
		return fmt.Errorf("%w: %s redirect_url is required", auth.ErrInvalidArgument, id)
	}
	return nil
}

func endpointFor(cfg ProviderConfig, fallback oauth2.Endpoint) oauth2.Endpoint {
	if cfg.AuthURL != "" {
		fallback.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		fallback.TokenURL = cfg.TokenURL
	}
	return fallback
}

func newFlowHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   flowHTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// withFlowClient makes the oauth2 package use client for token and API
// calls
func withFlowClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
