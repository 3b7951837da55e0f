package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// newIdentityServer fakes the token endpoint and the Graph /me endpoint
func newIdentityServer(t *testing.T, profile map[string]string, profileStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "graph-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "google-id-token",
		})
	})
	mux.HandleFunc("/v1.0/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer graph-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(profileStatus)
		_ = json.NewEncoder(w).Encode(profile)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testFlowConfig(srv *httptest.Server) ProviderConfig {
	return ProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://gatehouse.example.com/auth/oauth2/x/callback",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		GraphURL:     srv.URL + "/v1.0",
	}
}

func TestGoogleFlow(t *testing.T) {
	ctx := context.Background()
	srv := newIdentityServer(t, nil, http.StatusOK)
	flow, err := NewGoogleFlow(testFlowConfig(srv))
	require.NoError(t, err)
	assert.Equal(t, FlowGoogle, flow.ID())
	assert.Equal(t, auth.MethodGoogle, flow.Method())

	redirect, err := url.Parse(flow.AuthCodeURL("xyz"))
	require.NoError(t, err)
	q := redirect.Query()
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "openid email profile", q.Get("scope"))

	cred, err := flow.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, &Credential{Provider: auth.MethodGoogle, Token: "google-id-token"}, cred)

	_, err = flow.Exchange(ctx, "bad-code")
	assert.ErrorIs(t, err, auth.ErrAuthenticationFailed)

	_, err = flow.Exchange(ctx, "")
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
}

func TestMicrosoftFlow(t *testing.T) {
	ctx := context.Background()
	srv := newIdentityServer(t, map[string]string{
		"id":                "m-42",
		"userPrincipalName": "ivan@contoso.com",
		"displayName":       "Ivan",
	}, http.StatusOK)
	flow, err := NewMicrosoftFlow(testFlowConfig(srv))
	require.NoError(t, err)

	redirect, err := url.Parse(flow.AuthCodeURL("s1"))
	require.NoError(t, err)
	assert.Equal(t, "query", redirect.Query().Get("response_mode"))
	assert.Contains(t, redirect.Query().Get("scope"), "https://graph.microsoft.com/User.Read")

	cred, err := flow.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, auth.MethodMicrosoft, cred.Provider)

	identity, err := MicrosoftVerifier{}.Decode(cred.Token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{Subject: "m-42", Email: "ivan@contoso.com", Name: "Ivan", Provider: FlowMicrosoft}, identity)
}

func TestMicrosoftFlow_ProfileErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing upn", func(t *testing.T) {
		srv := newIdentityServer(t, map[string]string{"id": "m-1"}, http.StatusOK)
		flow, err := NewMicrosoftFlow(testFlowConfig(srv))
		require.NoError(t, err)
		_, err = flow.Exchange(ctx, "good-code")
		assert.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	})

	t.Run("graph error", func(t *testing.T) {
		srv := newIdentityServer(t, map[string]string{}, http.StatusForbidden)
		flow, err := NewMicrosoftFlow(testFlowConfig(srv))
		require.NoError(t, err)
		_, err = flow.Exchange(ctx, "good-code")
		assert.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	})
}

func TestNewFlow_Validation(t *testing.T) {
	_, err := NewGoogleFlow(ProviderConfig{ClientSecret: "s", RedirectURL: "r"})
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
	_, err = NewMicrosoftFlow(ProviderConfig{ClientID: "c", RedirectURL: "r"})
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
	_, err = NewMicrosoftFlow(ProviderConfig{ClientID: "c", ClientSecret: "s"})
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
}

func TestFlows(t *testing.T) {
	cfg := ProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURL: "r"}
	google, err := NewGoogleFlow(cfg)
	require.NoError(t, err)
	microsoft, err := NewMicrosoftFlow(cfg)
	require.NoError(t, err)

	flows, err := NewFlows(google, microsoft)
	require.NoError(t, err)
	assert.Equal(t, []string{"google", "microsoft"}, flows.IDs())

	got, err := flows.Get("Google")
	require.NoError(t, err)
	assert.Same(t, google, got)

	_, err = flows.Get("facebook")
	assert.ErrorIs(t, err, auth.ErrUnknownProvider)

	_, err = NewFlows(google, google)
	assert.Error(t, err)
}
