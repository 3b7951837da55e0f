package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Dependencies{})
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)

	_, err = NewServer(Dependencies{Service: &auth.Service{}})
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
}

// TestRegisterRoutes verifies all routes are registered
func TestRegisterRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/user/login"},
		{"POST", "/user/register"},
		{"POST", "/user/refresh"},
		{"POST", "/user/logout"},
		{"GET", "/user/me"},
		{"GET", "/auth/oauth2"},
		{"GET", "/auth/oauth2/google"},
		{"GET", "/auth/oauth2/google/callback"},
		{"GET", "/api/permissions/user/1"},
		{"POST", "/api/permissions/grant"},
		{"POST", "/api/permissions/revoke"},
		{"GET", "/api/permissions/check"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			var match mux.RouteMatch
			assert.True(t, s.server.Router().Match(req, &match), "Route %s %s should be registered", tt.method, tt.path)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	registered := s.register(t, "alice", "correct horse")
	assert.Equal(t, "alice", registered.Username)
	assert.NotEmpty(t, registered.AccessToken)

	// login sets the session cookies
	w := s.do(t, http.MethodPost, "/user/login", auth.AuthenticationForm{
		MethodID:     auth.MethodInternal,
		Username:     "alice",
		SpecialToken: "correct horse",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session auth.AuthorizedUser
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
	assert.Equal(t, registered.ID, session.ID)

	access := cookieNamed(w, middleware.AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, session.AccessToken, access.Value)
	assert.True(t, access.HttpOnly)
	refresh := cookieNamed(w, RefreshTokenCookie)
	require.NotNil(t, refresh)
	userID := cookieNamed(w, UserIDCookie)
	require.NotNil(t, userID)
	assert.False(t, userID.HttpOnly)

	// the access token works as bearer and as cookie
	w = s.do(t, http.MethodGet, "/user/me", nil, bearer(session.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	var me auth.User
	require.NoError(t, json.NewDecoder(w.Body).Decode(&me))
	assert.Equal(t, "alice", me.Username)

	w = s.do(t, http.MethodGet, "/user/me", nil, withCookies(access))
	assert.Equal(t, http.StatusOK, w.Code)

	// refresh from cookies rotates the pair
	w = s.do(t, http.MethodPost, "/user/refresh", nil, withCookies(access, refresh, userID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rotated auth.AuthorizedUser
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rotated))
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	w = s.do(t, http.MethodGet, "/user/me", nil, bearer(session.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "the old pair is revoked by refresh")

	// refresh tokens are single use
	w = s.do(t, http.MethodPost, "/user/refresh", session)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// logout revokes the new pair and clears the cookies
	w = s.do(t, http.MethodPost, "/user/logout", rotated)
	require.Equal(t, http.StatusNoContent, w.Code)
	cleared := cookieNamed(w, middleware.AccessTokenCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	w = s.do(t, http.MethodGet, "/user/me", nil, bearer(rotated.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_Errors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "bobby", "hunter2")

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{
			name:       "wrong password",
			body:       auth.AuthenticationForm{MethodID: auth.MethodInternal, Username: "bobby", SpecialToken: "nope"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "authentication failed",
		},
		{
			name:       "unknown user looks the same",
			body:       auth.AuthenticationForm{MethodID: auth.MethodInternal, Username: "mallory", SpecialToken: "nope"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "authentication failed",
		},
		{
			name:       "unknown provider",
			body:       auth.AuthenticationForm{MethodID: "LDAP", Username: "bobby", SpecialToken: "hunter2"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       map[string]string{"authentication_method": auth.MethodInternal, "password": "hunter2"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/user/login", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp httputil.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp.Error)
			}
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "carol", "pw-1")

	w := s.do(t, http.MethodPost, "/user/register", auth.AuthenticationForm{
		MethodID:     auth.MethodInternal,
		Username:     "carol",
		SpecialToken: "pw-2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/user/register", auth.AuthenticationForm{
		MethodID:     auth.MethodInternal,
		Username:     "carol",
		SpecialToken: strings.Repeat("p", 73),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_RequiresTokens(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/user/logout", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/auth/oauth2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":["google"]}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/auth/oauth2/google", nil)
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	stateCookie := cookieNamed(w, OAuthStateCookie)
	require.NotNil(t, stateCookie)
	assert.Equal(t, state, stateCookie.Value)

	w = s.do(t, http.MethodGet, "/auth/oauth2/google/callback?code=good-code&state="+state, nil, withCookies(stateCookie))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cred sso.Credential
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cred))
	assert.Equal(t, sso.Credential{Provider: auth.MethodGoogle, Token: "id-token-for-google", State: state}, cred)

	t.Run("state mismatch", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/auth/oauth2/google/callback?code=good-code&state=forged", nil, withCookies(stateCookie))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing state cookie", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/auth/oauth2/google/callback?code=good-code&state="+state, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad code", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/auth/oauth2/google/callback?code=bad&state="+state, nil, withCookies(stateCookie))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("provider error", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/auth/oauth2/google/callback?error=access_denied", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/auth/oauth2/facebook", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPermissionRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "admin", "admin-pw")
	dave := s.register(t, "dave", "dave-pw")

	_, err := s.evaluator.GrantPermission(t.Context(), admin.ID, rbac.PermissionManage, rbac.StringPtr(rbac.TargetAll), rbac.StringPtr(rbac.LevelAdmin), 0)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/permissions/user/1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "permission routes need a token")

	grant := rbac.GrantRequest{UserID: dave.ID, Permission: "REPORTS", Level: rbac.StringPtr(rbac.LevelRead)}
	w = s.do(t, http.MethodPost, "/api/permissions/grant", grant, bearer(dave.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code, "dave cannot grant himself")

	w = s.do(t, http.MethodPost, "/api/permissions/grant", grant, bearer(admin.AccessToken))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/permissions/check?permission=REPORTS&level=READ", nil, bearer(dave.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	var check rbac.CheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&check))
	assert.True(t, check.Allowed)
	assert.Equal(t, dave.ID, check.SubjectID)
}

func TestRateLimitedCredentialRoutes(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, BurstSize: 1})
	s := newTestServer(t, withRateLimiter(middleware.NewRateLimitMiddleware(limiter, nil, nil)))

	form := auth.AuthenticationForm{MethodID: auth.MethodInternal, Username: "erin", SpecialToken: "pw"}
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		statuses = append(statuses, s.do(t, http.MethodPost, "/user/login", form).Code)
	}
	assert.Contains(t, statuses, http.StatusTooManyRequests)

	// logout is not limited
	w := s.do(t, http.MethodPost, "/user/logout", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_MetricsAndRequestID(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := newTestServer(t, func(d *Dependencies) { d.Metrics = metrics })

	w := s.do(t, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/nowhere", "404")))
}
