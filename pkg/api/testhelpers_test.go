package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// setupTestDB opens an in-memory sqlite database with every table the API
// touches
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			authentication_method TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE user_password (
			user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			password_hash TEXT NOT NULL
		);

		CREATE TABLE jwt_tokens (
			token_secret TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE permission_level_lk (
			permission_level_lk TEXT PRIMARY KEY,
			level_value INTEGER NOT NULL
		);

		CREATE TABLE user_permission (
			user_permission_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			permission_lk TEXT NOT NULL,
			permission_target_lk TEXT,
			permission_level_lk TEXT,
			granted_at TIMESTAMP NOT NULL,
			granted_by INTEGER
		);

		CREATE UNIQUE INDEX user_permission_tuple ON user_permission (
			user_id, permission_lk, COALESCE(permission_target_lk, ''), COALESCE(permission_level_lk, '')
		);
	`)
	require.NoError(t, err)
	return db
}

// fakeFlow is a redirect flow that accepts the code "good-code"
type fakeFlow struct {
	id string
}

func (f fakeFlow) ID() string     { return f.id }
func (f fakeFlow) Method() string { return auth.MethodGoogle }

func (f fakeFlow) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (f fakeFlow) Exchange(_ context.Context, code string) (*sso.Credential, error) {
	if code != "good-code" {
		return nil, fmt.Errorf("%w: bad code", auth.ErrAuthenticationFailed)
	}
	return &sso.Credential{Provider: auth.MethodGoogle, Token: "id-token-for-" + f.id}, nil
}

// testServer is a fully wired API over sqlite
type testServer struct {
	server    *Server
	store     *auth.Store
	evaluator *rbac.Evaluator
}

type serverOption func(*Dependencies)

func withRateLimiter(limiter *middleware.RateLimitMiddleware) serverOption {
	return func(d *Dependencies) { d.RateLimiter = limiter }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	ctx := context.Background()
	db := setupTestDB(t)

	store := auth.NewStore(db)
	registry, err := auth.NewRegistry(auth.NewInternalProvider(store, auth.NewBcryptHasher(bcrypt.MinCost), nil))
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(auth.TokenConfig{SigningKey: []byte("api-test-signing-key-0123456789ab")}, store, store)
	require.NoError(t, err)

	permStore := rbac.NewStore(db)
	require.NoError(t, rbac.SeedLevels(ctx, permStore))
	evaluator, err := rbac.NewEvaluator(ctx, permStore)
	require.NoError(t, err)

	flows, err := sso.NewFlows(fakeFlow{id: "google"})
	require.NoError(t, err)

	deps := Dependencies{
		Service:   auth.NewService(registry, tokens),
		Flows:     flows,
		Evaluator: evaluator,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	server, err := NewServer(deps)
	require.NoError(t, err)
	return &testServer{server: server, store: store, evaluator: evaluator}
}

// do sends a JSON request through the full middleware chain
func (s *testServer) do(t *testing.T, method, path string, body interface{}, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, req)
	return w
}

// register creates an internal user through the API and returns its session
func (s *testServer) register(t *testing.T, username, password string) *auth.AuthorizedUser {
	t.Helper()
	w := s.do(t, http.MethodPost, "/user/register", auth.AuthenticationForm{
		MethodID:     auth.MethodInternal,
		Username:     username,
		SpecialToken: password,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var session auth.AuthorizedUser
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
	return &session
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies ...*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
