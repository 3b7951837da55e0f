package sso

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// setupTestStore opens an in-memory sqlite database with the user and
// account link tables
func setupTestStore(t *testing.T) *auth.Store {
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

		CREATE TABLE user_oauth_accounts (
			provider TEXT NOT NULL,
			external_user_id TEXT NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, external_user_id)
		);

		CREATE TABLE jwt_tokens (
			token_secret TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)
	return auth.NewStore(db)
}

// fakeVerifier maps opaque tokens to identities
type fakeVerifier struct {
	identities map[string]*Identity
	verified   int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{identities: make(map[string]*Identity)}
}

func (v *fakeVerifier) add(token, subject, email string) {
	v.identities[token] = &Identity{Subject: subject, Email: email}
}

func (v *fakeVerifier) addNamed(token, subject, email, name string) {
	v.identities[token] = &Identity{Subject: subject, Email: email, Name: name}
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	v.verified++
	id, ok := v.identities[token]
	if !ok {
		return nil, fmt.Errorf("unknown token %q", token)
	}
	return id, nil
}

func (v *fakeVerifier) Decode(token string) (*Identity, error) {
	id, ok := v.identities[token]
	if !ok {
		return nil, fmt.Errorf("unknown token %q", token)
	}
	return id, nil
}

func insertUser(t *testing.T, store *auth.Store, username string) *auth.User {
	t.Helper()
	user := &auth.User{Username: username, AuthenticationMethod: auth.MethodInternal}
	require.NoError(t, store.InsertUser(context.Background(), user))
	return user
}
