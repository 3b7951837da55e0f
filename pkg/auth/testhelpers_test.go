package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

// setupTestDB opens an in-memory sqlite database with the auth tables. The
// pool is pinned to one connection because every sqlite connection gets its
// own memory database.
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
	`)
	require.NoError(t, err)
	return db
}

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTokenManager(t *testing.T, store *Store, clock *testClock, opts ...TokenOption) *TokenManager {
	t.Helper()
	opts = append([]TokenOption{WithClock(clock.Now)}, opts...)
	tm, err := NewTokenManager(TokenConfig{SigningKey: testSigningKey}, store, store, opts...)
	require.NoError(t, err)
	return tm
}

func newTestHasher() *BcryptHasher {
	return NewBcryptHasher(bcrypt.MinCost)
}

func createTestUser(t *testing.T, store *Store, username, password string) *User {
	t.Helper()
	provider := NewInternalProvider(store, newTestHasher(), nil)
	user, err := provider.CreateUser(context.Background(), &AuthenticationForm{
		MethodID:     MethodInternal,
		Username:     username,
		SpecialToken: password,
	})
	require.NoError(t, err)
	return user
}

// stubProvider is a scripted Provider
type stubProvider struct {
	name       string
	authOK     bool
	authErr    error
	user       *User
	createErr  error
	created    []*AuthenticationForm
	credential map[string]any
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Authenticate(_ context.Context, credentials map[string]any) (bool, error) {
	p.credential = credentials
	return p.authOK, p.authErr
}

func (p *stubProvider) ValidateCredentials(map[string]any) error { return nil }

func (p *stubProvider) CreateUser(_ context.Context, form *AuthenticationForm) (*User, error) {
	p.created = append(p.created, form)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.user, nil
}

func (p *stubProvider) UserFromCredentials(context.Context, *AuthenticationForm) (*User, error) {
	if p.user == nil {
		return nil, ErrResourceNotFound
	}
	return p.user, nil
}

func (p *stubProvider) InsertCredentialsForUser(context.Context, *User, map[string]any) error {
	return nil
}

// memoryLivenessCache implements LivenessCache over a map
type memoryLivenessCache struct {
	mu         sync.Mutex
	records    map[string]TokenRecord
	tombstones map[string]bool
	lookups    int
	hits       int
	revokeErr  error
}

func newMemoryLivenessCache() *memoryLivenessCache {
	return &memoryLivenessCache{
		records:    make(map[string]TokenRecord),
		tombstones: make(map[string]bool),
	}
}

func (c *memoryLivenessCache) Lookup(_ context.Context, secret string) (*TokenRecord, CacheStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if c.tombstones[secret] {
		c.hits++
		return nil, CacheRevoked, nil
	}
	rec, ok := c.records[secret]
	if !ok {
		return nil, CacheMiss, nil
	}
	c.hits++
	return &rec, CacheLive, nil
}

func (c *memoryLivenessCache) Remember(_ context.Context, rec *TokenRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tombstones[rec.TokenSecret] {
		return nil
	}
	if _, ok := c.records[rec.TokenSecret]; !ok {
		c.records[rec.TokenSecret] = *rec
	}
	return nil
}

func (c *memoryLivenessCache) MarkRevoked(_ context.Context, secrets ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revokeErr != nil {
		return c.revokeErr
	}
	for _, s := range secrets {
		delete(c.records, s)
		c.tombstones[s] = true
	}
	return nil
}

// evict drops live entries as if their TTL ran out
func (c *memoryLivenessCache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]TokenRecord)
}

// hookedTokenStore runs afterList once, right after the next TokensForUser
// read returns
type hookedTokenStore struct {
	*Store
	afterList func()
}

func (s *hookedTokenStore) TokensForUser(ctx context.Context, userID int64) ([]TokenRecord, error) {
	records, err := s.Store.TokensForUser(ctx, userID)
	if hook := s.afterList; hook != nil {
		s.afterList = nil
		hook()
	}
	return records, err
}

// staticUserStore resolves a fixed set of users
type staticUserStore struct {
	users map[int64]*User
	calls int
}

func (s *staticUserStore) UserByID(_ context.Context, id int64) (*User, error) {
	s.calls++
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, ErrResourceNotFound
}

func (s *staticUserStore) UserByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, ErrResourceNotFound
}
