package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const (
	// DefaultAccessTTL is the lifetime of access tokens and of the record
	// backing both halves of a pair
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL is the lifetime of refresh tokens
	DefaultRefreshTTL = 2 * time.Hour
	// DefaultIssuer is used when TokenConfig.Issuer is empty
	DefaultIssuer = "gatehouse"

	claimUserID      = "userId"
	claimUsername    = "username"
	claimTokenSecret = "tokenSecret"
)

var tracer = otel.Tracer("github.com/platinummonkey/gatehouse/pkg/auth")

// CacheStatus is what a LivenessCache knows about a token secret
type CacheStatus int

const (
	// CacheMiss means the cache holds nothing for the secret
	CacheMiss CacheStatus = iota
	// CacheLive means the cache holds the secret's record
	CacheLive
	// CacheRevoked means the secret was revoked
	CacheRevoked
)

// LivenessCache is an optional read-through cache of token records keyed by
// token secret. Revocations are written as tombstones so a record cached
// before the revocation, or re-cached by a verify that raced it, never
// answers live again.
type LivenessCache interface {
	Lookup(ctx context.Context, secret string) (*TokenRecord, CacheStatus, error)
	// Remember caches rec unless the secret already has an entry. It must
	// never replace a tombstone.
	Remember(ctx context.Context, rec *TokenRecord) error
	// MarkRevoked replaces the entries for secrets with tombstones
	MarkRevoked(ctx context.Context, secrets ...string) error
}

// TokenConfig configures signing
type TokenConfig struct {
	Issuer     string
	SigningKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the decoded payload shared by access and refresh tokens
type Claims struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	TokenSecret string `json:"tokenSecret"`
	jwt.RegisteredClaims
}

// TokenManager issues, verifies, refreshes and revokes session tokens. Every
// issuance carries a random token secret that must still be on record for
// the tokens to verify, so deleting the record revokes both halves of the
// pair at once.
type TokenManager struct {
	cfg     TokenConfig
	tokens  TokenStore
	users   UserStore
	cache   LivenessCache
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// TokenOption configures a TokenManager
type TokenOption func(*TokenManager)

// WithClock overrides the time source
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLivenessCache puts a cache in front of the token store
func WithLivenessCache(cache LivenessCache) TokenOption {
	return func(m *TokenManager) {
		m.cache = cache
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger *observability.Logger) TokenOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTokenMetrics sets the Prometheus metrics
func WithTokenMetrics(metrics *observability.Metrics) TokenOption {
	return func(m *TokenManager) {
		m.metrics = metrics
	}
}

// NewTokenManager creates a token manager. The signing key is required.
func NewTokenManager(cfg TokenConfig, tokens TokenStore, users UserStore, opts ...TokenOption) (*TokenManager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidArgument)
	}
	if tokens == nil || users == nil {
		return nil, fmt.Errorf("%w: token and user stores are required", ErrInvalidArgument)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	m := &TokenManager{
		cfg:    cfg,
		tokens: tokens,
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue mints a token pair for user and records its secret
func (m *TokenManager) Issue(ctx context.Context, user *User, extraClaims map[string]any) (*AuthToken, error) {
	ctx, span := tracer.Start(ctx, "TokenManager.Issue")
	defer span.End()

	token, rec, err := m.mint(user, extraClaims)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := m.tokens.InsertToken(ctx, rec); err != nil {
		span.SetStatus(codes.Error, "insert token")
		return nil, err
	}
	m.remember(ctx, rec)

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.Inc()
	}
	return token, nil
}

// Verify reports whether token is a live token of the given kind. A token
// that is correctly signed but past its expiration returns ErrTokenExpired.
// Any other mismatch, including tokens signed with a foreign key, returns
// (false, nil).
func (m *TokenManager) Verify(ctx context.Context, token string, kind TokenKind) (bool, error) {
	ctx, span := tracer.Start(ctx, "TokenManager.Verify", trace.WithAttributes(attribute.String("token.kind", kind.String())))
	defer span.End()

	_, _, err := m.verify(ctx, token, kind)
	switch {
	case err == nil:
		m.observeVerify(kind, "valid")
		return true, nil
	case errors.Is(err, ErrTokenExpired):
		m.observeVerify(kind, "expired")
		return false, err
	case errors.Is(err, errTokenRejected):
		m.observeVerify(kind, "invalid")
		return false, nil
	default:
		span.RecordError(err)
		m.observeVerify(kind, "error")
		return false, err
	}
}

// Authenticate verifies an access token and returns the user it belongs to
func (m *TokenManager) Authenticate(ctx context.Context, token string) (*User, *Claims, error) {
	user, claims, err := m.verify(ctx, token, AccessToken)
	if errors.Is(err, errTokenRejected) {
		m.observeVerify(AccessToken, "invalid")
		return nil, nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			m.observeVerify(AccessToken, "expired")
		}
		return nil, nil, err
	}
	m.observeVerify(AccessToken, "valid")
	return user, claims, nil
}

// Refresh exchanges a live refresh token for a new pair. The old record is
// deleted and the new one inserted in the same transaction; if either step
// fails the old record is left untouched.
func (m *TokenManager) Refresh(ctx context.Context, current *AuthToken) (*AuthToken, error) {
	_, next, err := m.refresh(ctx, current)
	return next, err
}

func (m *TokenManager) refresh(ctx context.Context, current *AuthToken) (*User, *AuthToken, error) {
	ctx, span := tracer.Start(ctx, "TokenManager.Refresh")
	defer span.End()

	if current == nil || current.RefreshToken == "" {
		return nil, nil, fmt.Errorf("%w: refresh token is required", ErrInvalidArgument)
	}

	user, claims, err := m.verify(ctx, current.RefreshToken, RefreshToken)
	if errors.Is(err, errTokenRejected) {
		m.observeVerify(RefreshToken, "invalid")
		return nil, nil, fmt.Errorf("%w: refresh token is not live", ErrAuthenticationFailed)
	}
	if err != nil {
		return nil, nil, err
	}
	if current.UserID != 0 && current.UserID != claims.UserID {
		return nil, nil, fmt.Errorf("%w: refresh token belongs to another user", ErrAuthenticationFailed)
	}

	next, rec, err := m.mint(user, nil)
	if err != nil {
		return nil, nil, err
	}

	err = m.tokens.WithTokenTx(ctx, func(tx TokenStore) error {
		n, err := tx.DeleteTokensBySecret(ctx, claims.TokenSecret)
		if err != nil {
			return err
		}
		if n == 0 {
			// a concurrent refresh or logout already consumed this issuance
			return fmt.Errorf("%w: refresh token is not live", ErrAuthenticationFailed)
		}
		if err := m.markRevoked(ctx, claims.TokenSecret); err != nil {
			return err
		}
		return tx.InsertToken(ctx, rec)
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	m.remember(ctx, rec)
	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.Inc()
		m.metrics.TokensRevokedTotal.Add(1)
	}
	return user, next, nil
}

// Revoke deletes the records holding any of secrets. Both tokens of each
// issuance stop verifying. With a liveness cache the secrets are tombstoned
// in the same transaction as the delete; if that fails nothing is revoked.
func (m *TokenManager) Revoke(ctx context.Context, secrets ...string) (int64, error) {
	var n int64
	err := m.tokens.WithTokenTx(ctx, func(tx TokenStore) error {
		var err error
		if n, err = tx.DeleteTokensBySecret(ctx, secrets...); err != nil {
			return err
		}
		return m.markRevoked(ctx, secrets...)
	})
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		m.metrics.TokensRevokedTotal.Add(float64(n))
	}
	return n, nil
}

// RevokeUser deletes every record of userID. The tombstoned secrets are
// exactly the deleted rows, so a pair issued concurrently is either revoked
// and tombstoned or left alone.
func (m *TokenManager) RevokeUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := m.tokens.WithTokenTx(ctx, func(tx TokenStore) error {
		secrets, err := tx.DeleteTokensForUser(ctx, userID)
		if err != nil {
			return err
		}
		n = int64(len(secrets))
		return m.markRevoked(ctx, secrets...)
	})
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		m.metrics.TokensRevokedTotal.Add(float64(n))
	}
	return n, nil
}

// RevokeToken revokes the issuance a token belongs to. Expired tokens are
// accepted as long as we signed them.
func (m *TokenManager) RevokeToken(ctx context.Context, token string) (int64, error) {
	claims, err := m.parse(token, false)
	if err != nil {
		return 0, fmt.Errorf("%w: token cannot be revoked", ErrInvalidArgument)
	}
	return m.Revoke(ctx, claims.TokenSecret)
}

// SweepExpired deletes records whose expiry has passed
func (m *TokenManager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.tokens.DeleteExpiredTokens(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if m.metrics != nil {
		m.metrics.TokensSweptTotal.Add(float64(n))
	}
	return n, nil
}

// errTokenRejected marks a verify miss that callers see as false
var errTokenRejected = errors.New("token rejected")

// verify runs the syntactic, signature, liveness and user checks in order
func (m *TokenManager) verify(ctx context.Context, token string, kind TokenKind) (*User, *Claims, error) {
	if token == "" || !strings.Contains(token, ".") {
		return nil, nil, fmt.Errorf("%w: malformed", errTokenRejected)
	}

	claims, err := m.parse(token, true)
	if errors.Is(err, jwt.ErrTokenExpired) {
		if _, sigErr := m.parse(token, false); sigErr != nil {
			return nil, nil, fmt.Errorf("%w: %v", errTokenRejected, sigErr)
		}
		m.logger.WithFields(map[string]interface{}{
			"kind":  kind.String(),
			"token": tokenFingerprint(token),
		}).Warn("token expired")
		if m.metrics != nil {
			m.metrics.TokenExpiredTotal.WithLabelValues(kind.String()).Inc()
		}
		return nil, nil, fmt.Errorf("%w: %s token", ErrTokenExpired, kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errTokenRejected, err)
	}
	if claims.UserID <= 0 || claims.TokenSecret == "" {
		return nil, nil, fmt.Errorf("%w: missing claims", errTokenRejected)
	}

	live, err := m.isLive(ctx, claims, token, kind)
	if err != nil {
		return nil, nil, err
	}
	if !live {
		return nil, nil, fmt.Errorf("%w: no live record", errTokenRejected)
	}

	user, err := m.users.UserByID(ctx, claims.UserID)
	if errors.Is(err, ErrResourceNotFound) {
		return nil, nil, fmt.Errorf("%w: user %d is gone", errTokenRejected, claims.UserID)
	}
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// isLive looks for a record of the claim's user holding the claim's secret
// that has not expired and whose stored token of the given kind is token
func (m *TokenManager) isLive(ctx context.Context, claims *Claims, token string, kind TokenKind) (bool, error) {
	now := m.now()

	if m.cache != nil {
		rec, status, err := m.cache.Lookup(ctx, claims.TokenSecret)
		switch {
		case err != nil:
			m.logger.WithError(err).Warn("liveness cache lookup failed")
		case status == CacheRevoked:
			return false, nil
		case status == CacheLive:
			return recordMatches(rec, claims, token, kind, now), nil
		}
	}

	records, err := m.tokens.TokensForUser(ctx, claims.UserID)
	if err != nil {
		return false, err
	}
	for i := range records {
		rec := &records[i]
		if rec.TokenSecret != claims.TokenSecret {
			continue
		}
		if !recordMatches(rec, claims, token, kind, now) {
			return false, nil
		}
		m.remember(ctx, rec)
		return true, nil
	}
	return false, nil
}

func recordMatches(rec *TokenRecord, claims *Claims, token string, kind TokenKind, now time.Time) bool {
	if rec.UserID != claims.UserID || rec.TokenSecret != claims.TokenSecret {
		return false
	}
	if !now.Before(rec.ExpiresAt) {
		return false
	}
	switch kind {
	case AccessToken:
		return rec.AccessToken == token
	case RefreshToken:
		return rec.RefreshToken == token
	default:
		return false
	}
}

// mint builds and signs a pair without touching storage
func (m *TokenManager) mint(user *User, extraClaims map[string]any) (*AuthToken, *TokenRecord, error) {
	if user == nil || user.ID <= 0 {
		return nil, nil, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}

	secret, err := NewTokenSecret()
	if err != nil {
		return nil, nil, err
	}

	now := m.now().Truncate(time.Second)
	accessExp := now.Add(m.cfg.AccessTTL)
	refreshExp := now.Add(m.cfg.RefreshTTL)

	access, err := m.sign(user, secret, extraClaims, now, accessExp)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := m.sign(user, secret, extraClaims, now, refreshExp)
	if err != nil {
		return nil, nil, err
	}

	token := &AuthToken{UserID: user.ID, AccessToken: access, RefreshToken: refresh}
	rec := &TokenRecord{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenSecret:  secret,
		ExpiresAt:    accessExp,
	}
	return token, rec, nil
}

func (m *TokenManager) sign(user *User, secret string, extraClaims map[string]any, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range extraClaims {
		claims[k] = v
	}
	claims["iss"] = m.cfg.Issuer
	claims["iat"] = jwt.NewNumericDate(issuedAt)
	claims["exp"] = jwt.NewNumericDate(expiresAt)
	claims[claimUserID] = user.ID
	claims[claimUsername] = user.Username
	claims[claimTokenSecret] = secret

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parse checks the signature and decodes claims. With validate false the
// expiry and issuer checks are skipped.
func (m *TokenManager) parse(token string, validate bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if validate {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer), jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func (m *TokenManager) remember(ctx context.Context, rec *TokenRecord) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Remember(ctx, rec); err != nil {
		m.logger.WithError(err).Warn("failed to cache token record")
	}
}

func (m *TokenManager) markRevoked(ctx context.Context, secrets ...string) error {
	if m.cache == nil || len(secrets) == 0 {
		return nil
	}
	if err := m.cache.MarkRevoked(ctx, secrets...); err != nil {
		return fmt.Errorf("failed to tombstone revoked tokens: %w", err)
	}
	return nil
}

func (m *TokenManager) observeVerify(kind TokenKind, result string) {
	if m.metrics != nil {
		m.metrics.TokenVerificationsTotal.WithLabelValues(kind.String(), result).Inc()
	}
}

// tokenFingerprint returns the tail of a token for log lines
func tokenFingerprint(token string) string {
	if len(token) <= 8 {
		return token
	}
	return "..." + token[len(token)-8:]
}
