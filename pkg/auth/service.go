package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Service is the entry point used by transports: it routes a form to its
// provider and turns a successful authentication into a session.
type Service struct {
	registry *Registry
	tokens   *TokenManager
	logger   *observability.Logger
	metrics  *observability.Metrics
	otel     *observability.OTelMetrics
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithServiceLogger sets the logger
func WithServiceLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceMetrics sets the Prometheus metrics
func WithServiceMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithServiceOTelMetrics sets the OpenTelemetry instruments
func WithServiceOTelMetrics(otel *observability.OTelMetrics) ServiceOption {
	return func(s *Service) {
		s.otel = otel
	}
}

// NewService creates the authentication service
func NewService(registry *Registry, tokens *TokenManager, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		tokens:   tokens,
		logger:   observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the provider registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// Tokens exposes the token manager
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// Login authenticates the form with its provider and opens a session
func (s *Service) Login(ctx context.Context, form *AuthenticationForm) (*AuthorizedUser, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is required", ErrInvalidArgument)
	}

	start := time.Now()
	user, err := s.login(ctx, form)
	s.observeLogin(ctx, form.MethodID, start, err)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(ctx, user, nil)
	if err != nil {
		return nil, err
	}
	return newAuthorizedUser(user, token), nil
}

func (s *Service) login(ctx context.Context, form *AuthenticationForm) (*User, error) {
	provider, err := s.registry.Resolve(form.MethodID)
	if err != nil {
		return nil, err
	}

	ok, err := provider.Authenticate(ctx, form.Credentials())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s rejected the credentials", ErrAuthenticationFailed, provider.Name())
	}

	return provider.UserFromCredentials(ctx, form)
}

// Register creates a user through the form's provider and logs it in
func (s *Service) Register(ctx context.Context, form *AuthenticationForm) (*AuthorizedUser, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: form is required", ErrInvalidArgument)
	}

	provider, err := s.registry.Resolve(form.MethodID)
	if err != nil {
		return nil, err
	}

	user, err := provider.CreateUser(ctx, form)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.UsersCreatedTotal.WithLabelValues(provider.Name()).Inc()
	}

	token, err := s.tokens.Issue(ctx, user, nil)
	if err != nil {
		return nil, err
	}
	return newAuthorizedUser(user, token), nil
}

// RefreshSession swaps the session's refresh token for a new pair
func (s *Service) RefreshSession(ctx context.Context, current *AuthorizedUser) (*AuthorizedUser, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidArgument)
	}

	user, token, err := s.tokens.refresh(ctx, &AuthToken{
		UserID:       current.ID,
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
	})
	if s.otel != nil {
		s.otel.RecordTokenOperation(ctx, "refresh", err)
	}
	if err != nil {
		return nil, err
	}
	return newAuthorizedUser(user, token), nil
}

// Logout revokes the issuance behind the session. The access token is tried
// first and the refresh token second; logging out an already revoked session
// succeeds.
func (s *Service) Logout(ctx context.Context, current *AuthorizedUser) error {
	if current == nil || (current.AccessToken == "" && current.RefreshToken == "") {
		return fmt.Errorf("%w: session has no tokens", ErrInvalidArgument)
	}

	var err error
	for _, token := range []string{current.AccessToken, current.RefreshToken} {
		if token == "" {
			continue
		}
		if _, err = s.tokens.RevokeToken(ctx, token); err == nil {
			break
		}
	}
	if s.otel != nil {
		s.otel.RecordTokenOperation(ctx, "revoke", err)
	}
	if err != nil {
		return err
	}

	s.logger.WithField("user_id", current.ID).Debug("session revoked")
	return nil
}

func (s *Service) observeLogin(ctx context.Context, method string, start time.Time, err error) {
	if s.otel != nil {
		s.otel.RecordLogin(ctx, method, time.Since(start), err)
	}
	if s.metrics == nil {
		return
	}
	s.metrics.LoginAttemptsTotal.WithLabelValues(normalizeMethod(method), loginResult(err)).Inc()
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrResourceNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrAuthenticationFailed):
		return "failed"
	default:
		return "error"
	}
}
