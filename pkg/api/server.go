package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// Dependencies are the services the API is built on. Flows, RateLimiter and
// Metrics are optional.
type Dependencies struct {
	Service     *auth.Service
	Flows       *sso.Flows
	Evaluator   *rbac.Evaluator
	RateLimiter *middleware.RateLimitMiddleware
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// SecureCookies marks session cookies Secure
	SecureCookies bool
	// MaxBodyBytes caps request bodies, 0 means 1 MiB
	MaxBodyBytes int64
}

// Server is the gatehouse HTTP API
type Server struct {
	router       *mux.Router
	handler      http.Handler
	deps         Dependencies
	authHandlers *AuthHandlers
	rbacHandlers *rbac.Handlers
}

// NewServer creates a new API server
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("%w: auth service is required", auth.ErrInvalidArgument)
	}
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("%w: permission evaluator is required", auth.ErrInvalidArgument)
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router:       mux.NewRouter(),
		deps:         deps,
		authHandlers: NewAuthHandlers(deps.Service, deps.Flows, deps.SecureCookies, deps.Logger),
		rbacHandlers: rbac.NewHandlers(deps.Evaluator),
	}
	s.setupRoutes()
	s.handler = s.wrap(s.router)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})

	var limit func(http.Handler) http.Handler
	if s.deps.RateLimiter != nil {
		limit = s.deps.RateLimiter.Handler
	}
	s.authHandlers.RegisterRoutes(s.router, limit)

	// Everything below requires a live access token
	protected := s.router.NewRoute().Subrouter()
	protected.Use(middleware.NewAuthMiddleware(s.deps.Service.Tokens(), false).Handler)
	protected.HandleFunc("/user/me", s.authHandlers.Me).Methods(http.MethodGet)
	s.rbacHandlers.RegisterRoutes(protected)
}

// Router returns the bare router, without the middleware chain
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in tracing, metrics, request ids,
// recovery, access logging and body limits
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) wrap(router http.Handler) http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware(s.deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes),
	)
	h := chain(router)
	if s.deps.Metrics != nil {
		h = observability.HTTPMetricsMiddleware(s.deps.Metrics)(h)
	}
	return otelhttp.NewHandler(h, "gatehouse-api")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
