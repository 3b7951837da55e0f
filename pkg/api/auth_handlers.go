package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// Cookie names set by login and read by refresh and logout
const (
	RefreshTokenCookie = "refresh_token"
	UserIDCookie       = "user_id"
	OAuthStateCookie   = "oauth_state"

	oauthStateTTL = 10 * time.Minute
)

// AuthHandlers handles login, registration, session and OAuth2 redirect
// requests
type AuthHandlers struct {
	service       *auth.Service
	flows         *sso.Flows
	secureCookies bool
	logger        *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance. flows may be nil when
// no redirect flow is configured.
func NewAuthHandlers(service *auth.Service, flows *sso.Flows, secureCookies bool, logger *observability.Logger) *AuthHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuthHandlers{
		service:       service,
		flows:         flows,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// RegisterRoutes registers the public authentication routes. limit, when not
// nil, wraps the routes that accept credentials.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, limit func(http.Handler) http.Handler) {
	limited := func(fn http.HandlerFunc) http.Handler {
		if limit == nil {
			return fn
		}
		return limit(fn)
	}

	// Session routes
	router.Handle("/user/login", limited(h.Login)).Methods(http.MethodPost)
	router.Handle("/user/register", limited(h.Register)).Methods(http.MethodPost)
	router.Handle("/user/refresh", limited(h.Refresh)).Methods(http.MethodPost)
	router.HandleFunc("/user/logout", h.Logout).Methods(http.MethodPost)

	// OAuth2 redirect flows
	router.HandleFunc("/auth/oauth2", h.ListFlows).Methods(http.MethodGet)
	router.HandleFunc("/auth/oauth2/{id}", h.StartOAuth).Methods(http.MethodGet)
	router.HandleFunc("/auth/oauth2/{id}/callback", h.OAuthCallback).Methods(http.MethodGet)
}

// Login handles POST /user/login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var form auth.AuthenticationForm
	if !httputil.ParseJSONOrError(w, r, &form) {
		return
	}

	session, err := h.service.Login(r.Context(), &form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, session)
	_ = httputil.WriteSuccess(w, session)
}

// Register handles POST /user/register. The new user is logged in.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var form auth.AuthenticationForm
	if !httputil.ParseJSONOrError(w, r, &form) {
		return
	}

	session, err := h.service.Register(r.Context(), &form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, session)
	_ = httputil.WriteCreated(w, session)
}

// Refresh handles POST /user/refresh. The session is read from the body and,
// when the body is empty, from the session cookies.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	current, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	session, err := h.service.RefreshSession(r.Context(), current)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, session)
	_ = httputil.WriteSuccess(w, session)
}

// Logout handles POST /user/logout. The cookies are cleared even when the
// session was already gone.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	current, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	h.clearSessionCookies(w)
	if err := h.service.Logout(r.Context(), current); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Me handles GET /user/me
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	_ = httputil.WriteSuccess(w, authCtx.User)
}

// ListFlows handles GET /auth/oauth2
func (h *AuthHandlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	ids := h.flows.IDs()
	if ids == nil {
		ids = []string{}
	}
	_ = httputil.WriteSuccess(w, map[string][]string{"providers": ids})
}

// StartOAuth handles GET /auth/oauth2/{id}: it stores a fresh state in a
// cookie and redirects to the provider
func (h *AuthHandlers) StartOAuth(w http.ResponseWriter, r *http.Request) {
	flow, err := h.flows.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    state,
		Path:     "/auth/oauth2/",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, flow.AuthCodeURL(state), http.StatusFound)
}

// OAuthCallback handles GET /auth/oauth2/{id}/callback. It returns the
// credential the client then logs in or registers with.
func (h *AuthHandlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	flow, err := h.flows.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		observability.FromContext(r.Context()).WithFields(map[string]interface{}{
			"provider":    flow.ID(),
			"error":       providerErr,
			"description": q.Get("error_description"),
		}).Warn("oauth2 provider returned an error")
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(OAuthStateCookie)
	if err != nil || state == "" || cookie.Value != state {
		httputil.WriteBadRequest(w, "invalid oauth2 state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: OAuthStateCookie, Path: "/auth/oauth2/", MaxAge: -1})

	cred, err := flow.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cred.State = state
	_ = httputil.WriteSuccess(w, cred)
}

// sessionFromRequest decodes an AuthorizedUser from the body or, for an
// empty body, assembles one from the session cookies
func (h *AuthHandlers) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*auth.AuthorizedUser, bool) {
	var session auth.AuthorizedUser
	if r.Body != nil && r.ContentLength != 0 {
		err := httputil.ParseJSON(r, &session)
		if err == nil {
			return &session, true
		}
		if !errors.Is(err, io.EOF) {
			httputil.WriteBadRequest(w, err.Error())
			return nil, false
		}
	}

	if c, err := r.Cookie(middleware.AccessTokenCookie); err == nil {
		session.AccessToken = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		session.RefreshToken = c.Value
	}
	if c, err := r.Cookie(UserIDCookie); err == nil {
		session.ID, _ = strconv.ParseInt(c.Value, 10, 64)
	}
	if session.AccessToken == "" && session.RefreshToken == "" {
		httputil.WriteBadRequest(w, "session tokens are required")
		return nil, false
	}
	return &session, true
}

func (h *AuthHandlers) setSessionCookies(w http.ResponseWriter, session *auth.AuthorizedUser) {
	h.setCookie(w, middleware.AccessTokenCookie, session.AccessToken, true)
	h.setCookie(w, RefreshTokenCookie, session.RefreshToken, true)
	// readable by scripts so browser clients know who is logged in
	h.setCookie(w, UserIDCookie, strconv.FormatInt(session.ID, 10), false)
}

func (h *AuthHandlers) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{middleware.AccessTokenCookie, RefreshTokenCookie, UserIDCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
	}
}

func (h *AuthHandlers) setCookie(w http.ResponseWriter, name, value string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError logs server-side failures before mapping err to a response
func (h *AuthHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusForError(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteAuthError(w, err)
}
