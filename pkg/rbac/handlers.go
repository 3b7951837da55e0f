package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
)

// PermissionManage is the permission key guarding the permission endpoints.
// It is checked with the managed user's ID as target, so a SELF grant lets a
// user manage only their own grants and ALL lets them manage everyone's.
const PermissionManage = "MANAGE_PERMISSIONS"

// Handlers provides HTTP handlers for permission operations
type Handlers struct {
	evaluator *Evaluator
}

// NewHandlers creates new permission handlers
func NewHandlers(evaluator *Evaluator) *Handlers {
	return &Handlers{evaluator: evaluator}
}

// RegisterRoutes registers the permission routes. The router must already be
// wrapped by an AuthMiddleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/permissions/user/{userId}", h.ListUserPermissions).Methods(http.MethodGet)
	router.HandleFunc("/api/permissions/grant", h.GrantPermission).Methods(http.MethodPost)
	router.HandleFunc("/api/permissions/revoke", h.RevokePermission).Methods(http.MethodPost)
	router.HandleFunc("/api/permissions/check", h.CheckPermission).Methods(http.MethodGet)
}

// CheckResponse is the body of GET /api/permissions/check
type CheckResponse struct {
	PermissionCheck
	PermissionCheckResult
}

// RevokeResponse is the body of POST /api/permissions/revoke
type RevokeResponse struct {
	Revoked int64 `json:"revoked"`
}

// ListUserPermissions returns the grants of the user in the path. Users may
// always list their own grants.
func (h *Handlers) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	acting, ok := actingUser(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}
	if userID != acting.ID && !h.authorize(w, r, acting, userID, LevelRead) {
		return
	}

	perms, err := h.evaluator.UserPermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	if perms == nil {
		perms = []UserPermission{}
	}
	_ = httputil.WriteSuccess(w, perms)
}

// GrantPermission records a grant on behalf of the authenticated user
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	acting, ok := actingUser(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.Permission == "" {
		httputil.WriteBadRequest(w, "user_id and permission are required")
		return
	}
	if !h.authorize(w, r, acting, req.UserID, LevelWrite) {
		return
	}

	perm, err := h.evaluator.GrantPermission(r.Context(), req.UserID, req.Permission, req.Target, req.Level, acting.ID)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, perm)
}

// RevokePermission deletes the grants matching the request tuple
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	acting, ok := actingUser(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.Permission == "" {
		httputil.WriteBadRequest(w, "user_id and permission are required")
		return
	}
	if !h.authorize(w, r, acting, req.UserID, LevelDelete) {
		return
	}

	n, err := h.evaluator.RevokePermission(r.Context(), req.UserID, req.Permission, req.Target, req.Level)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, RevokeResponse{Revoked: n})
}

// CheckPermission answers whether user_id (default: the caller) holds
// permission at level and target. The caller is the acting user for SELF
// grants.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	acting, ok := actingUser(w, r)
	if !ok {
		return
	}

	check := PermissionCheck{
		SubjectID:  acting.ID,
		Permission: r.URL.Query().Get("permission"),
		Level:      httputil.QueryStringPtr(r, "level"),
		Target:     httputil.QueryStringPtr(r, "target"),
	}
	if check.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}
	if r.URL.Query().Get("user_id") != "" {
		subjectID, err := httputil.ParseQueryInt64(r, "user_id")
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		check.SubjectID = subjectID
	}
	if check.SubjectID != acting.ID && !h.authorize(w, r, acting, check.SubjectID, LevelRead) {
		return
	}

	result, err := h.evaluator.Check(r.Context(), check, acting)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, CheckResponse{PermissionCheck: check, PermissionCheckResult: *result})
}

// authorize requires acting to hold PermissionManage at level over managed,
// writing 403 (or the error status) when it does not
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, acting *auth.User, managed int64, level string) bool {
	target := strconv.FormatInt(managed, 10)
	allowed, err := h.evaluator.HasPermission(r.Context(), acting, &auth.User{ID: managed}, PermissionManage, &level, &target)
	if err != nil {
		httputil.WriteAuthError(w, err)
		return false
	}
	if !allowed {
		httputil.WriteForbidden(w, "insufficient permissions")
		return false
	}
	return true
}

func actingUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return authCtx.User, true
}
