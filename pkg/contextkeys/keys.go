// Package contextkeys provides centralized context key definitions
//
// Context keys shared between packages that must not import each other are
// defined here. Request IDs, user IDs and request loggers live in
// pkg/observability.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

// AuthKey contains *auth.AuthContext
// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
// Required by: /api/permissions endpoints, rbac.RequirePermission
const AuthKey Key = "auth_context"

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}
