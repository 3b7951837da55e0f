// Package httputil provides the HTTP plumbing shared by gatehouse handlers:
// JSON responses, request parsing, mapping of auth error kinds to status
// codes, and the request ID, logging and recovery middleware.
//
// Error responses:
//
//	httputil.WriteBadRequest(w, "user_id is required")
//	httputil.WriteAuthError(w, err) // status chosen from the auth error kind
//
// Middleware:
//
//	handler = httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(handler)
package httputil
