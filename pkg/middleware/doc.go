// Package middleware provides HTTP middleware for authentication and rate
// limiting.
//
// AuthMiddleware authenticates the access token from the Authorization
// header or the access_token cookie and attaches an *auth.AuthContext:
//
//	protected := middleware.NewAuthMiddleware(tokenManager, false)
//	router.Handle("/api/permissions/check", protected.Handler(checkHandler))
//
// RateLimitMiddleware throttles the credential endpoints. With Redis
// configured the budget is shared across instances:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, nil, logger).Handler)
package middleware
