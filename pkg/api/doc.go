// Package api wires the gatehouse HTTP surface.
//
// Public routes:
//
//	POST /user/login                 log in with an AuthenticationForm
//	POST /user/register              create a user and log it in
//	POST /user/refresh               rotate a session's token pair
//	POST /user/logout                revoke a session
//	GET  /auth/oauth2                list redirect flows
//	GET  /auth/oauth2/{id}           redirect to the provider
//	GET  /auth/oauth2/{id}/callback  exchange the code for a login credential
//
// Routes behind AuthMiddleware:
//
//	GET  /user/me
//	GET  /api/permissions/user/{userId}
//	POST /api/permissions/grant
//	POST /api/permissions/revoke
//	GET  /api/permissions/check
//
// Login, register and refresh set the access_token, refresh_token and
// user_id cookies; refresh and logout accept either a JSON body or those
// cookies. Errors are JSON bodies shaped like httputil.ErrorResponse.
package api
