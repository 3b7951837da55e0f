// Package sso provides the external identity providers for gatehouse.
//
// # Overview
//
// Google and Microsoft logins arrive as an external token. The provider
// verifies it, derives a local username and resolves the local user through
// an account link keyed by (method, external subject). Facebook is declared
// but returns auth.ErrNotImplemented.
//
// # Providers
//
//	store := auth.NewStore(db)
//	google, err := sso.NewGoogleVerifier(ctx, clientID)
//	registry, err := auth.NewRegistry(
//		auth.NewInternalProvider(store, nil, logger),
//		sso.NewGoogleProvider(google, store, logger),
//		sso.NewMicrosoftProvider(store, logger),
//		sso.NewFacebookProvider(),
//	)
//
// # Redirect flows
//
// GoogleFlow and MicrosoftFlow drive the authorization code grant. Exchange
// returns the credential the client posts back to /user/login:
//
//   - Google: the OIDC id_token
//   - Microsoft: a base64 JSON composite of the Graph /me profile
//
// The Microsoft composite is only checked structurally. Anyone able to post
// to /user/login can forge one, so deployments that enable Microsoft must
// keep the callback and the login on the same trusted origin.
//
// # Related Packages
//
//   - pkg/auth: Provider interface, user store and token issuance
//   - pkg/api: /auth/oauth2/{id} routes
package sso
