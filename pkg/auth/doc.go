// Package auth authenticates users against pluggable credential schemes and
// manages their session tokens.
//
// # Providers
//
// Each authentication method is a Provider. Providers are collected once at
// startup into an immutable Registry keyed by method id:
//
//	registry, err := auth.NewRegistry(
//		auth.NewInternalProvider(store, auth.NewBcryptHasher(12), logger),
//		googleProvider,
//		microsoftProvider,
//	)
//
// The internal provider stores bcrypt hashes. OAuth providers live in the sso
// package and link external subjects to local users.
//
// # Tokens
//
// TokenManager signs an HS256 access/refresh pair per login. Both tokens
// carry the same random token secret and the issuance is persisted in
// jwt_tokens. A token verifies only while its row exists and has not
// expired, so deleting the row logs the session out:
//
//	pair, _ := tokens.Issue(ctx, user, nil)
//	ok, err := tokens.Verify(ctx, pair.AccessToken, auth.AccessToken)
//	// err is ErrTokenExpired for a correctly signed token past its exp
//	next, _ := tokens.Refresh(ctx, pair) // old row deleted, new row inserted in one tx
//
// # Errors
//
// Failures wrap the sentinels in errors.go and are matched with errors.Is.
package auth
