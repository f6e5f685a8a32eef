// Package auth implements staff authentication for a tenant: login with optional
// TOTP, single-use rotating refresh tokens, logout, password change with session
// revocation, and invitation-based password setup.
//
// # Credentials
//
// Access tokens are short-lived HS256 JWTs minted by a TokenIssuer and carry the
// staff id, tenant id, email and role. Refresh tokens are opaque:
//
//	crt_<base64url(32 random bytes)>
//
// Only their SHA-256 hash is stored. Every successful Refresh revokes the presented
// token and issues exactly one replacement inside a single store transaction, so two
// concurrent refreshes with the same token cannot both succeed.
//
// # Errors
//
// Authenticator methods return apperr errors. Every credential failure is an
// Unauthorized "invalid credentials" to the caller; the precise reason
// (unknown_email, bad_password, token_revoked, ...) only reaches logs, metrics and
// the audit trail.
//
// # Usage
//
//	authenticator := auth.NewAuthenticator(store, issuer, auth.NewBcryptHasher(12), auth.NewTOTPVerifier(1), auth.Options{
//		RefreshTTL: 7 * 24 * time.Hour,
//	})
//	pair, err := authenticator.Login(ctx, auth.LoginRequest{Email: email, Password: password})
//
// ctx must carry a tenant scope (see tenancy.Enter).
package auth
