// Package api provides the HTTP REST API of the clinic platform.
//
// # Overview
//
// The API is built on gorilla/mux. Every route lives under /api/v1 and passes
// through the tenant middleware, so handlers always run inside a tenant scope.
//
//   - Authentication: login, refresh, logout, password setup from an invitation
//   - Account: change password, read and update the own profile
//   - Permissions: read effective grants, read and replace the grants of a staff member
//   - Invitations: issue a one-time password setup token for a staff member
//
// # Middleware Order
//
// Global: request id, request logging, panic recovery, span naming.
// Under /api/v1: tenant resolution. Credential routes add the rate limiter;
// authenticated routes add the auth middleware and, where needed, a permission check.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Tenants:       tenantResolver,
//		Authenticator: authenticator,
//		Issuer:        issuer,
//		Permissions:   permissionResolver,
//		Logger:        logger,
//	})
//	http.ListenAndServe(":8080", server.Handler())
//
// Health and metrics are served on a separate listener built by NewHealthRouter.
//
// # Errors
//
// Failures are JSON bodies of the form {"error": "...", "code": "..."} where code is
// the apperr kind. Internal errors are logged with the request logger and never expose
// their cause.
package api
