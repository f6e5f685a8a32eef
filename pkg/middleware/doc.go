// Package middleware provides the HTTP middleware chain of the clinicore API.
//
// # Chain
//
// Requests pass through, outermost first:
//
//	RequestID       assigns X-Request-ID
//	RequestLogger   stores a request-scoped logrus entry, logs and measures the request
//	Recovery        turns panics into 500 responses
//	TenantMiddleware resolves the tenant and holds its scope until the handler returns
//	RateLimit       throttles credential endpoints per tenant and client address
//	AuthMiddleware  verifies the bearer access token against the resolved tenant
//	RequirePermission checks a module/action grant
//
// Tenant scopes are released with defer, so a panicking handler never leaves
// a tenant bound to a recycled context.
//
// # Rate Limiting
//
// RateLimiter keeps token buckets in process memory. DistributedRateLimiter
// counts fixed windows in Redis and is used when a Redis URL is configured.
// Both fail open: a limiter error lets the request through and is logged.
package middleware
