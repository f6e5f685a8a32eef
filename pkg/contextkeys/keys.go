// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// Values stored under these keys are per-request. Never copy them into
// package-level variables or caches: workers serve many tenants.
//
// USAGE PATTERN:
//
//	import "github.com/medora-health/clinicore/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, identity)
//	identity, _ := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
//
// Typed accessors live next to the types: tenancy.FromContext, auth.IdentityFromContext.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantScopeKey contains *tenancy.Scope
	// Set by: middleware.TenantMiddleware (pkg/middleware/tenant.go)
	// Required by: every handler below the tenant middleware
	// Type: *tenancy.Scope
	TenantScopeKey Key = "tenant_scope"

	// IdentityKey contains *auth.Identity
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: authenticated endpoints, permission middleware
	// Type: *auth.Identity
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains logrus.FieldLogger
	// Set by: middleware.RequestLogger
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithTenantScope adds the tenant scope to the context
func WithTenantScope(ctx context.Context, scope interface{}) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
