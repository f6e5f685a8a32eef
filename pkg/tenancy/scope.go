package tenancy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/contextkeys"
)

var activeScopes atomic.Int64

// ActiveScopes returns the number of entered but not yet released scopes
func ActiveScopes() int64 {
	return activeScopes.Load()
}

// Scope holds the tenant of one request until released
type Scope struct {
	mu       sync.RWMutex
	tenant   TenantContext
	released bool
	once     sync.Once
}

// Release ends a scope. It is safe to call more than once.
type Release func()

// Enter installs a new scope for tenant on ctx
func Enter(ctx context.Context, tenant *Tenant) (context.Context, Release) {
	scope := &Scope{tenant: tenant.Context()}
	activeScopes.Add(1)

	release := func() {
		scope.once.Do(func() {
			scope.mu.Lock()
			scope.released = true
			scope.tenant = TenantContext{}
			scope.mu.Unlock()
			activeScopes.Add(-1)
		})
	}

	return contextkeys.WithTenantScope(ctx, scope), release
}

// FromContext returns the tenant of the current request. It reports false when no
// scope was entered or the scope has been released.
func FromContext(ctx context.Context) (TenantContext, bool) {
	scope, ok := ctx.Value(contextkeys.TenantScopeKey).(*Scope)
	if !ok || scope == nil {
		return TenantContext{}, false
	}
	scope.mu.RLock()
	defer scope.mu.RUnlock()
	if scope.released {
		return TenantContext{}, false
	}
	return scope.tenant, true
}

// Require is FromContext for service code: a missing scope is a NotFound error
func Require(ctx context.Context) (TenantContext, error) {
	tc, ok := FromContext(ctx)
	if !ok {
		return TenantContext{}, apperr.NotFound("tenant not resolved")
	}
	return tc, nil
}
