// Package tenancy resolves the clinic (tenant) an inbound request belongs to and
// carries it through the request as an explicit context value.
//
// # Resolution
//
// Resolver.Resolve tries, in order: the tenant header, the tenant query parameter,
// the forwarded host (custom domain), and the configured default slug. An explicit
// header or query slug that matches no ACTIVE tenant fails with NotFound; it never
// falls through to a later source. A host that matches no custom domain does fall
// through to the default slug.
//
// # Scope
//
// Enter installs a TenantContext for the lifetime of one request. The returned
// release function must be deferred:
//
//	ctx, release := tenancy.Enter(r.Context(), tenant)
//	defer release()
//
// After release, FromContext on any context derived from ctx reports false, so a
// goroutine that outlives its request cannot act on the stale tenant.
package tenancy
