// Package permissions decides which clinic modules a staff member may use.
//
// Each staff member has at most one ModulePermissions record that maps a
// Module (APPOINTMENTS, PATIENTS, ...) to the Actions (VIEW, CREATE, EDIT,
// DELETE) granted on it. Staff with the ADMIN role bypass the table.
//
// Checks fail closed: a missing record, an unknown module and a store error
// all deny.
//
//	resolver := permissions.NewResolver(
//	    permissions.NewRedisCache(permissions.NewPostgresStore(db), rdb, 5*time.Minute, logger),
//	    auditSink, metrics, logger,
//	)
//	if !resolver.Allows(ctx, identity, permissions.ModulePatients, permissions.ActionView) {
//	    // 403
//	}
package permissions
