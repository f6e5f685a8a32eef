package permissions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/audit"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Resolver answers permission checks for authenticated staff
type Resolver struct {
	store   Store
	audit   audit.Sink
	metrics *observability.Metrics
	logger  logrus.FieldLogger
}

// NewResolver creates a resolver. sink and metrics may be nil.
func NewResolver(store Store, sink audit.Sink, metrics *observability.Metrics, logger logrus.FieldLogger) *Resolver {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{store: store, audit: sink, metrics: metrics, logger: logger}
}

// Allows reports whether identity may perform action on module.
// ADMIN is always allowed; everyone else needs an explicit grant. Lookup errors deny.
func (r *Resolver) Allows(ctx context.Context, identity *auth.Identity, module Module, action Action) bool {
	allowed := r.allows(ctx, identity, module, action)
	r.metrics.RecordPermissionCheck(string(module), string(action), allowed)
	return allowed
}

func (r *Resolver) allows(ctx context.Context, identity *auth.Identity, module Module, action Action) bool {
	if identity == nil {
		return false
	}
	if identity.IsAdmin() {
		return true
	}

	perms, err := r.store.Get(ctx, identity.TenantID, identity.StaffID)
	if err != nil {
		observability.LoggerFromContext(ctx, r.logger).WithError(err).WithFields(logrus.Fields{
			"tenant_id": identity.TenantID,
			"staff_id":  identity.StaffID,
			"module":    module,
			"action":    action,
		}).Error("permission lookup failed, denying")
		return false
	}
	if perms == nil {
		return false
	}
	return perms.Grants.Allows(module, action)
}

// Effective returns every grant identity holds
func (r *Resolver) Effective(ctx context.Context, identity *auth.Identity) (Grants, error) {
	if identity.IsAdmin() {
		return Full(), nil
	}
	perms, err := r.store.Get(ctx, identity.TenantID, identity.StaffID)
	if err != nil {
		return nil, apperr.Internal("failed to load permissions", err)
	}
	if perms == nil {
		return Grants{}, nil
	}
	return perms.Grants, nil
}

// Stored returns the explicit grants recorded for staffID, ignoring roles
func (r *Resolver) Stored(ctx context.Context, tenantID, staffID uuid.UUID) (Grants, error) {
	perms, err := r.store.Get(ctx, tenantID, staffID)
	if err != nil {
		return nil, apperr.Internal("failed to load permissions", err)
	}
	if perms == nil {
		return Grants{}, nil
	}
	return perms.Grants, nil
}

// Replace overwrites the grants of staffID in the actor's tenant
func (r *Resolver) Replace(ctx context.Context, actor *auth.Identity, staffID uuid.UUID, grants Grants) (*ModulePermissions, error) {
	normalized, err := grants.Normalize()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, err.Error(), err)
	}

	var before Grants
	if previous, err := r.store.Get(ctx, actor.TenantID, staffID); err == nil && previous != nil {
		before = previous.Grants
	}

	perms := &ModulePermissions{TenantID: actor.TenantID, StaffID: staffID, Grants: normalized}
	if err := r.store.Save(ctx, perms); err != nil {
		if errors.Is(err, ErrUnknownStaff) {
			return nil, apperr.NotFound("staff not found")
		}
		return nil, apperr.Internal("failed to save permissions", err)
	}

	event := audit.NewEvent(ctx, audit.EventStaffPermissionsSave, audit.StatusSuccess).
		WithTenant(actor.TenantID).
		WithActor(actor.StaffID).
		WithResource(audit.ResourceStaff, staffID.String()).
		WithChanges(map[string]interface{}{"grants": before}, map[string]interface{}{"grants": normalized})
	if err := r.audit.Record(ctx, event); err != nil {
		observability.LoggerFromContext(ctx, r.logger).WithError(err).Error("failed to record audit event")
	}

	return perms, nil
}
