package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/contextkeys"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChecker records the last check and answers with allow
type mockChecker struct {
	allow  bool
	module permissions.Module
	action permissions.Action
}

func (m *mockChecker) Allows(ctx context.Context, identity *auth.Identity, module permissions.Module, action permissions.Action) bool {
	m.module = module
	m.action = action
	return m.allow
}

func TestRequirePermission(t *testing.T) {
	identity := &auth.Identity{StaffID: uuid.New(), TenantID: sunrise.ID, Role: auth.RoleReceptionist}
	authed := func(r *http.Request) *http.Request {
		return r.WithContext(contextkeys.WithIdentity(r.Context(), identity))
	}

	t.Run("allowed", func(t *testing.T) {
		checker := &mockChecker{allow: true}
		rec := httptest.NewRecorder()
		RequirePermission(checker, permissions.ModuleStaff, permissions.ActionEdit)(okHandler).
			ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPut, "/", nil)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, permissions.ModuleStaff, checker.module)
		assert.Equal(t, permissions.ActionEdit, checker.action)
	})

	t.Run("denied", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequirePermission(&mockChecker{}, permissions.ModuleStaff, permissions.ActionEdit)(okHandler).
			ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPut, "/", nil)))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"insufficient permissions","code":"forbidden"}`, rec.Body.String())
	})

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequirePermission(&mockChecker{allow: true}, permissions.ModuleStaff, permissions.ActionEdit)(okHandler).
			ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequirePermission_WithResolver(t *testing.T) {
	store := permissions.NewMemoryStore()
	resolver := permissions.NewResolver(store, nil, nil, observability.NewNopLogger())

	staff := &auth.Identity{StaffID: uuid.New(), TenantID: sunrise.ID, Role: auth.RoleNurse}
	require.NoError(t, store.Save(context.Background(), &permissions.ModulePermissions{
		TenantID: sunrise.ID,
		StaffID:  staff.StaffID,
		Grants:   permissions.Grants{permissions.ModulePatients: {permissions.ActionView}},
	}))

	serve := func(identity *auth.Identity, action permissions.Action) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(contextkeys.WithIdentity(req.Context(), identity))
		rec := httptest.NewRecorder()
		RequirePermission(resolver, permissions.ModulePatients, action)(okHandler).ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve(staff, permissions.ActionView))
	assert.Equal(t, http.StatusForbidden, serve(staff, permissions.ActionDelete))

	stranger := &auth.Identity{StaffID: uuid.New(), TenantID: sunrise.ID, Role: auth.RoleDoctor}
	assert.Equal(t, http.StatusForbidden, serve(stranger, permissions.ActionView), "no record means no access")

	admin := &auth.Identity{StaffID: uuid.New(), TenantID: sunrise.ID, Role: auth.RoleAdmin}
	assert.Equal(t, http.StatusOK, serve(admin, permissions.ActionDelete))
}
