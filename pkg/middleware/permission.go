package middleware

import (
	"context"
	"net/http"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/httputil"
	"github.com/medora-health/clinicore/pkg/permissions"
)

// PermissionChecker decides module/action access for an identity
type PermissionChecker interface {
	Allows(ctx context.Context, identity *auth.Identity, module permissions.Module, action permissions.Action) bool
}

// RequirePermission rejects requests whose identity may not perform action on module.
// Requests without an identity get 401, denied ones 403.
func RequirePermission(checker PermissionChecker, module permissions.Module, action permissions.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				unauthorized(w, "authentication required")
				return
			}

			if !checker.Allows(r.Context(), identity, module, action) {
				httputil.WriteErrorMessage(w, apperr.KindForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
