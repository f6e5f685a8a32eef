package middleware

import (
	"net/http"
	"strings"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/contextkeys"
	"github.com/medora-health/clinicore/pkg/httputil"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware authenticates bearer access tokens. It must run below
// TenantMiddleware: a token minted for another tenant is rejected.
type AuthMiddleware struct {
	issuer auth.TokenIssuer
	logger logrus.FieldLogger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(issuer auth.TokenIssuer, logger logrus.FieldLogger) *AuthMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthMiddleware{issuer: issuer, logger: logger}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := observability.LoggerFromContext(r.Context(), m.logger)

		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "missing authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], auth.TokenTypeBearer) || strings.TrimSpace(parts[1]) == "" {
			unauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.issuer.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			logger.WithError(err).Debug("access token rejected")
			unauthorized(w, "invalid or expired token")
			return
		}

		tc, ok := tenancy.FromContext(r.Context())
		if !ok {
			unauthorized(w, "tenant not resolved")
			return
		}
		if identity.TenantID != tc.TenantID {
			logger.WithFields(logrus.Fields{
				"staff_id":        identity.StaffID,
				"token_tenant_id": identity.TenantID,
				"reason":          "cross_tenant",
			}).Warn("access token presented to another tenant")
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithLogger(ctx, logger.WithField("staff_id", identity.StaffID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="clinicore"`)
	httputil.WriteErrorMessage(w, apperr.KindUnauthorized, message)
}
