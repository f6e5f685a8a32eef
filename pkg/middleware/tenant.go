package middleware

import (
	"net/http"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/contextkeys"
	"github.com/medora-health/clinicore/pkg/httputil"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/sirupsen/logrus"
)

// TenantMiddleware binds every request to exactly one ACTIVE tenant. The scope
// is released when the handler returns, including when it panics.
func TenantMiddleware(resolver *tenancy.Resolver, metrics *observability.Metrics, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	cfg := resolver.Config()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := tenancy.Request{
				HeaderSlug: r.Header.Get(cfg.HeaderName),
				QuerySlug:  r.URL.Query().Get(cfg.QueryParam),
				Host:       r.Host,
			}
			if cfg.ForwardedHostHeader != "" {
				if forwarded := r.Header.Get(cfg.ForwardedHostHeader); forwarded != "" {
					req.Host = forwarded
				}
			}

			tenant, source, err := resolver.Resolve(r.Context(), req)
			if err != nil {
				outcome := "not_found"
				if apperr.KindOf(err) == apperr.KindInternal {
					outcome = "error"
					observability.LoggerFromContext(r.Context(), logger).WithError(err).Error("tenant resolution failed")
				}
				metrics.RecordTenantResolution(string(source), outcome)
				httputil.WriteAppError(w, err)
				return
			}
			metrics.RecordTenantResolution(string(source), "resolved")

			ctx, release := tenancy.Enter(r.Context(), tenant)
			defer release()

			reqLogger := observability.LoggerFromContext(ctx, logger).WithFields(logrus.Fields{
				"tenant_id":   tenant.ID,
				"tenant_slug": tenant.Slug,
			})
			ctx = contextkeys.WithLogger(ctx, reqLogger)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
