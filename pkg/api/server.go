package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/httputil"
	"github.com/medora-health/clinicore/pkg/middleware"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/permissions"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies are the services behind the API. RateLimiter is optional.
type Dependencies struct {
	Tenants       *tenancy.Resolver
	Authenticator *auth.Authenticator
	Issuer        auth.TokenIssuer
	Permissions   *permissions.Resolver
	RateLimiter   middleware.Limiter
	// TrustedProxies may set the client address used as the rate limit key
	TrustedProxies middleware.TrustedProxies
	Metrics        *observability.Metrics
	Logger         logrus.FieldLogger
}

// Server is the clinicore HTTP API
type Server struct {
	router      *mux.Router
	auth        *auth.Authenticator
	permissions *permissions.Resolver
	logger      logrus.FieldLogger
}

// NewServer creates a new API server with all routes registered
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	s := &Server{
		router:      mux.NewRouter(),
		auth:        deps.Authenticator,
		permissions: deps.Permissions,
		logger:      deps.Logger.WithField("component", "api"),
	}
	s.setupRoutes(deps)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) {
	s.router.Use(
		middleware.RequestID,
		middleware.RequestLogger(s.logger, deps.Metrics),
		middleware.Recovery(s.logger),
		routeSpan,
	)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, apperr.KindNotFound, "route not found")
	})

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.TenantMiddleware(deps.Tenants, deps.Metrics, s.logger))

	credentials := httputil.Chain()
	if deps.RateLimiter != nil {
		credentials = httputil.Chain(middleware.RateLimit(deps.RateLimiter, deps.TrustedProxies, s.logger))
	}
	authenticated := httputil.Chain(middleware.NewAuthMiddleware(deps.Issuer, s.logger).Handler)
	require := func(module permissions.Module, action permissions.Action) func(http.Handler) http.Handler {
		return httputil.Chain(authenticated, middleware.RequirePermission(deps.Permissions, module, action))
	}

	// Credential routes
	api.Handle("/auth/login", credentials(http.HandlerFunc(s.login))).Methods(http.MethodPost)
	api.Handle("/auth/refresh", credentials(http.HandlerFunc(s.refresh))).Methods(http.MethodPost)
	api.Handle("/auth/logout", credentials(http.HandlerFunc(s.logout))).Methods(http.MethodPost)
	api.Handle("/auth/setup-password", credentials(http.HandlerFunc(s.setupPassword))).Methods(http.MethodPost)
	api.Handle("/auth/change-password", authenticated(http.HandlerFunc(s.changePassword))).Methods(http.MethodPost)

	// Staff routes
	api.Handle("/staff/me", authenticated(http.HandlerFunc(s.getProfile))).Methods(http.MethodGet)
	api.Handle("/staff/me", authenticated(http.HandlerFunc(s.updateProfile))).Methods(http.MethodPut)
	api.Handle("/staff/me/permissions", authenticated(http.HandlerFunc(s.myPermissions))).Methods(http.MethodGet)
	api.Handle("/staff/{staff_id}/permissions", require(permissions.ModuleStaff, permissions.ActionView)(http.HandlerFunc(s.getStaffPermissions))).Methods(http.MethodGet)
	api.Handle("/staff/{staff_id}/permissions", require(permissions.ModuleStaff, permissions.ActionEdit)(http.HandlerFunc(s.replaceStaffPermissions))).Methods(http.MethodPut)
	api.Handle("/staff/{staff_id}/invitations", require(permissions.ModuleStaff, permissions.ActionCreate)(http.HandlerFunc(s.createInvitation))).Methods(http.MethodPost)
}

// Handler returns the instrumented HTTP handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "clinicore-api")
}

// routeSpan names the server span after the matched route template
func routeSpan(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				span := trace.SpanFromContext(r.Context())
				span.SetName(r.Method + " " + tpl)
				span.SetAttributes(attribute.String("http.route", tpl))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// NewHealthRouter serves /healthz, /readyz and /metrics on the health port
func NewHealthRouter(checker *observability.HealthChecker, metrics *observability.Metrics) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return router
}

// writeError renders err and logs it when it is an internal failure
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		observability.LoggerFromContext(r.Context(), s.logger).WithError(err).Error("request failed")
	}
	httputil.WriteAppError(w, err)
}

// identity returns the authenticated identity installed by the auth middleware
func identity(r *http.Request) (*auth.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, apperr.Unauthorized("authentication required")
	}
	return id, nil
}
