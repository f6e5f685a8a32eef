package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret-0123456789abcdef"

var (
	sunrise  = &tenancy.Tenant{ID: uuid.New(), Slug: "sunrise", CustomDomain: "portal.sunrise.example", Status: tenancy.StatusActive}
	lakeside = &tenancy.Tenant{ID: uuid.New(), Slug: "lakeside", Status: tenancy.StatusActive}
)

// failingTenantStore fails every lookup with a driver error
type failingTenantStore struct{}

func (failingTenantStore) GetActiveBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	return nil, errors.New("pq: connection refused")
}

func (failingTenantStore) GetActiveByDomain(ctx context.Context, domain string) (*tenancy.Tenant, error) {
	return nil, errors.New("pq: connection refused")
}

func newTenantResolver(defaultSlug string) *tenancy.Resolver {
	cfg := tenancy.DefaultResolverConfig()
	cfg.DefaultSlug = defaultSlug
	return tenancy.NewResolver(tenancy.NewMemoryStore(sunrise, lakeside), cfg, observability.NewNopLogger())
}

func newIssuer(t *testing.T) *auth.JWTIssuer {
	t.Helper()
	issuer, err := auth.NewJWTIssuer([]byte(testSecret), "clinicore-test", 15*time.Minute)
	require.NoError(t, err)
	return issuer
}

func accessToken(t *testing.T, issuer *auth.JWTIssuer, tenant *tenancy.Tenant, role auth.Role) (string, auth.Identity) {
	t.Helper()
	identity := auth.Identity{
		StaffID:  uuid.New(),
		TenantID: tenant.ID,
		Email:    "nurse@" + tenant.Slug + ".example",
		Role:     role,
	}
	token, _, err := issuer.Issue(identity, time.Now())
	require.NoError(t, err)
	return token, identity
}

// withTenant runs the request through TenantMiddleware before next
func withTenant(next http.Handler) http.Handler {
	return TenantMiddleware(newTenantResolver(""), nil, observability.NewNopLogger())(next)
}

func tenantRequest(method, path string, tenant *tenancy.Tenant) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Tenant-Slug", tenant.Slug)
	return req
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
