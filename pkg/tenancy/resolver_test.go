package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTenant(slug, domain string) *Tenant {
	return &Tenant{
		ID:            uuid.New(),
		Slug:          slug,
		CustomDomain:  domain,
		Status:        StatusActive,
		BillingStatus: BillingActive,
	}
}

func TestResolver_Resolve(t *testing.T) {
	north := newTenant("north", "north-clinic.example")
	south := newTenant("south", "")
	platform := newTenant("platform", "")
	inactive := newTenant("closed", "closed.example")
	inactive.Status = StatusInactive

	store := storeOf(north, south, platform, inactive)
	cfg := DefaultResolverConfig()
	cfg.DefaultSlug = " Platform "
	resolver := NewResolver(store, cfg, logrus.New())

	tests := []struct {
		name       string
		req        Request
		wantTenant *Tenant
		wantSource Source
		wantKind   apperr.Kind
	}{
		{"header wins over everything", Request{HeaderSlug: "  NORTH ", QuerySlug: "south", Host: "north-clinic.example"}, north, SourceHeader, ""},
		{"query when no header", Request{QuerySlug: "south", Host: "north-clinic.example"}, south, SourceQuery, ""},
		{"custom domain with port", Request{Host: "North-Clinic.example:8443"}, north, SourceDomain, ""},
		{"forwarded host list uses first entry", Request{Host: "north-clinic.example, proxy.internal"}, north, SourceDomain, ""},
		{"unknown host falls back to default", Request{Host: "api.medora.example"}, platform, SourceDefault, ""},
		{"no inputs uses default", Request{}, platform, SourceDefault, ""},
		{"unknown header slug does not fall through", Request{HeaderSlug: "nope"}, nil, SourceHeader, apperr.KindNotFound},
		{"unknown query slug does not fall through", Request{QuerySlug: "nope", Host: "north-clinic.example"}, nil, SourceQuery, apperr.KindNotFound},
		{"inactive tenant by slug", Request{HeaderSlug: "closed"}, nil, SourceHeader, apperr.KindNotFound},
		{"inactive tenant domain falls back to default", Request{Host: "closed.example"}, platform, SourceDefault, ""},
		{"whitespace header is ignored", Request{HeaderSlug: "   ", QuerySlug: "south"}, south, SourceQuery, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source, err := resolver.Resolve(context.Background(), tt.req)
			assert.Equal(t, tt.wantSource, source)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, tt.wantKind))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenant.ID, got.ID)
		})
	}
}

func TestResolver_NoDefault(t *testing.T) {
	resolver := NewResolver(storeOf(newTenant("north", "")), DefaultResolverConfig(), nil)

	_, source, err := resolver.Resolve(context.Background(), Request{Host: "unknown.example"})

	assert.Equal(t, SourceNone, source)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestResolver_DefaultSlugMissing(t *testing.T) {
	cfg := DefaultResolverConfig()
	cfg.DefaultSlug = "gone"
	resolver := NewResolver(storeOf(), cfg, nil)

	_, source, err := resolver.Resolve(context.Background(), Request{})

	assert.Equal(t, SourceDefault, source)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestResolver_StoreFailureIsInternal(t *testing.T) {
	store := &mockStore{
		bySlugFunc: func(ctx context.Context, slug string) (*Tenant, error) {
			return nil, errors.New("connection reset")
		},
		byDomainFunc: func(ctx context.Context, domain string) (*Tenant, error) {
			return nil, errors.New("connection reset")
		},
	}
	resolver := NewResolver(store, DefaultResolverConfig(), nil)

	_, _, err := resolver.Resolve(context.Background(), Request{HeaderSlug: "north"})
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))

	_, _, err = resolver.Resolve(context.Background(), Request{Host: "north.example"})
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "clinic.example", NormalizeHost(" Clinic.Example:443 "))
	assert.Equal(t, "clinic.example", NormalizeHost("clinic.example."))
	assert.Equal(t, "a.example", NormalizeHost("a.example, b.example"))
	assert.Equal(t, "", NormalizeHost("  "))
}
