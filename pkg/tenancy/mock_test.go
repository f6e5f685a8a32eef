package tenancy

import (
	"context"
	"sync/atomic"
)

// mockStore is a test Store with overridable lookups
type mockStore struct {
	bySlugFunc   func(ctx context.Context, slug string) (*Tenant, error)
	byDomainFunc func(ctx context.Context, domain string) (*Tenant, error)
	calls        atomic.Int32
}

func (m *mockStore) GetActiveBySlug(ctx context.Context, slug string) (*Tenant, error) {
	m.calls.Add(1)
	if m.bySlugFunc != nil {
		return m.bySlugFunc(ctx, slug)
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetActiveByDomain(ctx context.Context, domain string) (*Tenant, error) {
	m.calls.Add(1)
	if m.byDomainFunc != nil {
		return m.byDomainFunc(ctx, domain)
	}
	return nil, ErrNotFound
}

// storeOf returns a mockStore serving the given tenants by slug and domain
func storeOf(tenants ...*Tenant) *mockStore {
	return &mockStore{
		bySlugFunc: func(ctx context.Context, slug string) (*Tenant, error) {
			for _, t := range tenants {
				if t.Slug == slug && t.IsActive() {
					return t, nil
				}
			}
			return nil, ErrNotFound
		},
		byDomainFunc: func(ctx context.Context, domain string) (*Tenant, error) {
			for _, t := range tenants {
				if t.CustomDomain != "" && t.CustomDomain == domain && t.IsActive() {
					return t, nil
				}
			}
			return nil, ErrNotFound
		},
	}
}
