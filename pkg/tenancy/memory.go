package tenancy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant
	subscribers []func(uuid.UUID)
}

// NewMemoryStore creates a store holding the given tenants
func NewMemoryStore(tenants ...*Tenant) *MemoryStore {
	m := &MemoryStore{tenants: make(map[string]*Tenant)}
	for _, t := range tenants {
		m.Put(t)
	}
	return m
}

// Subscribe registers fn to be called with the tenant ID after every write
func (m *MemoryStore) Subscribe(fn func(tenantID uuid.UUID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Put inserts or replaces a tenant, keyed by its normalized slug
func (m *MemoryStore) Put(t *Tenant) {
	m.mu.Lock()
	cp := *t
	cp.Slug = NormalizeSlug(cp.Slug)
	m.tenants[cp.Slug] = &cp
	subscribers := m.subscribers
	m.mu.Unlock()

	notify(subscribers, cp.ID)
}

// SetBillingStatus updates the billing status of the tenant with the given ID
func (m *MemoryStore) SetBillingStatus(ctx context.Context, tenantID uuid.UUID, status BillingStatus) error {
	m.mu.Lock()
	var found bool
	for _, t := range m.tenants {
		if t.ID == tenantID {
			t.BillingStatus = status
			t.UpdatedAt = time.Now()
			found = true
			break
		}
	}
	subscribers := m.subscribers
	m.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	notify(subscribers, tenantID)
	return nil
}

func notify(subscribers []func(uuid.UUID), id uuid.UUID) {
	for _, fn := range subscribers {
		fn(id)
	}
}

func (m *MemoryStore) GetActiveBySlug(ctx context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[slug]
	if !ok || !t.IsActive() {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetActiveByDomain(ctx context.Context, domain string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.CustomDomain != "" && strings.EqualFold(t.CustomDomain, domain) && t.IsActive() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
