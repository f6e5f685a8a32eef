package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store persists permission records. Get returns (nil, nil) when the staff
// member has no record.
type Store interface {
	Get(ctx context.Context, tenantID, staffID uuid.UUID) (*ModulePermissions, error)
	Save(ctx context.Context, perms *ModulePermissions) error
}

// PostgresStore implements Store against the module_permissions table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed permission store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, staffID uuid.UUID) (*ModulePermissions, error) {
	query := `
		SELECT permissions, updated_at
		FROM module_permissions
		WHERE tenant_id = $1 AND staff_id = $2
	`
	var raw []byte
	perms := &ModulePermissions{TenantID: tenantID, StaffID: staffID}
	err := s.db.QueryRowContext(ctx, query, tenantID, staffID).Scan(&raw, &perms.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module permissions: %w", err)
	}
	if err := json.Unmarshal(raw, &perms.Grants); err != nil {
		return nil, fmt.Errorf("failed to decode module permissions: %w", err)
	}
	return perms, nil
}

func (s *PostgresStore) Save(ctx context.Context, perms *ModulePermissions) error {
	raw, err := json.Marshal(perms.Grants)
	if err != nil {
		return fmt.Errorf("failed to encode module permissions: %w", err)
	}

	query := `
		INSERT INTO module_permissions (staff_id, tenant_id, permissions, updated_at)
		SELECT id, tenant_id, $3::jsonb, NOW() FROM staff WHERE tenant_id = $1 AND id = $2
		ON CONFLICT (staff_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query, perms.TenantID, perms.StaffID, string(raw)).Scan(&perms.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownStaff
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrUnknownStaff
	}
	if err != nil {
		return fmt.Errorf("failed to save module permissions: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*ModulePermissions
	// Known restricts Save to these staff ids when non-nil
	Known func(tenantID, staffID uuid.UUID) bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*ModulePermissions)}
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, staffID uuid.UUID) (*ModulePermissions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.records[staffID]
	if !ok || p.TenantID != tenantID {
		return nil, nil
	}
	return clone(p), nil
}

func (m *MemoryStore) Save(ctx context.Context, perms *ModulePermissions) error {
	if m.Known != nil && !m.Known(perms.TenantID, perms.StaffID) {
		return ErrUnknownStaff
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	perms.UpdatedAt = time.Now().UTC()
	m.records[perms.StaffID] = clone(perms)
	return nil
}

func clone(p *ModulePermissions) *ModulePermissions {
	cp := *p
	cp.Grants = make(Grants, len(p.Grants))
	for module, actions := range p.Grants {
		cp.Grants[module] = append([]Action(nil), actions...)
	}
	return &cp
}
