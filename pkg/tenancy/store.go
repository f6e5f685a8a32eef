package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store looks up ACTIVE tenants. Both methods return ErrNotFound when nothing matches.
type Store interface {
	GetActiveBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetActiveByDomain(ctx context.Context, domain string) (*Tenant, error)
}

// PostgresStore implements Store against the tenants table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectTenant = `
	SELECT id, slug, COALESCE(custom_domain, ''), status, billing_status, deleted_at, created_at, updated_at
	FROM tenants
`

// GetActiveBySlug retrieves an active tenant by slug
func (s *PostgresStore) GetActiveBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := selectTenant + `WHERE slug = $1 AND status = 'ACTIVE' AND deleted_at IS NULL`
	return s.getOne(ctx, query, slug)
}

// GetActiveByDomain retrieves an active tenant by custom domain
func (s *PostgresStore) GetActiveByDomain(ctx context.Context, domain string) (*Tenant, error) {
	query := selectTenant + `WHERE lower(custom_domain) = $1 AND status = 'ACTIVE' AND deleted_at IS NULL`
	return s.getOne(ctx, query, domain)
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg string) (*Tenant, error) {
	t := &Tenant{}
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.Slug, &t.CustomDomain, &t.Status, &t.BillingStatus,
		&deletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return t, nil
}
