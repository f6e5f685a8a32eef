package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/tenancy"
)

// Store reads sweep candidates and persists transitions
type Store interface {
	// ListDuePlanChanges returns subscriptions whose pending plan change is due
	ListDuePlanChanges(ctx context.Context, now time.Time) ([]*Subscription, error)
	// ListDueCancellations returns non-cancelled subscriptions whose cancellation is due
	ListDueCancellations(ctx context.Context, now time.Time) ([]*Subscription, error)
	// ApplyPlanChange moves the pending tier into plan_tier and clears the pending fields.
	// It returns ErrNoLongerDue when the change is no longer pending.
	ApplyPlanChange(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (PlanTier, error)
	// ApplyCancellation cancels the subscription and marks its tenant CANCELED in one unit.
	// It returns ErrNoLongerDue when the subscription is already cancelled.
	ApplyCancellation(ctx context.Context, subscriptionID uuid.UUID, now time.Time) error
}

// PostgresStore implements Store against the subscriptions and tenants tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed billing store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectSubscription = `
	SELECT id, tenant_id, plan_tier, status, pending_plan_tier, pending_plan_effective_at,
	       cancellation_effective_at, created_at, updated_at
	FROM subscriptions
`

func (s *PostgresStore) ListDuePlanChanges(ctx context.Context, now time.Time) ([]*Subscription, error) {
	query := selectSubscription + `
		WHERE pending_plan_tier IS NOT NULL AND pending_plan_effective_at <= $1
		ORDER BY pending_plan_effective_at, id
	`
	return s.list(ctx, query, now)
}

func (s *PostgresStore) ListDueCancellations(ctx context.Context, now time.Time) ([]*Subscription, error) {
	query := selectSubscription + `
		WHERE cancellation_effective_at <= $1 AND status <> 'CANCELLED'
		ORDER BY cancellation_effective_at, id
	`
	return s.list(ctx, query, now)
}

func (s *PostgresStore) list(ctx context.Context, query string, now time.Time) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		var pendingTier sql.NullString
		var pendingAt, cancelAt sql.NullTime
		if err := rows.Scan(
			&sub.ID, &sub.TenantID, &sub.PlanTier, &sub.Status, &pendingTier, &pendingAt,
			&cancelAt, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if pendingTier.Valid {
			tier := PlanTier(pendingTier.String)
			sub.PendingPlanTier = &tier
		}
		if pendingAt.Valid {
			sub.PendingPlanEffectiveAt = &pendingAt.Time
		}
		if cancelAt.Valid {
			sub.CancellationEffectiveAt = &cancelAt.Time
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

func (s *PostgresStore) ApplyPlanChange(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (PlanTier, error) {
	query := `
		UPDATE subscriptions
		SET plan_tier = pending_plan_tier,
		    pending_plan_tier = NULL,
		    pending_plan_effective_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND pending_plan_tier IS NOT NULL AND pending_plan_effective_at <= $2
		RETURNING plan_tier
	`
	var tier PlanTier
	err := s.db.QueryRowContext(ctx, query, subscriptionID, now).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoLongerDue
	}
	if err != nil {
		return "", fmt.Errorf("failed to apply plan change: %w", err)
	}
	return tier, nil
}

func (s *PostgresStore) ApplyCancellation(ctx context.Context, subscriptionID uuid.UUID, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var tenantID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status <> 'CANCELLED' AND cancellation_effective_at <= $2
		RETURNING tenant_id
	`, subscriptionID, now).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoLongerDue
	}
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE tenants SET billing_status = 'CANCELED', updated_at = NOW() WHERE id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant billing status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s of subscription %s not found", tenantID, subscriptionID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return nil
}

// TenantUpdater writes the billing status onto the tenant record
type TenantUpdater interface {
	SetBillingStatus(ctx context.Context, tenantID uuid.UUID, status tenancy.BillingStatus) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]*Subscription
	tenants       TenantUpdater
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subscriptions: make(map[uuid.UUID]*Subscription)}
}

// WithTenants makes cancellations update the tenant record through u
func (m *MemoryStore) WithTenants(u TenantUpdater) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = u
	return m
}

// Put inserts or replaces a subscription
func (m *MemoryStore) Put(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subscriptions[sub.ID] = &cp
}

// Subscription returns a copy of the stored subscription
func (m *MemoryStore) Subscription(id uuid.UUID) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, false
	}
	cp := *sub
	return &cp, true
}

func (m *MemoryStore) ListDuePlanChanges(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return m.list(func(s *Subscription) bool { return s.PlanChangeDue(now) }), nil
}

func (m *MemoryStore) ListDueCancellations(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return m.list(func(s *Subscription) bool { return s.CancellationDue(now) }), nil
}

func (m *MemoryStore) list(match func(*Subscription) bool) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (m *MemoryStore) ApplyPlanChange(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (PlanTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subscriptionID]
	if !ok || !s.PlanChangeDue(now) {
		return "", ErrNoLongerDue
	}
	s.PlanTier = *s.PendingPlanTier
	s.PendingPlanTier = nil
	s.PendingPlanEffectiveAt = nil
	s.UpdatedAt = now
	return s.PlanTier, nil
}

func (m *MemoryStore) ApplyCancellation(ctx context.Context, subscriptionID uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subscriptionID]
	if !ok || !s.CancellationDue(now) {
		return ErrNoLongerDue
	}
	if m.tenants != nil {
		if err := m.tenants.SetBillingStatus(ctx, s.TenantID, tenancy.BillingCanceled); err != nil {
			return fmt.Errorf("failed to cancel tenant: %w", err)
		}
	}
	s.Status = SubscriptionCancelled
	s.UpdatedAt = now
	return nil
}
