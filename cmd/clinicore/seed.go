package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/billing"
	"github.com/medora-health/clinicore/pkg/permissions"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML fixture loaded into the memory stores for local development
type seedFile struct {
	Tenants       []seedTenant       `yaml:"tenants"`
	Staff         []seedStaff        `yaml:"staff"`
	Subscriptions []seedSubscription `yaml:"subscriptions"`
}

type seedTenant struct {
	ID           uuid.UUID `yaml:"id"`
	Slug         string    `yaml:"slug"`
	CustomDomain string    `yaml:"custom_domain"`
	Status       string    `yaml:"status"`
}

type seedStaff struct {
	ID              uuid.UUID           `yaml:"id"`
	Tenant          string              `yaml:"tenant"`
	Email           string              `yaml:"email"`
	FullName        string              `yaml:"full_name"`
	Role            string              `yaml:"role"`
	Password        string              `yaml:"password"`
	TwoFactorSecret string              `yaml:"two_factor_secret"`
	Permissions     map[string][]string `yaml:"permissions"`
}

type seedSubscription struct {
	Tenant                  string     `yaml:"tenant"`
	PlanTier                string     `yaml:"plan_tier"`
	PendingPlanTier         string     `yaml:"pending_plan_tier"`
	PendingPlanEffectiveAt  *time.Time `yaml:"pending_plan_effective_at"`
	CancellationEffectiveAt *time.Time `yaml:"cancellation_effective_at"`
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// apply writes the fixture into the stores. Staff without a password are
// created inactive and must be invited.
func (s *seedFile) apply(tenants *tenancy.MemoryStore, staffStore *auth.MemoryStore, perms *permissions.MemoryStore, subscriptions *billing.MemoryStore, hasher auth.PasswordHasher) error {
	now := time.Now().UTC()
	bySlug := make(map[string]*tenancy.Tenant, len(s.Tenants))

	for _, st := range s.Tenants {
		slug := tenancy.NormalizeSlug(st.Slug)
		if slug == "" {
			return fmt.Errorf("tenant slug is required")
		}
		status := tenancy.Status(st.Status)
		if status == "" {
			status = tenancy.StatusActive
		}
		t := &tenancy.Tenant{
			ID:            orNew(st.ID),
			Slug:          slug,
			CustomDomain:  tenancy.NormalizeHost(st.CustomDomain),
			Status:        status,
			BillingStatus: tenancy.BillingActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		tenants.Put(t)
		bySlug[slug] = t
	}

	for _, ss := range s.Staff {
		t, ok := bySlug[tenancy.NormalizeSlug(ss.Tenant)]
		if !ok {
			return fmt.Errorf("staff %s references unknown tenant %q", ss.Email, ss.Tenant)
		}
		role := auth.Role(ss.Role)
		if !role.Valid() {
			return fmt.Errorf("staff %s has invalid role %q", ss.Email, ss.Role)
		}
		staff := &auth.Staff{
			ID:              orNew(ss.ID),
			TenantID:        t.ID,
			Email:           auth.NormalizeEmail(ss.Email),
			FullName:        ss.FullName,
			Role:            role,
			TwoFactorSecret: ss.TwoFactorSecret,
			Status:          auth.StaffInactive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if ss.Password != "" {
			if err := auth.CheckPasswordPolicy(ss.Password); err != nil {
				return fmt.Errorf("staff %s: %w", ss.Email, err)
			}
			hash, err := hasher.Hash(ss.Password)
			if err != nil {
				return fmt.Errorf("staff %s: failed to hash password: %w", ss.Email, err)
			}
			staff.PasswordHash = hash
			staff.Status = auth.StaffActive
		}
		staffStore.PutStaff(staff)

		if len(ss.Permissions) > 0 {
			grants := make(permissions.Grants, len(ss.Permissions))
			for module, actions := range ss.Permissions {
				for _, action := range actions {
					grants[permissions.Module(module)] = append(grants[permissions.Module(module)], permissions.Action(action))
				}
			}
			normalized, err := grants.Normalize()
			if err != nil {
				return fmt.Errorf("staff %s: %w", ss.Email, err)
			}
			if err := perms.Save(context.Background(), &permissions.ModulePermissions{TenantID: t.ID, StaffID: staff.ID, Grants: normalized}); err != nil {
				return fmt.Errorf("staff %s: failed to save permissions: %w", ss.Email, err)
			}
		}
	}

	for _, sub := range s.Subscriptions {
		t, ok := bySlug[tenancy.NormalizeSlug(sub.Tenant)]
		if !ok {
			return fmt.Errorf("subscription references unknown tenant %q", sub.Tenant)
		}
		subscription := &billing.Subscription{
			ID:                      uuid.New(),
			TenantID:                t.ID,
			PlanTier:                billing.PlanTier(sub.PlanTier),
			Status:                  billing.SubscriptionActive,
			PendingPlanEffectiveAt:  sub.PendingPlanEffectiveAt,
			CancellationEffectiveAt: sub.CancellationEffectiveAt,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if subscription.PlanTier == "" {
			subscription.PlanTier = billing.PlanStarter
		}
		if sub.PendingPlanTier != "" {
			pending := billing.PlanTier(sub.PendingPlanTier)
			subscription.PendingPlanTier = &pending
		}
		subscriptions.Put(subscription)
	}

	return nil
}

func orNew(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}
