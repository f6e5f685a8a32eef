package tenancy

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a tenant
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// BillingStatus is the billing state of a tenant
type BillingStatus string

const (
	BillingPendingPayment BillingStatus = "PENDING_PAYMENT"
	BillingActive         BillingStatus = "ACTIVE"
	BillingPastDue        BillingStatus = "PAST_DUE"
	BillingSuspended      BillingStatus = "SUSPENDED"
	BillingCanceled       BillingStatus = "CANCELED"
)

// Tenant is an isolated clinic account
type Tenant struct {
	ID            uuid.UUID     `json:"id"`
	Slug          string        `json:"slug"`
	CustomDomain  string        `json:"custom_domain,omitempty"`
	Status        Status        `json:"status"`
	BillingStatus BillingStatus `json:"billing_status"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsActive reports whether the tenant may serve requests
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive && t.DeletedAt == nil
}

// Context returns the request-scoped view of the tenant
func (t *Tenant) Context() TenantContext {
	return TenantContext{TenantID: t.ID, Slug: t.Slug}
}

// TenantContext is the request-lifetime tenant identity handed to every downstream operation
type TenantContext struct {
	TenantID uuid.UUID
	Slug     string
}

// ErrNotFound is returned by stores when no ACTIVE tenant matches
var ErrNotFound = errors.New("tenant not found")
