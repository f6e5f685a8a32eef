package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PlanTier is the subscription plan of a clinic
type PlanTier string

const (
	PlanStarter      PlanTier = "STARTER"
	PlanProfessional PlanTier = "PROFESSIONAL"
	PlanEnterprise   PlanTier = "ENTERPRISE"
)

// SubscriptionStatus is the lifecycle status of a subscription
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionTrialing  SubscriptionStatus = "TRIALING"
	SubscriptionPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription belongs to exactly one tenant. The pending plan fields are set
// together by the billing endpoints and cleared together by the sweep.
type Subscription struct {
	ID                      uuid.UUID          `json:"id"`
	TenantID                uuid.UUID          `json:"tenant_id"`
	PlanTier                PlanTier           `json:"plan_tier"`
	Status                  SubscriptionStatus `json:"status"`
	PendingPlanTier         *PlanTier          `json:"pending_plan_tier,omitempty"`
	PendingPlanEffectiveAt  *time.Time         `json:"pending_plan_effective_at,omitempty"`
	CancellationEffectiveAt *time.Time         `json:"cancellation_effective_at,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// PlanChangeDue reports whether a pending plan change takes effect at or before now
func (s *Subscription) PlanChangeDue(now time.Time) bool {
	return s.PendingPlanTier != nil && s.PendingPlanEffectiveAt != nil && !s.PendingPlanEffectiveAt.After(now)
}

// CancellationDue reports whether a scheduled cancellation takes effect at or before now
func (s *Subscription) CancellationDue(now time.Time) bool {
	return s.CancellationEffectiveAt != nil && !s.CancellationEffectiveAt.After(now) && s.Status != SubscriptionCancelled
}

// ErrNoLongerDue is returned when a candidate changed between listing and applying
var ErrNoLongerDue = errors.New("subscription transition no longer due")

// Sweep names used in logs and metrics
const (
	SweepPlanChanges   = "plan_change"
	SweepCancellations = "cancellation"
)

// SweepCounts aggregates the outcome of one sweep
type SweepCounts struct {
	Candidates int `json:"candidates"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// SweepReport is the outcome of a full run
type SweepReport struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	PlanChanges   SweepCounts   `json:"plan_changes"`
	Cancellations SweepCounts   `json:"cancellations"`
}

// Failed reports the total number of failed candidates
func (r *SweepReport) Failed() int {
	return r.PlanChanges.Failed + r.Cancellations.Failed
}
