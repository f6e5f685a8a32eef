package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventAuthLogin          EventType = "auth.login"
	EventAuthLoginFailed    EventType = "auth.login_failed"
	EventAuthRefresh        EventType = "auth.refresh"
	EventAuthRefreshFailed  EventType = "auth.refresh_failed"
	EventAuthLogout         EventType = "auth.logout"
	EventAuthPasswordChange EventType = "auth.password_change"
	EventAuthPasswordSetup  EventType = "auth.password_setup"
	EventAuthInvitation     EventType = "auth.invitation_create"

	// Staff administration events
	EventStaffProfileUpdate   EventType = "staff.profile_update"
	EventStaffPermissionsSave EventType = "staff.permissions_update"

	// Billing events
	EventBillingPlanChange   EventType = "billing.plan_change"
	EventBillingCancellation EventType = "billing.cancellation"
)

// Status represents the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// ResourceType represents the type of resource an event concerns
type ResourceType string

const (
	ResourceStaff        ResourceType = "staff"
	ResourceSubscription ResourceType = "subscription"
	ResourceTenant       ResourceType = "tenant"
)

// ChangeDetails holds the before and after values of a mutation
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// Event is a single audit record
type Event struct {
	ID           int64                  `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Type         EventType              `json:"type"`
	Status       Status                 `json:"status"`
	TenantID     *uuid.UUID             `json:"tenant_id,omitempty"`
	ActorID      *uuid.UUID             `json:"actor_id,omitempty"`
	ResourceType ResourceType           `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Changes      *ChangeDetails         `json:"changes,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the current time and the request id from ctx
func NewEvent(ctx context.Context, eventType EventType, status Status) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// WithTenant sets the tenant the event belongs to
func (e *Event) WithTenant(tenantID uuid.UUID) *Event {
	e.TenantID = &tenantID
	return e
}

// WithActor sets the staff member who caused the event
func (e *Event) WithActor(staffID uuid.UUID) *Event {
	e.ActorID = &staffID
	return e
}

// WithResource sets the resource the event concerns
func (e *Event) WithResource(resourceType ResourceType, resourceID string) *Event {
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// WithMessage sets a human readable message
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// WithChanges records before and after values
func (e *Event) WithChanges(before, after map[string]interface{}) *Event {
	e.Changes = &ChangeDetails{Before: before, After: after}
	return e
}

// WithMetadata adds a metadata key
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
