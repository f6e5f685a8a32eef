package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/permissions"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

// RefreshRequest is the body of POST /auth/refresh and POST /auth/logout
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SetupPasswordRequest is the body of POST /auth/setup-password
type SetupPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of POST /auth/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdateProfileRequest is the body of PUT /staff/me
type UpdateProfileRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// TokenResponse is returned by login and refresh
type TokenResponse = auth.TokenPair

// StaffResponse is the public view of a staff member
type StaffResponse struct {
	ID        uuid.UUID        `json:"id"`
	TenantID  uuid.UUID        `json:"tenantId"`
	Email     string           `json:"email"`
	FullName  string           `json:"fullName"`
	Role      auth.Role        `json:"role"`
	Status    auth.StaffStatus `json:"status"`
	DoctorID  *uuid.UUID       `json:"doctorId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func newStaffResponse(s *auth.Staff) StaffResponse {
	return StaffResponse{
		ID:        s.ID,
		TenantID:  s.TenantID,
		Email:     s.Email,
		FullName:  s.FullName,
		Role:      s.Role,
		Status:    s.Status,
		DoctorID:  s.DoctorID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// PermissionsResponse maps each module to the actions granted on it
type PermissionsResponse struct {
	StaffID     uuid.UUID          `json:"staffId"`
	Permissions permissions.Grants `json:"permissions"`
}

// ReplacePermissionsRequest is the body of PUT /staff/{staff_id}/permissions
type ReplacePermissionsRequest struct {
	Permissions permissions.Grants `json:"permissions"`
}

// InvitationResponse carries a one-time invitation token. It is only ever shown once.
type InvitationResponse struct {
	Token     string    `json:"token"`
	StaffID   uuid.UUID `json:"staffId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
