package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/contextkeys"
)

// Role is a staff member's role within a clinic
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleReceptionist Role = "RECEPTIONIST"
	RoleDoctor       Role = "DOCTOR"
	RoleNurse        Role = "NURSE"
	RoleAccountant   Role = "ACCOUNTANT"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReceptionist, RoleDoctor, RoleNurse, RoleAccountant:
		return true
	}
	return false
}

// StaffStatus is the account status of a staff member
type StaffStatus string

const (
	StaffActive   StaffStatus = "ACTIVE"
	StaffInactive StaffStatus = "INACTIVE"
)

// Staff is a staff identity within one tenant
type Staff struct {
	ID              uuid.UUID   `json:"id"`
	TenantID        uuid.UUID   `json:"tenant_id"`
	Email           string      `json:"email"`
	FullName        string      `json:"full_name"`
	Role            Role        `json:"role"`
	PasswordHash    string      `json:"-"`
	TwoFactorSecret string      `json:"-"`
	Status          StaffStatus `json:"status"`
	DoctorID        *uuid.UUID  `json:"doctor_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IsActive reports whether the staff member may sign in
func (s *Staff) IsActive() bool {
	return s.Status == StaffActive
}

// RequiresTwoFactor reports whether login needs a TOTP code
func (s *Staff) RequiresTwoFactor() bool {
	return s.TwoFactorSecret != ""
}

// RefreshToken is the stored form of a refresh token
type RefreshToken struct {
	TokenHash string
	TenantID  uuid.UUID
	StaffID   uuid.UUID
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Expired reports whether the token has expired at now
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token may still be used for refresh or logout
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && !t.Expired(now)
}

// InvitationToken lets a not-yet-activated staff member set a first password
type InvitationToken struct {
	TokenHash string
	TenantID  uuid.UUID
	StaffID   uuid.UUID
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsValid reports whether the invitation is neither expired nor used
func (t *InvitationToken) IsValid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// Identity is the authenticated staff member behind a request
type Identity struct {
	StaffID  uuid.UUID
	TenantID uuid.UUID
	Email    string
	Role     Role
	TokenID  string
}

// IsAdmin reports whether the identity bypasses module permissions
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IdentityFromContext returns the authenticated identity of the request
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity, ok && identity != nil
}

// TokenPair is the credential pair returned by Login and Refresh
type TokenPair struct {
	TokenType             string    `json:"tokenType"`
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// TokenTypeBearer is the only token type issued
const TokenTypeBearer = "Bearer"

// Store errors
var (
	ErrStaffNotFound      = errors.New("staff not found")
	ErrEmailInUse         = errors.New("email already in use")
	ErrTokenNotFound      = errors.New("refresh token not found")
	ErrTokenRevoked       = errors.New("refresh token revoked")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrInvitationInvalid  = errors.New("invitation token invalid")
	ErrInvalidAccessToken = errors.New("invalid access token")
)
