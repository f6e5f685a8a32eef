package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenIssuer mints and verifies access tokens
type TokenIssuer interface {
	Issue(identity Identity, now time.Time) (token string, expiresAt time.Time, err error)
	Parse(token string) (*Identity, error)
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// TwoFactorVerifier checks a one-time code against a staff member's secret
type TwoFactorVerifier interface {
	Verify(secret, code string, now time.Time) bool
}

// StaffStore persists staff identities. Lookups are tenant-scoped and return ErrStaffNotFound.
type StaffStore interface {
	GetStaffByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*Staff, error)
	GetStaffByID(ctx context.Context, tenantID, staffID uuid.UUID) (*Staff, error)
	// UpdateStaffProfile stores FullName and Email; returns ErrEmailInUse on a duplicate email
	UpdateStaffProfile(ctx context.Context, staff *Staff) error
	// UpdatePasswordAndRevokeSessions sets the hash and revokes every active refresh
	// token of the staff member in one transaction
	UpdatePasswordAndRevokeSessions(ctx context.Context, tenantID, staffID uuid.UUID, passwordHash string) (int64, error)
}

// RefreshTokenStore persists refresh tokens by hash
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	// RotateRefreshToken atomically verifies the presented token, revokes it and
	// stores replacement for the same staff member. A revoked or expired token is
	// deleted and ErrTokenRevoked or ErrTokenExpired is returned.
	RotateRefreshToken(ctx context.Context, tenantID uuid.UUID, presentedHash string, replacement *RefreshToken, now time.Time) (*RefreshToken, error)
	// RevokeRefreshToken marks a token revoked; it reports whether a usable token was found
	RevokeRefreshToken(ctx context.Context, tenantID uuid.UUID, tokenHash string) (bool, error)
	// DeleteExpiredRefreshTokens removes tokens of every tenant that expired before now
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// InvitationStore persists invitation tokens by hash
type InvitationStore interface {
	CreateInvitation(ctx context.Context, invitation *InvitationToken) error
	// ConsumeInvitation atomically marks the invitation used, stores the password
	// hash and activates the staff member. Unknown, used and expired invitations
	// return ErrInvitationInvalid.
	ConsumeInvitation(ctx context.Context, tenantID uuid.UUID, tokenHash, passwordHash string, now time.Time) (*InvitationToken, error)
}

// Store is the full persistence surface of the authenticator
type Store interface {
	StaffStore
	RefreshTokenStore
	InvitationStore
}
