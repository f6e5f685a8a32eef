package auth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/async"
	"github.com/medora-health/clinicore/pkg/audit"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MinPasswordLength is the minimum length of a new password
const MinPasswordLength = 8

// maxPasswordBytes is the longest password bcrypt can hash
const maxPasswordBytes = 72

// Failure reasons. They are logged and audited but never returned to callers.
const (
	ReasonUnknownEmail  = "unknown_email"
	ReasonInactive      = "inactive"
	ReasonBadPassword   = "bad_password"
	ReasonMissingTOTP   = "missing_totp"
	ReasonBadTOTP       = "bad_totp"
	ReasonTokenNotFound = "token_not_found"
	ReasonTokenRevoked  = "token_revoked"
	ReasonTokenExpired  = "token_expired"
)

// Operation names used in metrics and spans
const (
	OpLogin          = "login"
	OpRefresh        = "refresh"
	OpLogout         = "logout"
	OpChangePassword = "change_password"
	OpSetupPassword  = "setup_password"
)

const purgeTimeout = 30 * time.Second

// Options tunes the authenticator
type Options struct {
	RefreshTTL    time.Duration
	InvitationTTL time.Duration
	// PurgeOnAuth deletes expired refresh tokens in the background after each
	// successful login and refresh
	PurgeOnAuth bool
	Audit       audit.Sink
	Metrics     *observability.Metrics
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// LoginRequest holds login credentials
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// Invitation is a freshly created invitation; Token is only available here
type Invitation struct {
	Token     string
	StaffID   uuid.UUID
	ExpiresAt time.Time
}

// Authenticator owns the staff credential lifecycle
type Authenticator struct {
	store     Store
	issuer    TokenIssuer
	hasher    PasswordHasher
	twoFactor TwoFactorVerifier
	opts      Options
	dummyHash string
	tracer    trace.Tracer
}

// NewAuthenticator creates an authenticator. Zero options get safe defaults.
func NewAuthenticator(store Store, issuer TokenIssuer, hasher PasswordHasher, twoFactor TwoFactorVerifier, opts Options) *Authenticator {
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = 72 * time.Hour
	}
	if opts.Audit == nil {
		opts.Audit = audit.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// Verifying against a real hash for unknown emails keeps response times uniform.
	dummyHash, _ := hasher.Hash("clinicore-unknown-staff")

	return &Authenticator{
		store:     store,
		issuer:    issuer,
		hasher:    hasher,
		twoFactor: twoFactor,
		opts:      opts,
		dummyHash: dummyHash,
		tracer:    observability.Tracer(),
	}
}

// Login verifies credentials and issues a new token pair
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (_ *TokenPair, err error) {
	ctx, span := a.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	tc, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	logger := a.logger(ctx, tc)

	email := NormalizeEmail(req.Email)
	staff, err := a.store.GetStaffByEmail(ctx, tc.TenantID, email)
	if errors.Is(err, ErrStaffNotFound) {
		a.hasher.Verify(a.dummyHash, req.Password)
		return nil, a.deny(ctx, tc, OpLogin, ReasonUnknownEmail, nil, logger.WithField("email", email))
	}
	if err != nil {
		a.recordOutcome(OpLogin, "error")
		return nil, apperr.Internal("failed to load staff", err)
	}

	logger = logger.WithField("staff_id", staff.ID)
	if !staff.IsActive() {
		return nil, a.deny(ctx, tc, OpLogin, ReasonInactive, &staff.ID, logger)
	}
	if !a.hasher.Verify(staff.PasswordHash, req.Password) {
		return nil, a.deny(ctx, tc, OpLogin, ReasonBadPassword, &staff.ID, logger)
	}
	if staff.RequiresTwoFactor() {
		if strings.TrimSpace(req.TwoFactorCode) == "" {
			return nil, a.deny(ctx, tc, OpLogin, ReasonMissingTOTP, &staff.ID, logger)
		}
		if !a.twoFactor.Verify(staff.TwoFactorSecret, req.TwoFactorCode, a.opts.Now()) {
			return nil, a.deny(ctx, tc, OpLogin, ReasonBadTOTP, &staff.ID, logger)
		}
	}

	now := a.opts.Now()
	refresh, record, err := a.newRefreshToken(staff, now)
	if err != nil {
		a.recordOutcome(OpLogin, "error")
		return nil, err
	}
	if err := a.store.CreateRefreshToken(ctx, record); err != nil {
		a.recordOutcome(OpLogin, "error")
		return nil, apperr.Internal("failed to store refresh token", err)
	}

	pair, err := a.issuePair(staff, refresh, record.ExpiresAt, now)
	if err != nil {
		a.recordOutcome(OpLogin, "error")
		return nil, err
	}

	a.schedulePurge(ctx)
	a.recordOutcome(OpLogin, "success")
	a.audit(ctx, audit.NewEvent(ctx, audit.EventAuthLogin, audit.StatusSuccess).
		WithTenant(tc.TenantID).
		WithActor(staff.ID).
		WithResource(audit.ResourceStaff, staff.ID.String()).
		WithMessage("staff login"))
	logger.Info("staff login succeeded")

	return pair, nil
}

// Refresh rotates a refresh token. The presented token is unusable afterwards.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	ctx, span := a.tracer.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	tc, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	logger := a.logger(ctx, tc)

	if ValidateTokenFormat(refreshToken, RefreshTokenPrefix) != nil {
		return nil, a.deny(ctx, tc, OpRefresh, ReasonTokenNotFound, nil, logger)
	}

	now := a.opts.Now()
	replacement, err := a.newReplacement(now)
	if err != nil {
		a.recordOutcome(OpRefresh, "error")
		return nil, err
	}

	old, err := a.store.RotateRefreshToken(ctx, tc.TenantID, HashToken(refreshToken), replacement.record, now)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return nil, a.deny(ctx, tc, OpRefresh, ReasonTokenNotFound, nil, logger)
	case errors.Is(err, ErrTokenRevoked):
		return nil, a.deny(ctx, tc, OpRefresh, ReasonTokenRevoked, nil, logger)
	case errors.Is(err, ErrTokenExpired):
		return nil, a.deny(ctx, tc, OpRefresh, ReasonTokenExpired, nil, logger)
	case err != nil:
		a.recordOutcome(OpRefresh, "error")
		return nil, apperr.Internal("failed to rotate refresh token", err)
	}

	logger = logger.WithField("staff_id", old.StaffID)
	staff, err := a.store.GetStaffByID(ctx, tc.TenantID, old.StaffID)
	if err != nil && !errors.Is(err, ErrStaffNotFound) {
		a.revokeQuietly(ctx, tc.TenantID, replacement.record.TokenHash, logger)
		a.recordOutcome(OpRefresh, "error")
		return nil, apperr.Internal("failed to load staff", err)
	}
	if err != nil || !staff.IsActive() {
		a.revokeQuietly(ctx, tc.TenantID, replacement.record.TokenHash, logger)
		return nil, a.deny(ctx, tc, OpRefresh, ReasonInactive, &old.StaffID, logger)
	}

	pair, err := a.issuePair(staff, replacement.token, replacement.record.ExpiresAt, now)
	if err != nil {
		a.revokeQuietly(ctx, tc.TenantID, replacement.record.TokenHash, logger)
		a.recordOutcome(OpRefresh, "error")
		return nil, err
	}

	a.schedulePurge(ctx)
	a.recordOutcome(OpRefresh, "success")
	a.audit(ctx, audit.NewEvent(ctx, audit.EventAuthRefresh, audit.StatusSuccess).
		WithTenant(tc.TenantID).
		WithActor(staff.ID).
		WithResource(audit.ResourceStaff, staff.ID.String()))
	logger.Debug("refresh token rotated")

	return pair, nil
}

// Logout revokes a refresh token. Unknown or already revoked tokens are a no-op.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span := a.tracer.Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()

	tc, err := tenancy.Require(ctx)
	if err != nil {
		return err
	}
	if ValidateTokenFormat(refreshToken, RefreshTokenPrefix) != nil {
		a.recordOutcome(OpLogout, "noop")
		return nil
	}

	found, err := a.store.RevokeRefreshToken(ctx, tc.TenantID, HashToken(refreshToken))
	if err != nil {
		a.recordOutcome(OpLogout, "error")
		return apperr.Internal("failed to revoke refresh token", err)
	}
	if !found {
		a.recordOutcome(OpLogout, "noop")
		return nil
	}

	a.recordOutcome(OpLogout, "success")
	a.audit(ctx, audit.NewEvent(ctx, audit.EventAuthLogout, audit.StatusSuccess).WithTenant(tc.TenantID))
	return nil
}

// ChangePassword replaces the password of staffID and revokes all of its sessions
func (a *Authenticator) ChangePassword(ctx context.Context, staffID uuid.UUID, currentPassword, newPassword string) (err error) {
	ctx, span := a.tracer.Start(ctx, "auth.ChangePassword")
	defer func() { endSpan(span, err) }()

	tc, err := tenancy.Require(ctx)
	if err != nil {
		return err
	}
	logger := a.logger(ctx, tc).WithField("staff_id", staffID)

	staff, err := a.store.GetStaffByID(ctx, tc.TenantID, staffID)
	if errors.Is(err, ErrStaffNotFound) {
		a.recordOutcome(OpChangePassword, "failure")
		return apperr.NotFound("staff not found")
	}
	if err != nil {
		a.recordOutcome(OpChangePassword, "error")
		return apperr.Internal("failed to load staff", err)
	}

	if !a.hasher.Verify(staff.PasswordHash, currentPassword) {
		a.recordOutcome(OpChangePassword, "failure")
		return apperr.BadRequest("current password is incorrect")
	}
	if err := CheckPasswordPolicy(newPassword); err != nil {
		a.recordOutcome(OpChangePassword, "failure")
		return err
	}
	if strings.TrimSpace(newPassword) == strings.TrimSpace(currentPassword) || a.hasher.Verify(staff.PasswordHash, newPassword) {
		a.recordOutcome(OpChangePassword, "failure")
		return apperr.BadRequest("new password must differ from the current password")
	}

	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		a.recordOutcome(OpChangePassword, "error")
		return apperr.Internal("failed to hash password", err)
	}

	revoked, err := a.store.UpdatePasswordAndRevokeSessions(ctx, tc.TenantID, staffID, hash)
	if errors.Is(err, ErrStaffNotFound) {
		a.recordOutcome(OpChangePassword, "failure")
		return apperr.NotFound("staff not found")
	}
	if err != nil {
		a.recordOutcome(OpChangePassword, "error")
		return apperr.Internal("failed to update password", err)
	}

	a.recordOutcome(OpChangePassword, "success")
	a.audit(ctx, audit.NewEvent(ctx, audit.EventAuthPasswordChange, audit.StatusSuccess).
		WithTenant(tc.TenantID).
		WithActor(staffID).
		WithResource(audit.ResourceStaff, staffID.String()).
		WithMetadata("sessions_revoked", revoked))
	logger.WithField("sessions_revoked", revoked).Info("password changed")

	return nil
}

// SetupPassword consumes an invitation token, sets the first password and activates the staff member
func (a *Authenticator) SetupPassword(ctx context.Context, invitationToken, newPassword string) (err error) {
	ctx, span := a.tracer.Start(ctx, "auth.SetupPassword")
	defer func() { endSpan(span, err) }()

	tc, err := tenancy.Require(ctx)
	if err != nil {
		return err
	}
	if err := CheckPasswordPolicy(newPassword); err != nil {
		a.recordOutcome(OpSetupPassword, "failure")
		return err
	}
	if ValidateTokenFormat(invitationToken, InvitationTokenPrefix) != nil {
		a.recordOutcome(OpSetupPassword, "failure")
		return apperr.BadRequest("invitation is invalid or expired")
	}

	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		a.recordOutcome(OpSetupPassword, "error")
		return apperr.Internal("failed to hash password", err)
	}

	invitation, err := a.store.ConsumeInvitation(ctx, tc.TenantID, HashToken(invitationToken), hash, a.opts.Now())
	if errors.Is(err, ErrInvitationInvalid) {
		a.recordOutcome(OpSetupPassword, "failure")
		return apperr.BadRequest("invitation is invalid or expired")
	}
	if err != nil {
		a.recordOutcome(OpSetupPassword, "error")
		return apperr.Internal("failed to consume invitation", err)
	}

	a.recordOutcome(OpSetupPassword, "success")
	a.audit(ctx, audit.NewEvent(ctx, audit.EventAuthPasswordSetup, audit.StatusSuccess).
		WithTenant(tc.TenantID).
		WithActor(invitation.StaffID).
		WithResource(audit.ResourceStaff, invitation.StaffID.String()))
	a.logger(ctx, tc).WithField("staff_id", invitation.StaffID).Info("staff account activated")

	return nil
}

// CreateInvitation issues a one-time password setup token for staffID
func (a *Authenticator) CreateInvitation(ctx context.Context, staffID uuid.UUID) (*Invitation, error) {
	tc, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := a.store.GetStaffByID(ctx, tc.TenantID, staffID); err != nil {
		if errors.Is(err, ErrStaffNotFound) {
			return nil, apperr.NotFound("staff not found")
		}
		return nil, apperr.Internal("failed to load staff", err)
	}

	token, hash, err := GenerateToken(InvitationTokenPrefix)
	if err != nil {
		return nil, apperr.Internal("failed to generate invitation", err)
	}

	now := a.opts.Now()
	invitation := &InvitationToken{
		TokenHash: hash,
		TenantID:  tc.TenantID,
		StaffID:   staffID,
		ExpiresAt: now.Add(a.opts.InvitationTTL),
		CreatedAt: now,
	}
	if err := a.store.CreateInvitation(ctx, invitation); err != nil {
		return nil, apperr.Internal("failed to store invitation", err)
	}

	a.audit(ctx, audit.NewEvent(ctx, audit.EventAuthInvitation, audit.StatusSuccess).
		WithTenant(tc.TenantID).
		WithResource(audit.ResourceStaff, staffID.String()))

	return &Invitation{Token: token, StaffID: staffID, ExpiresAt: invitation.ExpiresAt}, nil
}

// Profile returns staffID within the current tenant
func (a *Authenticator) Profile(ctx context.Context, staffID uuid.UUID) (*Staff, error) {
	tc, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	staff, err := a.store.GetStaffByID(ctx, tc.TenantID, staffID)
	if errors.Is(err, ErrStaffNotFound) {
		return nil, apperr.NotFound("staff not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load staff", err)
	}
	return staff, nil
}

// UpdateProfile changes the name and email of staffID
func (a *Authenticator) UpdateProfile(ctx context.Context, staffID uuid.UUID, fullName, email string) (*Staff, error) {
	tc, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}

	fullName = strings.TrimSpace(fullName)
	email = NormalizeEmail(email)
	if fullName == "" {
		return nil, apperr.BadRequest("full name is required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.BadRequest("a valid email is required")
	}

	staff, err := a.store.GetStaffByID(ctx, tc.TenantID, staffID)
	if errors.Is(err, ErrStaffNotFound) {
		return nil, apperr.NotFound("staff not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load staff", err)
	}

	owner, err := a.store.GetStaffByEmail(ctx, tc.TenantID, email)
	switch {
	case err == nil && owner.ID != staffID:
		return nil, apperr.Conflict("email already in use")
	case err != nil && !errors.Is(err, ErrStaffNotFound):
		return nil, apperr.Internal("failed to check email", err)
	}

	before := map[string]interface{}{"full_name": staff.FullName, "email": staff.Email}
	staff.FullName = fullName
	staff.Email = email
	if err := a.store.UpdateStaffProfile(ctx, staff); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return nil, apperr.Conflict("email already in use")
		}
		if errors.Is(err, ErrStaffNotFound) {
			return nil, apperr.NotFound("staff not found")
		}
		return nil, apperr.Internal("failed to update profile", err)
	}

	a.audit(ctx, audit.NewEvent(ctx, audit.EventStaffProfileUpdate, audit.StatusSuccess).
		WithTenant(tc.TenantID).
		WithActor(staffID).
		WithResource(audit.ResourceStaff, staffID.String()).
		WithChanges(before, map[string]interface{}{"full_name": fullName, "email": email}))

	return staff, nil
}

// PurgeExpired deletes refresh tokens of every tenant that have expired
func (a *Authenticator) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := a.store.DeleteExpiredRefreshTokens(ctx, a.opts.Now())
	if err != nil {
		return 0, err
	}
	a.opts.Metrics.RecordRefreshTokensPurged(n)
	if n > 0 {
		a.opts.Logger.WithField("deleted", n).Info("purged expired refresh tokens")
	}
	return n, nil
}

// CheckPasswordPolicy validates a new password. Length is counted in
// characters of the password exactly as submitted.
func CheckPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperr.BadRequest("password must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return apperr.BadRequest("password must be at most 72 bytes")
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type pendingToken struct {
	token  string
	record *RefreshToken
}

func (a *Authenticator) newReplacement(now time.Time) (*pendingToken, error) {
	token, hash, err := GenerateToken(RefreshTokenPrefix)
	if err != nil {
		return nil, apperr.Internal("failed to generate refresh token", err)
	}
	return &pendingToken{
		token: token,
		record: &RefreshToken{
			TokenHash: hash,
			ExpiresAt: now.Add(a.opts.RefreshTTL),
			CreatedAt: now,
		},
	}, nil
}

func (a *Authenticator) newRefreshToken(staff *Staff, now time.Time) (string, *RefreshToken, error) {
	pending, err := a.newReplacement(now)
	if err != nil {
		return "", nil, err
	}
	pending.record.TenantID = staff.TenantID
	pending.record.StaffID = staff.ID
	return pending.token, pending.record, nil
}

func (a *Authenticator) issuePair(staff *Staff, refreshToken string, refreshExpiresAt, now time.Time) (*TokenPair, error) {
	access, accessExpiresAt, err := a.issuer.Issue(Identity{
		StaffID:  staff.ID,
		TenantID: staff.TenantID,
		Email:    staff.Email,
		Role:     staff.Role,
	}, now)
	if err != nil {
		return nil, apperr.Internal("failed to issue access token", err)
	}

	return &TokenPair{
		TokenType:             TokenTypeBearer,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// deny records a credential failure and returns the generic Unauthorized error
func (a *Authenticator) deny(ctx context.Context, tc tenancy.TenantContext, op, reason string, staffID *uuid.UUID, logger logrus.FieldLogger) error {
	a.recordOutcome(op, "failure")
	logger.WithFields(logrus.Fields{"operation": op, "reason": reason}).Warn("authentication rejected")

	eventType := audit.EventAuthLoginFailed
	if op == OpRefresh {
		eventType = audit.EventAuthRefreshFailed
	}
	event := audit.NewEvent(ctx, eventType, audit.StatusFailure).
		WithTenant(tc.TenantID).
		WithMetadata("reason", reason)
	if staffID != nil {
		event.WithActor(*staffID).WithResource(audit.ResourceStaff, staffID.String())
	}
	a.audit(ctx, event)

	return apperr.Unauthorized("invalid credentials")
}

func (a *Authenticator) revokeQuietly(ctx context.Context, tenantID uuid.UUID, tokenHash string, logger logrus.FieldLogger) {
	if _, err := a.store.RevokeRefreshToken(ctx, tenantID, tokenHash); err != nil {
		logger.WithError(err).Error("failed to revoke replacement refresh token")
	}
}

func (a *Authenticator) schedulePurge(ctx context.Context) {
	if !a.opts.PurgeOnAuth {
		return
	}
	async.SafeGo(ctx, a.opts.Logger, purgeTimeout, "refresh token purge", func(ctx context.Context) error {
		_, err := a.PurgeExpired(ctx)
		return err
	})
}

func (a *Authenticator) audit(ctx context.Context, event *audit.Event) {
	if err := a.opts.Audit.Record(ctx, event); err != nil {
		observability.LoggerFromContext(ctx, a.opts.Logger).
			WithError(err).
			WithField("audit_type", event.Type).
			Error("failed to record audit event")
	}
}

func (a *Authenticator) recordOutcome(op, outcome string) {
	a.opts.Metrics.RecordAuthOperation(op, outcome)
}

func (a *Authenticator) logger(ctx context.Context, tc tenancy.TenantContext) logrus.FieldLogger {
	return observability.LoggerFromContext(ctx, a.opts.Logger).WithFields(logrus.Fields{
		"tenant_id":   tc.TenantID,
		"tenant_slug": tc.Slug,
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	span.End()
}
