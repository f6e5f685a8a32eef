package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/audit"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainHasher is a fast PasswordHasher for tests
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Verify(hash, password string) bool    { return hash == "plain:"+password }

// recordingSink captures audit events
type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Record(ctx context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.EventType
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store   *MemoryStore
	auth    *Authenticator
	issuer  *JWTIssuer
	sink    *recordingSink
	metrics *observability.Metrics
	tenant  *tenancy.Tenant
	staff   *Staff
	ctx     context.Context
	now     time.Time
}

const staffPassword = "s3cret-password"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	issuer, err := NewJWTIssuer(testSecret, "clinicore", 15*time.Minute)
	require.NoError(t, err)

	f := &fixture{
		store:   NewMemoryStore(),
		issuer:  issuer,
		sink:    &recordingSink{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		tenant:  &tenancy.Tenant{ID: uuid.New(), Slug: "north", Status: tenancy.StatusActive},
		now:     time.Now().UTC().Truncate(time.Second),
	}
	f.staff = &Staff{
		ID:           uuid.New(),
		TenantID:     f.tenant.ID,
		Email:        "doc@example.com",
		FullName:     "Dr. Ada",
		Role:         RoleDoctor,
		PasswordHash: "plain:" + staffPassword,
		Status:       StaffActive,
	}
	f.store.PutStaff(f.staff)

	f.auth = NewAuthenticator(f.store, issuer, plainHasher{}, NewTOTPVerifier(1), Options{
		RefreshTTL:    7 * 24 * time.Hour,
		InvitationTTL: 72 * time.Hour,
		Audit:         f.sink,
		Metrics:       f.metrics,
		Logger:        observability.NewNopLogger(),
		Now:           func() time.Time { return f.now },
	})

	ctx, release := tenancy.Enter(context.Background(), f.tenant)
	t.Cleanup(release)
	f.ctx = ctx
	return f
}

func (f *fixture) login(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword})
	require.NoError(t, err)
	return pair
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized), "want unauthorized, got %v", err)
	assert.Equal(t, "invalid credentials", apperr.Message(err))
}

func TestLogin(t *testing.T) {
	t.Run("issues bearer tokens", func(t *testing.T) {
		f := newFixture(t)

		pair, err := f.auth.Login(f.ctx, LoginRequest{Email: "  DOC@example.com ", Password: staffPassword})
		require.NoError(t, err)

		assert.Equal(t, "Bearer", pair.TokenType)
		assert.NotEmpty(t, pair.AccessToken)
		assert.Equal(t, f.now.Add(7*24*time.Hour), pair.RefreshTokenExpiresAt)
		assert.Equal(t, f.now.Add(15*time.Minute), pair.AccessTokenExpiresAt)

		identity, err := f.issuer.Parse(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, f.staff.ID, identity.StaffID)
		assert.Equal(t, f.tenant.ID, identity.TenantID)
		assert.Equal(t, RoleDoctor, identity.Role)

		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthOperationsTotal.WithLabelValues(OpLogin, "success")))
		assert.Contains(t, f.sink.types(), audit.EventAuthLogin)
	})

	t.Run("second login issues a different refresh token", func(t *testing.T) {
		f := newFixture(t)

		first := f.login(t)
		f.now = f.now.Add(time.Millisecond)
		second := f.login(t)

		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
		assert.Equal(t, 2, f.store.RefreshTokenCount())
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.auth.Login(f.ctx, LoginRequest{Email: "nobody@example.com", Password: staffPassword})
		assertUnauthorized(t, err)
	})

	t.Run("wrong password is indistinguishable from unknown email", func(t *testing.T) {
		f := newFixture(t)
		_, errUnknown := f.auth.Login(f.ctx, LoginRequest{Email: "nobody@example.com", Password: staffPassword})
		_, errWrong := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: "wrong-password"})
		assertUnauthorized(t, errWrong)
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
	})

	t.Run("inactive staff", func(t *testing.T) {
		f := newFixture(t)
		f.staff.Status = StaffInactive
		f.store.PutStaff(f.staff)

		_, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword})
		assertUnauthorized(t, err)
		assert.Equal(t, 0, f.store.RefreshTokenCount())
	})

	t.Run("staff of another tenant", func(t *testing.T) {
		f := newFixture(t)
		other := &tenancy.Tenant{ID: uuid.New(), Slug: "south", Status: tenancy.StatusActive}
		ctx, release := tenancy.Enter(context.Background(), other)
		defer release()

		_, err := f.auth.Login(ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword})
		assertUnauthorized(t, err)
	})

	t.Run("requires tenant scope", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.auth.Login(context.Background(), LoginRequest{Email: f.staff.Email, Password: staffPassword})
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("failures are audited with a reason", func(t *testing.T) {
		f := newFixture(t)
		_, _ = f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: "wrong-password"})

		require.Len(t, f.sink.events, 1)
		event := f.sink.events[0]
		assert.Equal(t, audit.EventAuthLoginFailed, event.Type)
		assert.Equal(t, ReasonBadPassword, event.Metadata["reason"])
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthOperationsTotal.WithLabelValues(OpLogin, "failure")))
	})
}

func TestLoginTwoFactor(t *testing.T) {
	f := newFixture(t)
	f.staff.TwoFactorSecret = testTOTPSecret
	f.store.PutStaff(f.staff)

	t.Run("missing code", func(t *testing.T) {
		_, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword})
		assertUnauthorized(t, err)
	})

	t.Run("wrong code", func(t *testing.T) {
		_, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword, TwoFactorCode: "123456x"})
		assertUnauthorized(t, err)
	})

	t.Run("valid code", func(t *testing.T) {
		code, err := totp.GenerateCode(testTOTPSecret, f.now)
		require.NoError(t, err)

		pair, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword, TwoFactorCode: code})
		require.NoError(t, err)
		assert.NotEmpty(t, pair.RefreshToken)
	})

	t.Run("wrong password with valid code", func(t *testing.T) {
		code, err := totp.GenerateCode(testTOTPSecret, f.now)
		require.NoError(t, err)

		_, err = f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: "nope-nope", TwoFactorCode: code})
		assertUnauthorized(t, err)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("rotation makes presented token single use", func(t *testing.T) {
		f := newFixture(t)
		first := f.login(t)

		second, err := f.auth.Refresh(f.ctx, first.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
		assert.Equal(t, "Bearer", second.TokenType)

		_, err = f.auth.Refresh(f.ctx, first.RefreshToken)
		assertUnauthorized(t, err)

		third, err := f.auth.Refresh(f.ctx, second.RefreshToken)
		require.NoError(t, err)

		_, err = f.auth.Refresh(f.ctx, second.RefreshToken)
		assertUnauthorized(t, err)
		assert.NotEmpty(t, third.RefreshToken)
	})

	t.Run("replayed token is deleted", func(t *testing.T) {
		f := newFixture(t)
		first := f.login(t)
		_, err := f.auth.Refresh(f.ctx, first.RefreshToken)
		require.NoError(t, err)
		require.Equal(t, 2, f.store.RefreshTokenCount())

		_, err = f.auth.Refresh(f.ctx, first.RefreshToken)
		assertUnauthorized(t, err)
		assert.Equal(t, 1, f.store.RefreshTokenCount())
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		first := f.login(t)
		f.now = f.now.Add(7*24*time.Hour + time.Second)

		_, err := f.auth.Refresh(f.ctx, first.RefreshToken)
		assertUnauthorized(t, err)
		assert.Equal(t, 0, f.store.RefreshTokenCount())
	})

	t.Run("unknown and malformed tokens", func(t *testing.T) {
		f := newFixture(t)
		unknown, _, err := GenerateToken(RefreshTokenPrefix)
		require.NoError(t, err)

		_, err = f.auth.Refresh(f.ctx, unknown)
		assertUnauthorized(t, err)
		_, err = f.auth.Refresh(f.ctx, "garbage")
		assertUnauthorized(t, err)
	})

	t.Run("token of another tenant", func(t *testing.T) {
		f := newFixture(t)
		pair := f.login(t)

		other := &tenancy.Tenant{ID: uuid.New(), Slug: "south", Status: tenancy.StatusActive}
		ctx, release := tenancy.Enter(context.Background(), other)
		defer release()

		_, err := f.auth.Refresh(ctx, pair.RefreshToken)
		assertUnauthorized(t, err)

		_, err = f.auth.Refresh(f.ctx, pair.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("deactivated staff cannot refresh", func(t *testing.T) {
		f := newFixture(t)
		pair := f.login(t)
		f.staff.Status = StaffInactive
		f.store.PutStaff(f.staff)

		_, err := f.auth.Refresh(f.ctx, pair.RefreshToken)
		assertUnauthorized(t, err)

		for _, tok := range f.store.refresh {
			assert.True(t, tok.Revoked)
		}
	})
}

func TestRefreshConcurrentRotation(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)

	const attempts = 32
	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.auth.Refresh(f.ctx, pair.RefreshToken)
			if err == nil {
				succeeded.Add(1)
			} else if apperr.IsKind(err, apperr.KindUnauthorized) {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)

	require.NoError(t, f.auth.Logout(f.ctx, pair.RefreshToken))

	_, err := f.auth.Refresh(f.ctx, pair.RefreshToken)
	assertUnauthorized(t, err)

	t.Run("is idempotent", func(t *testing.T) {
		assert.NoError(t, f.auth.Logout(f.ctx, pair.RefreshToken))
	})

	t.Run("unknown token is a no-op", func(t *testing.T) {
		unknown, _, err := GenerateToken(RefreshTokenPrefix)
		require.NoError(t, err)
		assert.NoError(t, f.auth.Logout(f.ctx, unknown))
		assert.NoError(t, f.auth.Logout(f.ctx, "garbage"))
	})
}

func TestChangePassword(t *testing.T) {
	t.Run("revokes every existing session", func(t *testing.T) {
		f := newFixture(t)
		sessions := []*TokenPair{f.login(t), f.login(t), f.login(t)}

		require.NoError(t, f.auth.ChangePassword(f.ctx, f.staff.ID, staffPassword, "brand-new-password"))

		for _, s := range sessions {
			_, err := f.auth.Refresh(f.ctx, s.RefreshToken)
			assertUnauthorized(t, err)
		}

		_, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: staffPassword})
		assertUnauthorized(t, err)
		_, err = f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: "brand-new-password"})
		assert.NoError(t, err)
		assert.Contains(t, f.sink.types(), audit.EventAuthPasswordChange)
	})

	t.Run("padding counts toward the minimum length", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auth.ChangePassword(f.ctx, f.staff.ID, staffPassword, "   abc    "))
		_, err := f.auth.Login(f.ctx, LoginRequest{Email: f.staff.Email, Password: "   abc    "})
		assert.NoError(t, err)
	})

	tests := []struct {
		name     string
		staffID  func(f *fixture) uuid.UUID
		current  string
		next     string
		wantKind apperr.Kind
	}{
		{"missing staff", func(f *fixture) uuid.UUID { return uuid.New() }, staffPassword, "brand-new-password", apperr.KindNotFound},
		{"wrong current password", func(f *fixture) uuid.UUID { return f.staff.ID }, "not-my-password", "brand-new-password", apperr.KindBadRequest},
		{"too short", func(f *fixture) uuid.UUID { return f.staff.ID }, staffPassword, "short", apperr.KindBadRequest},
		{"same as current", func(f *fixture) uuid.UUID { return f.staff.ID }, staffPassword, staffPassword, apperr.KindBadRequest},
		{"same after trim", func(f *fixture) uuid.UUID { return f.staff.ID }, staffPassword, "  " + staffPassword + " ", apperr.KindBadRequest},
		{"seven characters", func(f *fixture) uuid.UUID { return f.staff.ID }, staffPassword, "abc1234", apperr.KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			pair := f.login(t)

			err := f.auth.ChangePassword(f.ctx, tt.staffID(f), tt.current, tt.next)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, tt.wantKind), "got %v", err)

			_, err = f.auth.Refresh(f.ctx, pair.RefreshToken)
			assert.NoError(t, err, "failed change must not revoke sessions")
		})
	}
}

func TestSetupPassword(t *testing.T) {
	newInvited := func(t *testing.T) (*fixture, *Staff, *Invitation) {
		f := newFixture(t)
		invited := &Staff{
			ID:       uuid.New(),
			TenantID: f.tenant.ID,
			Email:    "new@example.com",
			FullName: "New Hire",
			Role:     RoleReceptionist,
			Status:   StaffInactive,
		}
		f.store.PutStaff(invited)
		inv, err := f.auth.CreateInvitation(f.ctx, invited.ID)
		require.NoError(t, err)
		assert.Equal(t, f.now.Add(72*time.Hour), inv.ExpiresAt)
		return f, invited, inv
	}

	t.Run("activates staff", func(t *testing.T) {
		f, invited, inv := newInvited(t)

		require.NoError(t, f.auth.SetupPassword(f.ctx, inv.Token, "first-password"))

		pair, err := f.auth.Login(f.ctx, LoginRequest{Email: invited.Email, Password: "first-password"})
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
	})

	t.Run("used invitation fails", func(t *testing.T) {
		f, _, inv := newInvited(t)
		require.NoError(t, f.auth.SetupPassword(f.ctx, inv.Token, "first-password"))

		err := f.auth.SetupPassword(f.ctx, inv.Token, "second-password")
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})

	t.Run("expired invitation fails", func(t *testing.T) {
		f, _, inv := newInvited(t)
		f.now = f.now.Add(72 * time.Hour)

		err := f.auth.SetupPassword(f.ctx, inv.Token, "first-password")
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})

	t.Run("unknown invitation fails", func(t *testing.T) {
		f := newFixture(t)
		unknown, _, err := GenerateToken(InvitationTokenPrefix)
		require.NoError(t, err)

		err = f.auth.SetupPassword(f.ctx, unknown, "first-password")
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})

	t.Run("short password does not consume invitation", func(t *testing.T) {
		f, _, inv := newInvited(t)

		err := f.auth.SetupPassword(f.ctx, inv.Token, "short")
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))

		assert.NoError(t, f.auth.SetupPassword(f.ctx, inv.Token, "long-enough-password"))
	})

	t.Run("invitation for missing staff", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.auth.CreateInvitation(f.ctx, uuid.New())
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	colleague := &Staff{
		ID:       uuid.New(),
		TenantID: f.tenant.ID,
		Email:    "nurse@example.com",
		Role:     RoleNurse,
		Status:   StaffActive,
	}
	f.store.PutStaff(colleague)

	t.Run("updates name and normalises email", func(t *testing.T) {
		staff, err := f.auth.UpdateProfile(f.ctx, f.staff.ID, " Dr. Ada L. ", " ADA@Example.com ")
		require.NoError(t, err)
		assert.Equal(t, "Dr. Ada L.", staff.FullName)
		assert.Equal(t, "ada@example.com", staff.Email)
	})

	t.Run("keeping own email is allowed", func(t *testing.T) {
		_, err := f.auth.UpdateProfile(f.ctx, f.staff.ID, "Dr. Ada", "ada@example.com")
		assert.NoError(t, err)
	})

	t.Run("email owned by colleague conflicts", func(t *testing.T) {
		_, err := f.auth.UpdateProfile(f.ctx, f.staff.ID, "Dr. Ada", "Nurse@example.com")
		assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	})

	t.Run("missing staff", func(t *testing.T) {
		_, err := f.auth.UpdateProfile(f.ctx, uuid.New(), "Someone", "someone@example.com")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("validation", func(t *testing.T) {
		_, err := f.auth.UpdateProfile(f.ctx, f.staff.ID, "", "a@example.com")
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
		_, err = f.auth.UpdateProfile(f.ctx, f.staff.ID, "Dr. Ada", "not-an-email")
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	})
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.now = f.now.Add(24 * time.Hour)
	f.login(t)
	f.now = f.now.Add(6*24*time.Hour + time.Minute)

	n, err := f.auth.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.store.RefreshTokenCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTokensPurgedTotal))
}

func TestPurgeOnAuthIsBestEffort(t *testing.T) {
	issuer, err := NewJWTIssuer(testSecret, "clinicore", time.Minute)
	require.NoError(t, err)

	store := &failingPurgeStore{MemoryStore: NewMemoryStore(), purged: make(chan struct{}, 1)}
	tenant := &tenancy.Tenant{ID: uuid.New(), Slug: "north", Status: tenancy.StatusActive}
	staff := &Staff{ID: uuid.New(), TenantID: tenant.ID, Email: "a@example.com", Role: RoleAdmin, PasswordHash: "plain:" + staffPassword, Status: StaffActive}
	store.PutStaff(staff)

	authenticator := NewAuthenticator(store, issuer, plainHasher{}, NewTOTPVerifier(1), Options{
		PurgeOnAuth: true,
		Logger:      observability.NewNopLogger(),
	})
	ctx, release := tenancy.Enter(context.Background(), tenant)
	defer release()

	_, err = authenticator.Login(ctx, LoginRequest{Email: staff.Email, Password: staffPassword})
	require.NoError(t, err)

	select {
	case <-store.purged:
	case <-time.After(2 * time.Second):
		t.Fatal("purge was not attempted")
	}
}

// failingPurgeStore fails every purge
type failingPurgeStore struct {
	*MemoryStore
	purged chan struct{}
}

func (s *failingPurgeStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	s.purged <- struct{}{}
	return 0, errors.New("purge failed")
}

func TestCheckPasswordPolicy(t *testing.T) {
	assert.NoError(t, CheckPasswordPolicy("12345678"))
	assert.Error(t, CheckPasswordPolicy("1234567"))
	assert.NoError(t, CheckPasswordPolicy("  pass12"), "surrounding spaces count toward the length")
	assert.NoError(t, CheckPasswordPolicy("pässwört"), "length is measured in characters, not bytes")
	assert.Error(t, CheckPasswordPolicy("pässwör"))
	assert.Error(t, CheckPasswordPolicy(string(make([]byte, 73))))
}

func TestProfile(t *testing.T) {
	f := newFixture(t)

	staff, err := f.auth.Profile(f.ctx, f.staff.ID)
	require.NoError(t, err)
	assert.Equal(t, f.staff.Email, staff.Email)

	_, err = f.auth.Profile(f.ctx, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
