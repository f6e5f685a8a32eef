package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewJWTIssuer(t *testing.T) {
	_, err := NewJWTIssuer([]byte("short"), "clinicore", time.Minute)
	assert.Error(t, err)

	_, err = NewJWTIssuer(testSecret, "clinicore", 0)
	assert.Error(t, err)
}

func TestJWTIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewJWTIssuer(testSecret, "clinicore", 15*time.Minute)
	require.NoError(t, err)

	identity := Identity{
		StaffID:  uuid.New(),
		TenantID: uuid.New(),
		Email:    "doc@example.com",
		Role:     RoleDoctor,
	}
	now := time.Now()

	token, expiresAt, err := issuer.Issue(identity, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(15*time.Minute), expiresAt, time.Second)

	parsed, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, identity.StaffID, parsed.StaffID)
	assert.Equal(t, identity.TenantID, parsed.TenantID)
	assert.Equal(t, identity.Email, parsed.Email)
	assert.Equal(t, RoleDoctor, parsed.Role)
	assert.NotEmpty(t, parsed.TokenID)
}

func TestJWTIssuer_Rejects(t *testing.T) {
	issuer, err := NewJWTIssuer(testSecret, "clinicore", 15*time.Minute)
	require.NoError(t, err)
	identity := Identity{StaffID: uuid.New(), TenantID: uuid.New(), Role: RoleAdmin}

	t.Run("expired", func(t *testing.T) {
		token, _, err := issuer.Issue(identity, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidAccessToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewJWTIssuer([]byte("ffffffffffffffffffffffffffffffff"), "clinicore", time.Minute)
		require.NoError(t, err)
		token, _, err := other.Issue(identity, time.Now())
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidAccessToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := NewJWTIssuer(testSecret, "someone-else", time.Minute)
		require.NoError(t, err)
		token, _, err := other.Issue(identity, time.Now())
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidAccessToken)
	})

	t.Run("unsigned token", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": identity.StaffID.String(), "iss": "clinicore", "exp": time.Now().Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidAccessToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Parse("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidAccessToken)
	})
}
