package tenancy

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tenantColumns = []string{"id", "slug", "custom_domain", "status", "billing_status", "deleted_at", "created_at", "updated_at"}

func TestPostgresStore_GetActiveBySlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	id := uuid.New()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE slug = $1 AND status = 'ACTIVE'")).
			WithArgs("north").
			WillReturnRows(sqlmock.NewRows(tenantColumns).
				AddRow(id.String(), "north", "", "ACTIVE", "PAST_DUE", nil, now, now))

		tenant, err := store.GetActiveBySlug(context.Background(), "north")
		require.NoError(t, err)
		assert.Equal(t, id, tenant.ID)
		assert.Equal(t, BillingPastDue, tenant.BillingStatus)
		assert.Nil(t, tenant.DeletedAt)
		assert.True(t, tenant.IsActive())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM tenants").WithArgs("gone").WillReturnRows(sqlmock.NewRows(tenantColumns))

		_, err := store.GetActiveBySlug(context.Background(), "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("FROM tenants").WithArgs("north").WillReturnError(errors.New("boom"))

		_, err := store.GetActiveBySlug(context.Background(), "north")
		assert.ErrorContains(t, err, "failed to get tenant")
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActiveByDomain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(custom_domain) = $1")).
		WithArgs("north.example").
		WillReturnRows(sqlmock.NewRows(tenantColumns).
			AddRow(id.String(), "north", "north.example", "ACTIVE", "ACTIVE", nil, now, now))

	tenant, err := NewPostgresStore(db).GetActiveByDomain(context.Background(), "north.example")
	require.NoError(t, err)
	assert.Equal(t, "north.example", tenant.CustomDomain)
	assert.NoError(t, mock.ExpectationsWereMet())
}
