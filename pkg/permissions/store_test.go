package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Get(t *testing.T) {
	tenantID, staffID := uuid.New(), uuid.New()

	t.Run("decodes grants", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		updatedAt := time.Now()
		mock.ExpectQuery("FROM module_permissions\\s+WHERE tenant_id = \\$1 AND staff_id = \\$2").
			WithArgs(tenantID, staffID).
			WillReturnRows(sqlmock.NewRows([]string{"permissions", "updated_at"}).
				AddRow([]byte(`{"PATIENTS":["VIEW","EDIT"]}`), updatedAt))

		perms, err := NewPostgresStore(db).Get(context.Background(), tenantID, staffID)
		require.NoError(t, err)
		require.NotNil(t, perms)
		assert.Equal(t, Grants{ModulePatients: {ActionView, ActionEdit}}, perms.Grants)
		assert.Equal(t, staffID, perms.StaffID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing record is nil without error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("FROM module_permissions").
			WillReturnRows(sqlmock.NewRows([]string{"permissions", "updated_at"}))

		perms, err := NewPostgresStore(db).Get(context.Background(), tenantID, staffID)
		assert.NoError(t, err)
		assert.Nil(t, perms)
	})

	t.Run("database error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("FROM module_permissions").WillReturnError(errors.New("timeout"))

		_, err = NewPostgresStore(db).Get(context.Background(), tenantID, staffID)
		assert.Error(t, err)
	})
}

func TestPostgresStore_Save(t *testing.T) {
	tenantID, staffID := uuid.New(), uuid.New()
	perms := func() *ModulePermissions {
		return &ModulePermissions{TenantID: tenantID, StaffID: staffID, Grants: Grants{ModuleReports: {ActionView}}}
	}

	t.Run("upserts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		updatedAt := time.Now()
		mock.ExpectQuery("INSERT INTO module_permissions").
			WithArgs(tenantID, staffID, `{"REPORTS":["VIEW"]}`).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(updatedAt))

		p := perms()
		require.NoError(t, NewPostgresStore(db).Save(context.Background(), p))
		assert.Equal(t, updatedAt, p.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown staff", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO module_permissions").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

		assert.ErrorIs(t, NewPostgresStore(db).Save(context.Background(), perms()), ErrUnknownStaff)
	})

	t.Run("foreign key violation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO module_permissions").WillReturnError(&pq.Error{Code: "23503"})

		assert.ErrorIs(t, NewPostgresStore(db).Save(context.Background(), perms()), ErrUnknownStaff)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantID, staffID := uuid.New(), uuid.New()

	perms, err := store.Get(ctx, tenantID, staffID)
	require.NoError(t, err)
	assert.Nil(t, perms)

	saved := &ModulePermissions{TenantID: tenantID, StaffID: staffID, Grants: Grants{ModuleStaff: {ActionView}}}
	require.NoError(t, store.Save(ctx, saved))
	saved.Grants[ModuleStaff][0] = ActionDelete

	perms, err = store.Get(ctx, tenantID, staffID)
	require.NoError(t, err)
	assert.Equal(t, Grants{ModuleStaff: {ActionView}}, perms.Grants, "stored record must not alias the caller's")

	perms, err = store.Get(ctx, uuid.New(), staffID)
	require.NoError(t, err)
	assert.Nil(t, perms, "records are tenant scoped")

	store.Known = func(tenantID, staffID uuid.UUID) bool { return false }
	assert.ErrorIs(t, store.Save(ctx, saved), ErrUnknownStaff)
}
