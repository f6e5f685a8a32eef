package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, "001_core_schema", migrations[0].Version)
	assert.Equal(t, "002_billing_audit", migrations[1].Version)
	assert.Equal(t, "003_tenant_notify", migrations[2].Version)
	assert.Contains(t, migrations[2].SQL, "pg_notify('tenant_changes'")

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	for _, table := range []string{
		"tenants", "staff", "refresh_tokens", "invitation_tokens",
		"module_permissions", "subscriptions", "audit_events",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
}

func TestMigrate(t *testing.T) {
	t.Run("applies pending migrations", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs("001_core_schema").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs("002_billing_audit").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscriptions").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_billing_audit").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs("003_tenant_notify").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		applied, err := Migrate(context.Background(), db)
		require.NoError(t, err)
		assert.Equal(t, []string{"002_billing_audit"}, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stops at the first failing migration", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS tenants").WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		applied, err := Migrate(context.Background(), db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "001_core_schema")
		assert.Empty(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
