// Package postgres opens the PostgreSQL and Redis connections used by the
// clinicore stores and owns the database schema.
//
// # Connections
//
//	db, err := postgres.Open(ctx, postgres.DefaultConfig(cfg.Storage.PostgresURL))
//	rdb, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{URL: cfg.Storage.RedisURL})
//
// Open configures the connection pool and pings the server before returning.
//
// # Migrations
//
// The schema lives in migrations/*.up.sql and is embedded in the binary.
// Migrate applies the files in lexical order, one transaction per file, and
// records each applied version in schema_migrations, so running it twice is
// harmless:
//
//	applied, err := postgres.Migrate(ctx, db)
//
// The stores themselves live next to their domain types (auth.PostgresStore,
// tenancy.PostgresStore, permissions.PostgresStore, billing.PostgresStore,
// audit.PostgresSink) and only share the *sql.DB returned here.
package postgres
