package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/medora-health/clinicore/pkg/audit"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/billing"
	"github.com/medora-health/clinicore/pkg/config"
	"github.com/medora-health/clinicore/pkg/middleware"
	"github.com/medora-health/clinicore/pkg/permissions"
	storage "github.com/medora-health/clinicore/pkg/storage/postgres"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/sirupsen/logrus"
)

// stack holds the stores selected by the storage configuration
type stack struct {
	tenants     tenancy.Store
	auth        auth.Store
	permissions permissions.Store
	billing     billing.Store
	audit       audit.Sink
	limiter     middleware.Limiter

	// tenantChanges evicts cached tenants on database writes; nil for memory storage
	tenantChanges *tenancy.ChangeListener

	db    *sql.DB
	redis *redis.Client
}

// Close releases database and cache connections
func (s *stack) Close() error {
	var firstErr error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildStack(ctx context.Context, cfg *config.Config, migrate bool, logger logrus.FieldLogger) (*stack, error) {
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		return buildPostgresStack(ctx, cfg, migrate, logger)
	default:
		return buildMemoryStack(cfg, logger)
	}
}

func buildMemoryStack(cfg *config.Config, logger logrus.FieldLogger) (*stack, error) {
	tenants := tenancy.NewMemoryStore()
	authStore := auth.NewMemoryStore()
	perms := permissions.NewMemoryStore()
	perms.Known = func(tenantID, staffID uuid.UUID) bool {
		_, err := authStore.GetStaffByID(context.Background(), tenantID, staffID)
		return err == nil
	}
	subscriptions := billing.NewMemoryStore().WithTenants(tenants)

	if cfg.Storage.SeedFile != "" {
		seed, err := loadSeed(cfg.Storage.SeedFile)
		if err != nil {
			return nil, err
		}
		hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
		if err := seed.apply(tenants, authStore, perms, subscriptions, hasher); err != nil {
			return nil, fmt.Errorf("failed to apply seed file: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"file":    cfg.Storage.SeedFile,
			"tenants": len(seed.Tenants),
			"staff":   len(seed.Staff),
		}).Info("Memory stores seeded")
	}

	logger.Warn("Running with in-memory storage: data is lost on restart")
	return &stack{
		tenants:     tenants,
		auth:        authStore,
		permissions: perms,
		billing:     subscriptions,
		audit:       audit.NewLogSink(logger),
		limiter:     middleware.NewRateLimiter(middleware.CredentialRateLimitConfig()),
	}, nil
}

func buildPostgresStack(ctx context.Context, cfg *config.Config, migrate bool, logger logrus.FieldLogger) (*stack, error) {
	db, err := storage.Open(ctx, cfg.Storage.Postgres())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &stack{db: db}

	if migrate {
		applied, err := storage.Migrate(ctx, db)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.WithField("applied", applied).Info("Migrations complete")
	}

	tenants := tenancy.NewCachedStore(tenancy.NewPostgresStore(db), cfg.Tenancy.CacheSize, cfg.Tenancy.CacheTTL)
	s.tenants = tenants
	s.tenantChanges = tenancy.NewChangeListener(cfg.Storage.PostgresURL, tenants, logger)
	s.auth = auth.NewPostgresStore(db)
	s.billing = billing.NewPostgresStore(db)
	s.audit = audit.NewPostgresSink(db)

	var perms permissions.Store = permissions.NewPostgresStore(db)
	if cfg.Storage.RedisURL != "" {
		client, err := storage.NewRedisClient(ctx, cfg.Storage.Redis())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		perms = permissions.NewRedisCache(perms, client, cfg.Permissions.CacheTTL, logger)
		s.limiter = middleware.NewDistributedRateLimiter(client, middleware.CredentialRateLimitConfig(), "")
		logger.Info("Redis permission cache and distributed rate limiter enabled")
	} else {
		s.limiter = middleware.NewRateLimiter(middleware.CredentialRateLimitConfig())
	}
	s.permissions = perms

	return s, nil
}
