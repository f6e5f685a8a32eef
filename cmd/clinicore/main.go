package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/medora-health/clinicore/pkg/api"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/billing"
	"github.com/medora-health/clinicore/pkg/config"
	"github.com/medora-health/clinicore/pkg/middleware"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/medora-health/clinicore/pkg/permissions"
	"github.com/medora-health/clinicore/pkg/tenancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "YAML configuration file (overrides "+config.ConfigFileEnv+")")
	migrate := flag.Bool("migrate", false, "Apply database migrations before serving")
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.ConfigFileEnv, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, *migrate, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, migrate bool, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelCfg := cfg.Observability.OTel()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := observability.ShutdownOTel(shutdownCtx, providers, logger); err != nil {
			logger.WithError(err).Warn("OpenTelemetry shutdown failed")
		}
	}()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		metrics.RegisterGaugeFunc("clinicore_tenant_scopes_active", "Tenant scopes currently entered", func() float64 {
			return float64(tenancy.ActiveScopes())
		})
	}

	stores, err := buildStack(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	authenticator := auth.NewAuthenticator(stores.auth, issuer, auth.NewBcryptHasher(cfg.Auth.BcryptCost), auth.NewTOTPVerifier(cfg.Auth.TOTPSkew), auth.Options{
		RefreshTTL:    cfg.Auth.RefreshTTL,
		InvitationTTL: cfg.Auth.InvitationTTL,
		PurgeOnAuth:   cfg.Auth.PurgeOnAuth,
		Audit:         stores.audit,
		Metrics:       metrics,
		Logger:        logger,
	})

	transitioner := billing.NewTransitioner(stores.billing, stores.audit, metrics, logger)
	scheduler, err := billing.NewScheduler(transitioner, authenticator.PurgeExpired, cfg.Billing.Scheduler(), logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	proxies, err := cfg.Server.Proxies()
	if err != nil {
		return err
	}
	server := api.NewServer(api.Dependencies{
		Tenants:        tenancy.NewResolver(stores.tenants, cfg.Tenancy.Resolver(), logger),
		Authenticator:  authenticator,
		Issuer:         issuer,
		Permissions:    permissions.NewResolver(stores.permissions, stores.audit, metrics, logger),
		RateLimiter:    stores.limiter,
		TrustedProxies: proxies,
		Metrics:        metrics,
		Logger:         logger,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.HealthAddr(),
		Handler: api.NewHealthRouter(observability.NewHealthChecker(stores.db, stores.redis, version, logger), metrics),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, "API", logger) })
	g.Go(func() error { return serve(healthServer, "health", logger) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if stores.tenantChanges != nil {
		g.Go(func() error { return stores.tenantChanges.Run(gctx) })
	}
	if limiter, ok := stores.limiter.(*middleware.RateLimiter); ok {
		limiter.StartCleanup(gctx)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})

	logger.WithFields(logrus.Fields{
		"addr":        apiServer.Addr,
		"health_addr": healthServer.Addr,
		"storage":     cfg.Storage.Type,
		"version":     version,
	}).Info("Starting clinicore API server")

	return g.Wait()
}

func serve(server *http.Server, name string, logger logrus.FieldLogger) error {
	logger.WithField("addr", server.Addr).Infof("%s server listening", name)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
