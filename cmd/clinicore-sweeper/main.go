package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medora-health/clinicore/pkg/audit"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/billing"
	"github.com/medora-health/clinicore/pkg/config"
	"github.com/medora-health/clinicore/pkg/observability"
	storage "github.com/medora-health/clinicore/pkg/storage/postgres"
	"github.com/sirupsen/logrus"
)

var (
	configFile = flag.String("config", "", "YAML configuration file (overrides "+config.ConfigFileEnv+")")
	runOnce    = flag.Bool("run-once", false, "Run the sweep and token purge once and exit")
	sweepTime  = flag.String("now", "", "Instant to sweep as of (RFC3339). Defaults to the current time. Only used with --run-once")
)

func main() {
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.ConfigFileEnv, *configFile)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("component", "sweeper")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Sweeper failed")
	}
}

func run(cfg *config.Config, logger *logrus.Entry) error {
	if cfg.Storage.Type != config.StoragePostgres {
		return fmt.Errorf("the sweeper requires postgres storage, got %q", cfg.Storage.Type)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Storage.Postgres())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	sink := audit.NewPostgresSink(db)
	transitioner := billing.NewTransitioner(billing.NewPostgresStore(db), sink, nil, logger)

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(auth.NewPostgresStore(db), issuer, auth.NewBcryptHasher(cfg.Auth.BcryptCost), auth.NewTOTPVerifier(cfg.Auth.TOTPSkew), auth.Options{
		RefreshTTL: cfg.Auth.RefreshTTL,
		Audit:      sink,
		Logger:     logger,
	})

	scheduler, err := billing.NewScheduler(transitioner, authenticator.PurgeExpired, cfg.Billing.Scheduler(), logger)
	if err != nil {
		return err
	}

	if *runOnce {
		now := time.Now().UTC()
		if *sweepTime != "" {
			now, err = time.Parse(time.RFC3339, *sweepTime)
			if err != nil {
				return fmt.Errorf("invalid --now: %w", err)
			}
		}

		logger.WithField("now", now).Info("Running sweep once")
		report, err := scheduler.RunOnce(ctx, now)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"plan_changes_applied":  report.PlanChanges.Applied,
			"cancellations_applied": report.Cancellations.Applied,
			"failed":                report.Failed(),
		}).Info("Sweep completed")
		if report.Failed() > 0 {
			return fmt.Errorf("%d subscription transitions failed", report.Failed())
		}
		return nil
	}

	logger.WithFields(logrus.Fields{
		"sweep_schedule": cfg.Billing.SweepSchedule,
		"purge_schedule": cfg.Billing.PurgeSchedule,
		"timezone":       cfg.Billing.Timezone,
	}).Info("Clinicore sweeper started")

	return scheduler.Run(ctx)
}
