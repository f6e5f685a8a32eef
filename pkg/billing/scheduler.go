package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PurgeFunc deletes expired refresh tokens and returns how many were removed
type PurgeFunc func(ctx context.Context) (int64, error)

// SchedulerConfig configures the background jobs
type SchedulerConfig struct {
	// SweepSchedule is a standard five field cron expression, 02:00 daily by default
	SweepSchedule string
	// PurgeSchedule is the refresh token purge schedule, hourly by default
	PurgeSchedule string
	Location      *time.Location
	JobTimeout    time.Duration
}

// DefaultSchedulerConfig returns the production schedule
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SweepSchedule: "0 2 * * *",
		PurgeSchedule: "@hourly",
		Location:      time.UTC,
		JobTimeout:    10 * time.Minute,
	}
}

// Scheduler runs the subscription sweep and the token purge on cron schedules
type Scheduler struct {
	cron         *cron.Cron
	transitioner *Transitioner
	purge        PurgeFunc
	config       SchedulerConfig
	logger       logrus.FieldLogger
	now          func() time.Time
}

// NewScheduler registers the jobs. purge may be nil to skip token purging.
func NewScheduler(transitioner *Transitioner, purge PurgeFunc, config SchedulerConfig, logger logrus.FieldLogger) (*Scheduler, error) {
	defaults := DefaultSchedulerConfig()
	if config.SweepSchedule == "" {
		config.SweepSchedule = defaults.SweepSchedule
	}
	if config.PurgeSchedule == "" {
		config.PurgeSchedule = defaults.PurgeSchedule
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cl := cronLogger{logger: logger.WithField("component", "scheduler")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		transitioner: transitioner,
		purge:        purge,
		config:       config,
		logger:       cl.logger,
		now:          time.Now,
	}

	if _, err := s.cron.AddFunc(config.SweepSchedule, s.runSweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.SweepSchedule, err)
	}
	if purge != nil {
		if _, err := s.cron.AddFunc(config.PurgeSchedule, s.runPurge); err != nil {
			return nil, fmt.Errorf("invalid purge schedule %q: %w", config.PurgeSchedule, err)
		}
	}

	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"sweep_schedule": s.config.SweepSchedule,
		"purge_schedule": s.config.PurgeSchedule,
		"location":       s.config.Location.String(),
	}).Info("scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Run starts the scheduler and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// RunOnce runs the sweep for now followed by the purge, without scheduling
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (*SweepReport, error) {
	report, err := s.transitioner.Sweep(ctx, now)
	if s.purge != nil {
		if _, perr := s.purge(ctx); perr != nil {
			s.logger.WithError(perr).Warn("refresh token purge failed")
		}
	}
	return report, err
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runSweep() {
	defer observability.RecoverPanic(s.logger, "subscription sweep")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	if _, err := s.transitioner.Sweep(ctx, s.now()); err != nil {
		s.logger.WithError(err).Error("scheduled subscription sweep failed")
	}
}

func (s *Scheduler) runPurge() {
	defer observability.RecoverPanic(s.logger, "refresh token purge")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	n, err := s.purge(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("scheduled refresh token purge failed")
		return
	}
	s.logger.WithField("deleted", n).Debug("scheduled refresh token purge finished")
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
