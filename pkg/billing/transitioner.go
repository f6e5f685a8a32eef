package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medora-health/clinicore/pkg/audit"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Transitioner applies due plan changes and cancellations
type Transitioner struct {
	store   Store
	audit   audit.Sink
	metrics *observability.Metrics
	logger  logrus.FieldLogger
	tracer  trace.Tracer
}

// NewTransitioner creates a transitioner. sink and metrics may be nil.
func NewTransitioner(store Store, sink audit.Sink, metrics *observability.Metrics, logger logrus.FieldLogger) *Transitioner {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transitioner{
		store:   store,
		audit:   sink,
		metrics: metrics,
		logger:  logger.WithField("component", "subscription_sweep"),
		tracer:  observability.Tracer(),
	}
}

// Sweep runs the plan change sweep and then the cancellation sweep against
// snapshots taken at now. A failing candidate never stops a sweep; only
// listing failures are returned.
func (t *Transitioner) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	ctx, span := t.tracer.Start(ctx, "billing.Sweep")
	defer span.End()

	report := &SweepReport{StartedAt: now}
	start := time.Now()

	planCounts, planErr := t.SweepPlanChanges(ctx, now)
	cancelCounts, cancelErr := t.SweepCancellations(ctx, now)
	report.PlanChanges = planCounts
	report.Cancellations = cancelCounts
	report.Duration = time.Since(start)

	err := errors.Join(planErr, cancelErr)
	status := "success"
	switch {
	case err != nil:
		status = "error"
		span.SetStatus(codes.Error, err.Error())
	case report.Failed() > 0:
		status = "partial"
	}
	t.metrics.RecordSweep(status, report.Duration)
	span.SetAttributes(
		attribute.Int("sweep.plan_changes.applied", planCounts.Applied),
		attribute.Int("sweep.cancellations.applied", cancelCounts.Applied),
		attribute.Int("sweep.failed", report.Failed()),
	)

	t.logger.WithFields(logrus.Fields{
		"status":               status,
		"plan_changes":         planCounts.Applied,
		"plan_changes_failed":  planCounts.Failed,
		"cancellations":        cancelCounts.Applied,
		"cancellations_failed": cancelCounts.Failed,
		"duration_ms":          report.Duration.Milliseconds(),
	}).Info("subscription sweep finished")

	return report, err
}

// SweepPlanChanges applies every pending plan change due at or before now
func (t *Transitioner) SweepPlanChanges(ctx context.Context, now time.Time) (SweepCounts, error) {
	candidates, err := t.store.ListDuePlanChanges(ctx, now)
	if err != nil {
		t.logger.WithError(err).Error("failed to list due plan changes")
		return SweepCounts{}, fmt.Errorf("list due plan changes: %w", err)
	}

	counts := t.run(ctx, SweepPlanChanges, candidates, func(ctx context.Context, sub *Subscription) error {
		from := sub.PlanTier
		to, err := t.store.ApplyPlanChange(ctx, sub.ID, now)
		if err != nil {
			return err
		}
		t.record(ctx, audit.NewEvent(ctx, audit.EventBillingPlanChange, audit.StatusSuccess).
			WithTenant(sub.TenantID).
			WithResource(audit.ResourceSubscription, sub.ID.String()).
			WithMessage(fmt.Sprintf("plan tier changed from %s to %s", from, to)).
			WithChanges(map[string]interface{}{"plan_tier": from}, map[string]interface{}{"plan_tier": to}))
		return nil
	})
	return counts, nil
}

// SweepCancellations cancels every subscription whose cancellation is due at or before now
func (t *Transitioner) SweepCancellations(ctx context.Context, now time.Time) (SweepCounts, error) {
	candidates, err := t.store.ListDueCancellations(ctx, now)
	if err != nil {
		t.logger.WithError(err).Error("failed to list due cancellations")
		return SweepCounts{}, fmt.Errorf("list due cancellations: %w", err)
	}

	counts := t.run(ctx, SweepCancellations, candidates, func(ctx context.Context, sub *Subscription) error {
		if err := t.store.ApplyCancellation(ctx, sub.ID, now); err != nil {
			return err
		}
		t.record(ctx, audit.NewEvent(ctx, audit.EventBillingCancellation, audit.StatusSuccess).
			WithTenant(sub.TenantID).
			WithResource(audit.ResourceSubscription, sub.ID.String()).
			WithMessage("subscription cancelled").
			WithChanges(
				map[string]interface{}{"status": sub.Status},
				map[string]interface{}{"status": SubscriptionCancelled, "tenant_billing_status": "CANCELED"},
			))
		return nil
	})
	return counts, nil
}

func (t *Transitioner) run(ctx context.Context, sweep string, candidates []*Subscription, apply func(context.Context, *Subscription) error) SweepCounts {
	counts := SweepCounts{Candidates: len(candidates)}

	for _, sub := range candidates {
		if ctx.Err() != nil {
			counts.Failed += counts.Candidates - counts.Applied - counts.Skipped - counts.Failed
			t.logger.WithError(ctx.Err()).WithField("sweep", sweep).Warn("sweep cancelled")
			break
		}

		logger := t.logger.WithFields(logrus.Fields{
			"sweep":           sweep,
			"tenant_id":       sub.TenantID,
			"subscription_id": sub.ID,
		})

		err := applyContained(ctx, sub, apply)
		switch {
		case err == nil:
			counts.Applied++
			logger.Info("subscription transition applied")
		case errors.Is(err, ErrNoLongerDue):
			counts.Skipped++
			logger.Debug("subscription transition no longer due")
		default:
			counts.Failed++
			logger.WithError(err).Error("subscription transition failed")
		}
	}

	t.metrics.RecordSweepCandidates(sweep, counts.Applied, counts.Failed)
	return counts
}

// applyContained runs apply and turns a panic into an error
func applyContained(ctx context.Context, sub *Subscription, apply func(context.Context, *Subscription) error) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return apply(ctx, sub)
}

func (t *Transitioner) record(ctx context.Context, event *audit.Event) {
	if err := t.audit.Record(ctx, event); err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"audit_type": event.Type,
			"resource":   event.ResourceID,
		}).Error("failed to record audit event")
	}
}
