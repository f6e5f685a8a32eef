// Package billing applies scheduled subscription transitions.
//
// # Overview
//
// Clinics change plans and cancel through the billing endpoints, which only
// record the intent: a pending plan tier with an effective time, or a
// cancellation effective time. The Transitioner applies those intents once
// they come due.
//
// # Sweeps
//
// A run consists of two independent sweeps against the same "now":
//
//   - Plan changes: every subscription whose pending plan is due gets the
//     pending tier as its plan tier, and both pending fields are cleared.
//   - Cancellations: every subscription whose cancellation is due and that is
//     not already cancelled becomes CANCELLED, and its tenant's billing
//     status becomes CANCELED in the same transaction.
//
// Candidates are applied one by one. A failing or panicking candidate is
// logged and counted and the sweep moves on. Every store update is guarded
// by the due condition, so running a sweep twice is harmless.
//
// # Scheduling
//
// Scheduler runs the sweep daily at 02:00 UTC and purges expired refresh
// tokens hourly using robfig/cron:
//
//	scheduler, err := billing.NewScheduler(transitioner, authenticator.PurgeExpired, billing.DefaultSchedulerConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	return scheduler.Run(ctx)
//
// The clinicore-sweeper binary calls RunOnce for one-off runs.
package billing
