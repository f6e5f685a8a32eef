// Package audit records durable, security and billing relevant events.
//
// Components depend on the Sink interface only. Production wiring fans out to
// Postgres and the structured log:
//
//	sink := audit.NewMultiSink(audit.NewPostgresSink(db), audit.NewLogSink(logger))
//	err := sink.Record(ctx, audit.NewEvent(ctx, audit.EventBillingPlanChange, audit.StatusSuccess))
//
// NopSink is used when auditing is disabled and in tests.
package audit
