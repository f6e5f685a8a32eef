// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing.
//
// # Logging
//
// All components log through logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	observability.LoggerFromContext(ctx, logger).WithField("staff_id", id).Info("login succeeded")
//
// # Metrics
//
// Metrics are registered on an explicit registry. A nil *Metrics records nothing,
// so components can be constructed without one in tests:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAuthOperation("login", "success")
//	router.Handle("/metrics", metrics.Handler())
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version, logger)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//	ctx, span := observability.Tracer().Start(ctx, "auth.Login")
package observability
