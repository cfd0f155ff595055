// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("login succeeded")
//
// RequestMiddleware stores a request-scoped logger carrying the request id;
// handlers retrieve it with FromContext.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogin("success")
//
// The Record* helpers are no-ops on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("store", store, true)
//	checker.AddCheck("cache", cache, false)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
//	ctx, span := observability.StartSpan(ctx, "auth.login")
//	defer observability.EndSpan(span, err)
package observability
