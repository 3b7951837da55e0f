// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("method", "INTERNAL").Info("user created")
//
// Loggers travel in the request context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("token expired")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginAttemptsTotal.WithLabelValues("INTERNAL", "success").Inc()
//	http.Handle("/metrics", observability.MetricsHandler(registry))
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Health Checks
//
// /health/live always answers 200. /health/ready answers 503 when the
// database is unreachable and reports "degraded" when only Redis is down.
package observability
