// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry setup and graceful shutdown for tourdesk.
//
// Logging is JSON via logrus:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal_id", id).Info("role assigned")
//
// Request handlers should use FromContext so request and principal ids are attached:
//
//	observability.FromContext(r.Context()).WithError(err).Error("assignment failed")
//
// Health endpoints live on a separate port from the API:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(healthMux, checker)
//	observability.RegisterMetricsEndpoint(healthMux, registry)
package observability
