package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tourdesk/pkg/audit"
	"github.com/platinummonkey/tourdesk/pkg/config"
	"github.com/platinummonkey/tourdesk/pkg/httputil"
	"github.com/platinummonkey/tourdesk/pkg/middleware"
	"github.com/platinummonkey/tourdesk/pkg/observability"
	"github.com/platinummonkey/tourdesk/pkg/rbac"
	storage "github.com/platinummonkey/tourdesk/pkg/storage/postgres"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "tourdesk: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, logOutput := newLogger(cfg.Observability)
	if logOutput != nil {
		defer logOutput.Close()
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Database
	dialect, err := rbac.DialectFor(cfg.Database.Driver)
	if err != nil {
		return err
	}
	cm, err := storage.NewConnectionManager(storage.ConnectionConfig{
		Driver:      cfg.Database.Driver,
		PrimaryURL:  cfg.Database.DSN,
		ReplicaURLs: cfg.Database.ReplicaDSNs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Redis is optional; without it each instance caches permission sets in process
	var redisClient *storage.RedisClient
	if cfg.Redis.Enabled() {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			cm.Close()
			return err
		}
		logger.Info("Using Redis permission cache")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := observability.NewMetrics(registry)

	rbacConfig := rbac.DefaultConfig()
	rbacConfig.Dialect = dialect
	rbacConfig.CacheTTL = cfg.RBAC.CacheTTL
	rbacConfig.CacheSize = cfg.RBAC.CacheSize
	rbacConfig.Redis = redisClient
	rbacConfig.Reader = cm.Replica
	rbacConfig.RefreshSchedule = cfg.RBAC.RefreshSchedule
	rbacConfig.Registry = registry
	auditSink := newAuditSink(logger)
	rbacConfig.AuditLogger = auditSink
	rbacConfig.Logger = logger

	manager, err := rbac.NewManager(cm.Primary(), rbacConfig)
	if err != nil {
		cm.Close()
		return err
	}

	var def *rbac.CatalogDefinition
	if cfg.RBAC.SeedOnStart {
		if def, err = rbac.LoadCatalogDefinition(cfg.RBAC.CatalogFile); err != nil {
			cm.Close()
			return err
		}
	}
	if err := manager.Initialize(ctx, def); err != nil {
		cm.Close()
		return err
	}

	// Servers
	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newAPIHandler(manager, cfg.RBAC.PrincipalHeader, logger, httpMetrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var redisConn *redis.Client
	if redisClient != nil {
		redisConn = redisClient.GetClient()
	}
	health := observability.NewHealthChecker(cm.Primary(), redisConn).WithVersion(version)
	health.AddCheck("permission_catalog", func(ctx context.Context) error {
		_, err := manager.GetCatalog().Get(ctx)
		return err
	})
	if len(cfg.Database.ReplicaDSNs) > 0 {
		health.AddCheck("database_replicas", cm.HealthCheck)
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Background work
	bgCtx, cancelBackground := context.WithCancel(ctx)
	manager.StartRefresher()
	cm.StartHealthCheckRoutine(bgCtx, 30*time.Second)
	go recordDBStats(bgCtx, cm, httpMetrics, logger)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelBackground()
		return manager.Stop(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		errs := []error{auditSink.Close()}
		errs = append(errs, auditSink.Errors()...)
		if redisClient != nil {
			errs = append(errs, redisClient.Close())
		}
		errs = append(errs, cm.Close())
		return errors.Join(errs...)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	failed := make(chan error, 1)
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			failed <- err
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	logger.WithField("version", version).Info("tourdesk started")
	err = shutdown.WaitForShutdown(waitCtx)
	select {
	case ferr := <-failed:
		return ferr
	default:
		return err
	}
}

// newAPIHandler builds the API router and its middleware chain, outermost first:
// tracing, request id, recovery, logging, principal resolution
func newAPIHandler(manager *rbac.Manager, principalHeader string, logger *observability.Logger, metrics *observability.Metrics) http.Handler {
	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	manager.RegisterRoutes(router)

	principals := middleware.NewPrincipalMiddleware(middleware.PrincipalConfig{Header: principalHeader})

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		principals.Handler,
	)
	return otelhttp.NewHandler(chain(router), "tourdesk-api")
}

// newAuditSink delivers audit events off the request path; Close waits for pending ones
func newAuditSink(logger *observability.Logger) *audit.MultiLogger {
	sink := audit.NewMultiLogger(audit.NewStructuredLogger(logger.WithField("stream", "audit")))
	sink.SetAsync(true)
	return sink
}

func newLogger(cfg config.ObservabilityConfig) (*observability.Logger, io.Closer) {
	if cfg.LogFile == "" {
		return observability.NewLogger(cfg.LogLevel, os.Stdout), nil
	}
	out := observability.NewRotatingWriter(observability.FileOutput{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	return observability.NewLogger(cfg.LogLevel, out), out
}

func recordDBStats(ctx context.Context, cm *storage.ConnectionManager, metrics *observability.Metrics, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "db stats recorder")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.RecordDBStats(cm.Primary().Stats())
		case <-ctx.Done():
			return
		}
	}
}
