package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/tourdesk/pkg/audit"
	"github.com/platinummonkey/tourdesk/pkg/observability"
	storage "github.com/platinummonkey/tourdesk/pkg/storage/postgres"
)

// SystemActor attributes changes made by the service itself, such as the startup seed
const SystemActor = "system:tourdesk"

// Config holds RBAC configuration
type Config struct {
	Dialect Dialect

	// CacheTTL bounds how long a peer instance may serve a stale permission set; 0 disables caching
	CacheTTL  time.Duration
	CacheSize int

	// Redis, when set, replaces the in-process cache with a shared one
	Redis *storage.RedisClient

	// Reader, when set, serves listings, statistics, the audit trail and the
	// catalog load, typically from a read replica
	Reader func() *sql.DB

	// RefreshSchedule is the cron schedule of the catalog refresher; empty disables it
	RefreshSchedule string

	Registry    *prometheus.Registry
	AuditLogger audit.Logger
	Logger      *observability.Logger
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		Dialect:         DialectPostgres,
		CacheTTL:        30 * time.Second,
		CacheSize:       10000,
		RefreshSchedule: "@every 1m",
	}
}

// Manager wires every RBAC component over one database
type Manager struct {
	store      *Store
	catalog    *CatalogCache
	engine     *Engine
	roles      *RoleManager
	guard      *AssignmentGuard
	service    *Service
	handlers   *Handlers
	middleware *PermissionMiddleware
	refresher  *CatalogRefresher
	metrics    *Metrics
	config     Config
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config) (*Manager, error) {
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("component", "rbac")

	var metrics *Metrics
	if config.Registry != nil {
		metrics = NewMetrics(config.Registry)
	}

	var storeOpts []StoreOption
	if config.Reader != nil {
		storeOpts = append(storeOpts, WithReader(config.Reader))
	}
	store := NewStore(db, config.Dialect, storeOpts...)
	catalog := NewCatalogCache(store)
	engine := NewEngine(store,
		WithCache(newPermissionCache(config)),
		WithMetrics(metrics),
		WithLogger(logger),
	)
	roles := NewRoleManager(store, catalog, engine, config.AuditLogger, metrics, logger)
	guard := NewAssignmentGuard(engine, logger)
	service := NewService(roles, engine, guard, logger)

	m := &Manager{
		store:      store,
		catalog:    catalog,
		engine:     engine,
		roles:      roles,
		guard:      guard,
		service:    service,
		handlers:   NewHandlers(service, logger),
		middleware: NewPermissionMiddleware(engine, logger),
		metrics:    metrics,
		config:     config,
	}

	if config.RefreshSchedule != "" {
		refresher, err := NewCatalogRefresher(catalog, config.RefreshSchedule, logger)
		if err != nil {
			return nil, err
		}
		m.refresher = refresher
	}

	return m, nil
}

func newPermissionCache(config Config) PermissionCache {
	switch {
	case config.Redis != nil:
		return NewRedisPermissionCache(config.Redis, config.CacheTTL)
	case config.CacheTTL > 0:
		return NewLRUPermissionCache(config.CacheSize, config.CacheTTL)
	default:
		return NoopPermissionCache{}
	}
}

// Initialize runs migrations and, when def is non-nil, seeds the catalog from it
func (m *Manager) Initialize(ctx context.Context, def *CatalogDefinition) error {
	if err := RunMigrations(ctx, m.store.DB(), m.config.Dialect, m.config.Logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if def == nil {
		return nil
	}

	if _, err := m.roles.SeedCatalog(ctx, SystemActor, def); err != nil {
		return err
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// StartRefresher starts the catalog refresher if one is configured
func (m *Manager) StartRefresher() {
	if m.refresher != nil {
		m.refresher.Start()
	}
}

// Stop stops background work
func (m *Manager) Stop(ctx context.Context) error {
	if m.refresher == nil {
		return nil
	}
	return m.refresher.Stop(ctx)
}

// GetStore returns the RBAC store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetEngine returns the authorization engine
func (m *Manager) GetEngine() *Engine {
	return m.engine
}

// GetRoleManager returns the unguarded role manager
func (m *Manager) GetRoleManager() *RoleManager {
	return m.roles
}

// GetService returns the guarded service
func (m *Manager) GetService() *Service {
	return m.service
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// GetCatalog returns the permission catalog cache
func (m *Manager) GetCatalog() *CatalogCache {
	return m.catalog
}
