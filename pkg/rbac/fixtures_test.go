package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tourdesk/pkg/audit"
)

const testAdmin = "admin-1"

// recordingAuditLogger keeps every event in memory
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (l *recordingAuditLogger) Log(_ context.Context, e *audit.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *recordingAuditLogger) Close() error { return nil }

func (l *recordingAuditLogger) types() []audit.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	store    *Store
	catalog  *CatalogCache
	engine   *Engine
	roles    *RoleManager
	guard    *AssignmentGuard
	service  *Service
	metrics  *Metrics
	registry *prometheus.Registry
	audit    *recordingAuditLogger
}

// newFixture wires every component over a seeded in-memory database.
// The engine uses an LRU cache so invalidation paths are exercised.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := OpenTestDB(t, true)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	recorder := &recordingAuditLogger{}

	store := NewStore(db, DialectSQLite)
	catalog := NewCatalogCache(store)
	engine := NewEngine(store,
		WithCache(NewLRUPermissionCache(100, time.Minute)),
		WithMetrics(metrics),
	)
	roles := NewRoleManager(store, catalog, engine, recorder, metrics, nil)
	guard := NewAssignmentGuard(engine, nil)

	f := &fixture{
		store:    store,
		catalog:  catalog,
		engine:   engine,
		roles:    roles,
		guard:    guard,
		service:  NewService(roles, engine, guard, nil),
		metrics:  metrics,
		registry: registry,
		audit:    recorder,
	}
	f.assign(t, testAdmin, RoleSuperAdmin, nil)
	return f
}

// assign grants role to principal through the unguarded manager
func (f *fixture) assign(t *testing.T, principal, role string, scope *string) *RoleAssignment {
	t.Helper()
	a, _, err := f.roles.AssignRole(context.Background(), "test", AssignmentRequest{
		PrincipalID: principal,
		Role:        role,
		ScopeTourID: scope,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) createRole(t *testing.T, name string, perms ...string) *Role {
	t.Helper()
	role, err := f.roles.CreateRole(context.Background(), testAdmin, CreateRoleRequest{
		Name:        name,
		DisplayName: name,
		Permissions: perms,
	})
	require.NoError(t, err)
	return role
}

func (f *fixture) allowed(t *testing.T, principal, key string, scope *string) bool {
	t.Helper()
	ok, err := f.engine.IsAllowed(context.Background(), principal, key, scope)
	require.NoError(t, err)
	return ok
}

func strPtr(s string) *string { return &s }
