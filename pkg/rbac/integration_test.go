package rbac

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/platinummonkey/tourdesk/pkg/storage/postgres"
)

func TestNewPermissionCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := storage.NewRedisClient(storage.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	assert.IsType(t, &RedisPermissionCache{}, newPermissionCache(Config{Redis: client, CacheTTL: time.Second}))
	assert.IsType(t, &LRUPermissionCache{}, newPermissionCache(Config{CacheTTL: time.Second, CacheSize: 10}))
	assert.IsType(t, NoopPermissionCache{}, newPermissionCache(Config{}))
}

func TestNewManager_Reader(t *testing.T) {
	replica := OpenTestDB(t, false)
	reads := 0

	config := DefaultConfig()
	config.Dialect = DialectSQLite
	config.RefreshSchedule = ""
	config.Reader = func() *sql.DB {
		reads++
		return replica
	}
	mgr, err := NewManager(OpenTestDB(t, true), config)
	require.NoError(t, err)

	roles, err := mgr.GetRoleManager().ListRoles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Equal(t, 1, reads)

	ok, err := mgr.GetRoleManager().PermissionExists(context.Background(), "tour_management.view")
	require.NoError(t, err)
	assert.False(t, ok, "catalog loaded from the replica")
}

func TestNewManager_InvalidSchedule(t *testing.T) {
	config := DefaultConfig()
	config.Dialect = DialectSQLite
	config.RefreshSchedule = "not a schedule"

	_, err := NewManager(OpenTestDB(t, false), config)
	assert.Error(t, err)
}

func TestManager_EndToEnd(t *testing.T) {
	ctx := context.Background()

	config := DefaultConfig()
	config.Dialect = DialectSQLite
	config.Registry = prometheus.NewRegistry()
	recorder := &recordingAuditLogger{}
	config.AuditLogger = recorder

	mgr, err := NewManager(OpenTestDB(t, false), config)
	require.NoError(t, err)

	def, err := DefaultCatalogDefinition()
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(ctx, def))
	// a second start is a no-op
	require.NoError(t, mgr.Initialize(ctx, def))

	_, _, err = mgr.GetRoleManager().AssignRole(ctx, SystemActor, AssignmentRequest{PrincipalID: "boss", Role: RoleSuperAdmin})
	require.NoError(t, err)
	_, _, err = mgr.GetService().AssignRole(ctx, "boss", AssignmentRequest{PrincipalID: "crew-1", Role: "crew_member", ScopeTourID: strPtr("t1")})
	require.NoError(t, err)

	router := mux.NewRouter()
	mgr.RegisterRoutes(router)
	protected := mgr.GetMiddleware().RequireTourPermission("communications.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	router.Handle("/tours/{tour_id}/messages", protected)
	h := withPrincipal(router)

	w := doRequest(t, h, "GET", "/tours/t1/messages", "crew-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, h, "GET", "/tours/t2/messages", "crew-1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(t, h, "GET", "/rbac/me/permissions?tour_id=t1", "crew-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.NotNil(t, mgr.GetStore())
	assert.NotNil(t, mgr.GetEngine())
	assert.NotNil(t, mgr.GetCatalog())

	mgr.StartRefresher()
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, mgr.Stop(stopCtx))

	families, err := config.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.NotEmpty(t, recorder.types())
}

func TestManager_InitializeWithoutSeed(t *testing.T) {
	config := DefaultConfig()
	config.Dialect = DialectSQLite
	config.RefreshSchedule = ""

	db := OpenTestDB(t, false)
	mgr, err := NewManager(db, config)
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(context.Background(), nil))
	assert.NoError(t, mgr.Stop(context.Background()))

	perms, err := mgr.GetStore().ListPermissions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, perms)

}
