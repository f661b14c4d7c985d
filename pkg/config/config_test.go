package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/tourdesk/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL_TRUE", "1")
	t.Setenv("TEST_BOOL_FALSE", "no")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_LIST", " a, ,b ,c")

	assert.Equal(t, "custom", getEnv("TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("TEST_STR_UNSET", "default"))
	assert.True(t, getEnvBool("TEST_BOOL_TRUE", false))
	assert.False(t, getEnvBool("TEST_BOOL_FALSE", true))
	assert.True(t, getEnvBool("TEST_BOOL_UNSET", true))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_INT_BAD", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("TEST_LIST_UNSET"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TOURDESK_DB_DSN", "postgres://localhost/tourdesk")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 30*time.Second, cfg.RBAC.CacheTTL)
	assert.Equal(t, 10000, cfg.RBAC.CacheSize)
	assert.Equal(t, "X-Principal-ID", cfg.RBAC.PrincipalHeader)
	assert.Equal(t, "@every 1m", cfg.RBAC.RefreshSchedule)
	assert.True(t, cfg.RBAC.SeedOnStart)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "tourdesk", cfg.Observability.OTelServiceName)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TOURDESK_DB_DRIVER", "SQLITE3")
	t.Setenv("TOURDESK_DB_DSN", "file:tourdesk.db")
	t.Setenv("TOURDESK_REDIS_URL", "redis://cache:6379")
	t.Setenv("TOURDESK_RBAC_CACHE_TTL", "5s")
	t.Setenv("TOURDESK_CATALOG_REFRESH", "*/5 * * * *")
	t.Setenv("TOURDESK_LOG_LEVEL", "debug")
	t.Setenv("TOURDESK_PRINCIPAL_HEADER", "X-Auth-User")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Second, cfg.RBAC.CacheTTL)
	assert.Equal(t, "*/5 * * * *", cfg.RBAC.RefreshSchedule)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "X-Auth-User", cfg.RBAC.PrincipalHeader)
}

func TestLoadConfig_MissingDSN(t *testing.T) {
	t.Setenv("TOURDESK_DB_DSN", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database DSN is required")
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
		Database: DatabaseConfig{Driver: DriverPostgres, DSN: "postgres://localhost/tourdesk"},
		RBAC: RBACConfig{
			CacheSize:       100,
			PrincipalHeader: "X-Principal-ID",
			RefreshSchedule: "@every 30s",
		},
		Observability: ObservabilityConfig{OTelServiceName: "tourdesk", OTelEndpoint: "localhost:4317", OTelSampleRatio: 1},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "missing health port", mutate: func(c *Config) { c.Server.HealthPort = "" }, wantErr: "health port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = "8080" }, wantErr: "must be different"},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "invalid database driver"},
		{name: "sqlite replicas", mutate: func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.ReplicaDSNs = []string{"file:replica.db"}
		}, wantErr: "only supported with postgres"},
		{name: "empty principal header", mutate: func(c *Config) { c.RBAC.PrincipalHeader = "" }, wantErr: "principal header is required"},
		{name: "zero cache size", mutate: func(c *Config) { c.RBAC.CacheSize = 0 }, wantErr: "cache size must be positive"},
		{name: "bad schedule", mutate: func(c *Config) { c.RBAC.RefreshSchedule = "every minute" }, wantErr: "invalid catalog refresh schedule"},
		{name: "refresh disabled", mutate: func(c *Config) { c.RBAC.RefreshSchedule = "" }},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: "endpoint is required"},
		{name: "otel bad ratio", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelSampleRatio = 2
		}, wantErr: "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSections(t *testing.T) {
	t.Setenv("TOURDESK_DB_DRIVER", "SQLite3")
	t.Setenv("TOURDESK_DB_DSN", "file:tourdesk.db")
	t.Setenv("TOURDESK_CATALOG_FILE", "/etc/tourdesk/catalog.yaml")

	// no validation: tools read sections without a full server config
	db := LoadDatabaseConfig()
	assert.Equal(t, DriverSQLite, db.Driver)
	assert.Equal(t, "file:tourdesk.db", db.DSN)

	assert.Equal(t, "/etc/tourdesk/catalog.yaml", LoadRBACConfig().CatalogFile)

	t.Setenv("TOURDESK_REDIS_URL", "")
	assert.False(t, LoadRedisConfig().Enabled())
	t.Setenv("TOURDESK_REDIS_URL", "redis://cache:6379/2")
	assert.Equal(t, "redis://cache:6379/2", LoadRedisConfig().URL)
}
