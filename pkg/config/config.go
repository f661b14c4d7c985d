package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tourdesk/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RBAC          RBACConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Driver      string
	DSN         string
	ReplicaDSNs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds the optional Redis connection used by the shared permission cache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Enabled reports whether a Redis URL was configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// RBACConfig holds authorization engine settings
type RBACConfig struct {
	CacheTTL        time.Duration
	CacheSize       int
	CatalogFile     string
	RefreshSchedule string
	PrincipalHeader string
	SeedOnStart     bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel      observability.LogLevel
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		RBAC:          loadRBACConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDatabaseConfig reads only the database section; operator tools use it without a full server config
func LoadDatabaseConfig() DatabaseConfig {
	return loadDatabaseConfig()
}

// LoadRBACConfig reads only the RBAC section
func LoadRBACConfig() RBACConfig {
	return loadRBACConfig()
}

// LoadRedisConfig reads only the Redis section
func LoadRedisConfig() RedisConfig {
	return loadRedisConfig()
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TOURDESK_HOST", "0.0.0.0"),
		Port:            getEnv("TOURDESK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TOURDESK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TOURDESK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TOURDESK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TOURDESK_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TOURDESK_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:      strings.ToLower(getEnv("TOURDESK_DB_DRIVER", DriverPostgres)),
		DSN:         getEnv("TOURDESK_DB_DSN", ""),
		ReplicaDSNs: getEnvList("TOURDESK_DB_REPLICA_DSNS"),
		MaxConns:    getEnvInt("TOURDESK_DB_MAX_CONNS", 20),
		MinConns:    getEnvInt("TOURDESK_DB_MIN_CONNS", 5),
		Timeout:     getEnvDuration("TOURDESK_DB_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("TOURDESK_DB_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("TOURDESK_DB_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("TOURDESK_REDIS_URL", ""),
		Password:   getEnv("TOURDESK_REDIS_PASSWORD", ""),
		DB:         getEnvInt("TOURDESK_REDIS_DB", 0),
		MaxRetries: getEnvInt("TOURDESK_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("TOURDESK_REDIS_POOL_SIZE", 10),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CacheTTL:        getEnvDuration("TOURDESK_RBAC_CACHE_TTL", 30*time.Second),
		CacheSize:       getEnvInt("TOURDESK_RBAC_CACHE_SIZE", 10000),
		CatalogFile:     getEnv("TOURDESK_CATALOG_FILE", ""),
		RefreshSchedule: getEnv("TOURDESK_CATALOG_REFRESH", "@every 1m"),
		PrincipalHeader: getEnv("TOURDESK_PRINCIPAL_HEADER", "X-Principal-ID"),
		SeedOnStart:     getEnvBool("TOURDESK_SEED_ON_START", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TOURDESK_LOG_LEVEL", "info")),
		LogFile:            getEnv("TOURDESK_LOG_FILE", ""),
		LogMaxSizeMB:       getEnvInt("TOURDESK_LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:      getEnvInt("TOURDESK_LOG_MAX_BACKUPS", 5),
		MetricsEnabled:     getEnvBool("TOURDESK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TOURDESK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TOURDESK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TOURDESK_OTEL_SERVICE_NAME", "tourdesk"),
		OTelServiceVersion: getEnv("TOURDESK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TOURDESK_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TOURDESK_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Database.Driver == DriverSQLite && len(c.Database.ReplicaDSNs) > 0 {
		return fmt.Errorf("read replicas are only supported with postgres")
	}

	if c.RBAC.PrincipalHeader == "" {
		return fmt.Errorf("principal header is required")
	}
	if c.RBAC.CacheSize <= 0 {
		return fmt.Errorf("rbac cache size must be positive")
	}
	if c.RBAC.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RBAC.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid catalog refresh schedule %q: %w", c.RBAC.RefreshSchedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
