// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	TOURDESK_HOST="0.0.0.0"
//	TOURDESK_PORT="8080"
//	TOURDESK_HEALTH_PORT="9090"
//	TOURDESK_READ_TIMEOUT="15s"
//
// Database settings:
//
//	TOURDESK_DB_DRIVER="postgres"  # postgres, sqlite3
//	TOURDESK_DB_DSN="postgres://localhost/tourdesk?sslmode=disable"
//	TOURDESK_DB_REPLICA_DSNS="postgres://replica1/tourdesk,postgres://replica2/tourdesk"
//	TOURDESK_DB_MAX_CONNS="20"
//
// Redis settings (optional, enables the shared permission cache):
//
//	TOURDESK_REDIS_URL="redis://localhost:6379"
//	TOURDESK_REDIS_DB="0"
//
// RBAC settings:
//
//	TOURDESK_RBAC_CACHE_TTL="30s"
//	TOURDESK_RBAC_CACHE_SIZE="10000"
//	TOURDESK_CATALOG_FILE="/etc/tourdesk/catalog.yaml"
//	TOURDESK_CATALOG_REFRESH="@every 1m"
//	TOURDESK_PRINCIPAL_HEADER="X-Principal-ID"
//
// Observability settings:
//
//	TOURDESK_LOG_LEVEL="info"  # debug, info, warn, error
//	TOURDESK_LOG_FILE="/var/log/tourdesk/tourdesk.log"
//	TOURDESK_METRICS_ENABLED="true"
//	TOURDESK_OTEL_ENABLED="true"
//	TOURDESK_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
