package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// Migration represents a database migration with one script per dialect
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

func (m Migration) script(d Dialect) string {
	if d == DialectSQLite {
		return m.SQLite
	}
	return m.Postgres
}

const categoryCheck = `CHECK (category IN ('tour_management', 'event_management', 'staff_management',
	'financial_management', 'logistics_management', 'communications', 'analytics', 'administration'))`

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS permissions (
					key VARCHAR(255) PRIMARY KEY,
					category VARCHAR(64) NOT NULL ` + categoryCheck + `,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					deprecated BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS permissions (
					key TEXT PRIMARY KEY,
					category TEXT NOT NULL ` + categoryCheck + `,
					display_name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					deprecated BOOLEAN NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and role_permissions tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(64) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					created_by VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_key VARCHAR(255) NOT NULL REFERENCES permissions(key),
					PRIMARY KEY (role_id, permission_key)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_key ON role_permissions(permission_key);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					display_name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_system_role BOOLEAN NOT NULL DEFAULT 0,
					created_by TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_key TEXT NOT NULL REFERENCES permissions(key),
					PRIMARY KEY (role_id, permission_key)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_key ON role_permissions(permission_key);
			`,
		},
		{
			Version:     3,
			Description: "Create role_assignments table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id VARCHAR(36) PRIMARY KEY,
					principal_id VARCHAR(255) NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					scope_tour_id VARCHAR(255),
					granted_by VARCHAR(255) NOT NULL,
					granted_at TIMESTAMP NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_triple
					ON role_assignments(principal_id, role_id, COALESCE(scope_tour_id, ''));
				CREATE INDEX IF NOT EXISTS idx_role_assignments_principal ON role_assignments(principal_id);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_role ON role_assignments(role_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id TEXT PRIMARY KEY,
					principal_id TEXT NOT NULL,
					role_id INTEGER NOT NULL REFERENCES roles(id),
					scope_tour_id TEXT,
					granted_by TEXT NOT NULL,
					granted_at TIMESTAMP NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_triple
					ON role_assignments(principal_id, role_id, COALESCE(scope_tour_id, ''));
				CREATE INDEX IF NOT EXISTS idx_role_assignments_principal ON role_assignments(principal_id);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_role ON role_assignments(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create rbac_audit_log table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS rbac_audit_log (
					id VARCHAR(36) PRIMARY KEY,
					occurred_at TIMESTAMP NOT NULL,
					actor_id VARCHAR(255) NOT NULL,
					action VARCHAR(64) NOT NULL,
					role_id BIGINT,
					role_name VARCHAR(64) NOT NULL DEFAULT '',
					principal_id VARCHAR(255) NOT NULL DEFAULT '',
					scope_tour_id VARCHAR(255),
					details JSONB NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_occurred_at ON rbac_audit_log(occurred_at);
				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_actor ON rbac_audit_log(actor_id);
				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_principal ON rbac_audit_log(principal_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS rbac_audit_log (
					id TEXT PRIMARY KEY,
					occurred_at TIMESTAMP NOT NULL,
					actor_id TEXT NOT NULL,
					action TEXT NOT NULL,
					role_id INTEGER,
					role_name TEXT NOT NULL DEFAULT '',
					principal_id TEXT NOT NULL DEFAULT '',
					scope_tour_id TEXT,
					details TEXT NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_occurred_at ON rbac_audit_log(occurred_at);
				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_actor ON rbac_audit_log(actor_id);
				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_principal ON rbac_audit_log(principal_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.script(dialect)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// CurrentVersion returns the highest applied migration version, 0 when none
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM rbac_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	return int(version.Int64), nil
}
