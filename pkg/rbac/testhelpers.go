package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// TestPostgresEnv names the DSN of an optional PostgreSQL used by database tests
const TestPostgresEnv = "TOURDESK_TEST_POSTGRES_DSN"

// SkipIfNoDatabase skips the test if TOURDESK_TEST_POSTGRES_DSN is not set.
// This allows tests to run in CI where the database is available, but skip locally if not configured.
func SkipIfNoDatabase(t testing.TB) string {
	t.Helper()

	dsn := os.Getenv(TestPostgresEnv)
	if dsn == "" {
		t.Skipf("Skipping test: %s environment variable not set (database not available)", TestPostgresEnv)
	}
	return dsn
}

// RequireDatabase opens the configured PostgreSQL or skips the test
func RequireDatabase(t testing.TB) *sql.DB {
	t.Helper()

	dsn := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// IsDatabaseAvailable returns true if TOURDESK_TEST_POSTGRES_DSN is set (does not test connection)
func IsDatabaseAvailable() bool {
	return os.Getenv(TestPostgresEnv) != ""
}

// OpenTestDB returns a private in-memory SQLite database with the RBAC schema
// migrated and, when seed is true, the embedded catalog provisioned.
// The database is closed when the test ends.
func OpenTestDB(t testing.TB, seed bool) *sql.DB {
	t.Helper()

	name := "rbac_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// one connection keeps the in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := RunMigrations(ctx, db, DialectSQLite, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	if seed {
		def, err := DefaultCatalogDefinition()
		if err != nil {
			t.Fatalf("Failed to load catalog: %v", err)
		}
		if _, err := NewStore(db, DialectSQLite).SeedCatalog(ctx, def, SystemActor); err != nil {
			t.Fatalf("Failed to seed test database: %v", err)
		}
	}
	return db
}
