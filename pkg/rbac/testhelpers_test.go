package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDatabaseAvailable(t *testing.T) {
	t.Run("returns true when env var is set", func(t *testing.T) {
		t.Setenv(TestPostgresEnv, "postgres://test")
		assert.True(t, IsDatabaseAvailable())
	})

	t.Run("returns false when env var is empty", func(t *testing.T) {
		t.Setenv(TestPostgresEnv, "")
		assert.False(t, IsDatabaseAvailable())
	})
}

func TestSkipIfNoDatabase_ReturnsDSN(t *testing.T) {
	t.Setenv(TestPostgresEnv, "postgres://fake")
	assert.Equal(t, "postgres://fake", SkipIfNoDatabase(t))
}

func TestOpenTestDB(t *testing.T) {
	ctx := context.Background()

	t.Run("migrated only", func(t *testing.T) {
		db := OpenTestDB(t, false)
		version, err := CurrentVersion(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, len(GetMigrations()), version)

		perms, err := NewStore(db, DialectSQLite).ListPermissions(ctx)
		require.NoError(t, err)
		assert.Empty(t, perms)
	})

	t.Run("seeded", func(t *testing.T) {
		db := OpenTestDB(t, true)
		perms, err := NewStore(db, DialectSQLite).ListPermissions(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, perms)
	})

	t.Run("databases are isolated", func(t *testing.T) {
		a := OpenTestDB(t, true)
		b := OpenTestDB(t, false)

		_, err := a.Exec(`DELETE FROM rbac_audit_log`)
		require.NoError(t, err)

		var n int
		require.NoError(t, b.QueryRow(`SELECT COUNT(*) FROM permissions`).Scan(&n))
		assert.Zero(t, n)
	})
}
