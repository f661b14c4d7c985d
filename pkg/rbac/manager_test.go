package rbac

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tourdesk/pkg/audit"
)

func TestRoleManager_CreateRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.roles.CreateRole(ctx, testAdmin, CreateRoleRequest{
		Name:        "merch_lead",
		DisplayName: "Merch Lead",
		Description: "Runs the merch stand",
		Permissions: []string{"logistics_management.view", "financial_management.view", "logistics_management.view"},
	})
	require.NoError(t, err)
	assert.NotZero(t, role.ID)
	assert.False(t, role.IsSystemRole)
	assert.Equal(t, testAdmin, role.CreatedBy)
	assert.Equal(t, []string{"financial_management.view", "logistics_management.view"}, role.Permissions)

	stored, err := f.store.GetRoleByName(ctx, "merch_lead")
	require.NoError(t, err)
	assert.Equal(t, role.Permissions, stored.Permissions)

	entries, err := f.store.ListAuditEntries(ctx, AuditFilter{Action: ActionRoleCreate})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testAdmin, entries[0].ActorID)
	assert.Equal(t, "merch_lead", entries[0].RoleName)

	assert.Contains(t, f.audit.types(), audit.EventTypeRoleCreate)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Mutations.WithLabelValues("create_role", "success")))
}

func TestRoleManager_CreateRole_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createRole(t, "merch_lead", "logistics_management.view")

	tests := []struct {
		name  string
		actor string
		req   CreateRoleRequest
		field string
	}{
		{
			name:  "unknown permission",
			actor: testAdmin,
			req:   CreateRoleRequest{Name: "roadie", DisplayName: "Roadie", Permissions: []string{"logistics_management.fly"}},
			field: "permissions",
		},
		{
			name:  "duplicate name",
			actor: testAdmin,
			req:   CreateRoleRequest{Name: "merch_lead", DisplayName: "Merch Lead"},
			field: "name",
		},
		{
			name:  "system role name",
			actor: testAdmin,
			req:   CreateRoleRequest{Name: "viewer", DisplayName: "Viewer"},
			field: "name",
		},
		{
			name:  "invalid name",
			actor: testAdmin,
			req:   CreateRoleRequest{Name: "Merch Lead", DisplayName: "Merch Lead"},
			field: "name",
		},
		{
			name:  "missing display name",
			actor: testAdmin,
			req:   CreateRoleRequest{Name: "roadie"},
			field: "display_name",
		},
		{
			name:  "missing actor",
			actor: "",
			req:   CreateRoleRequest{Name: "roadie", DisplayName: "Roadie"},
			field: "actor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.roles.CreateRole(ctx, tt.actor, tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// nothing was persisted by the rejected calls
	_, err := f.store.GetRoleByName(ctx, "roadie")
	assert.ErrorIs(t, err, ErrNotFound)

	roles, err := f.store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 7)
}

func TestRoleManager_CreateRole_DeprecatedPermission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.DB().Exec(`UPDATE permissions SET deprecated = $1 WHERE key = $2`, true, "analytics.export")
	require.NoError(t, err)

	_, err = f.roles.CreateRole(ctx, testAdmin, CreateRoleRequest{
		Name:        "reporter",
		DisplayName: "Reporter",
		Permissions: []string{"analytics.export"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deprecated")
}

func TestRoleManager_UpdateRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	role := f.createRole(t, "merch_lead", "logistics_management.view")
	f.assign(t, "u1", "merch_lead", strPtr("t1"))
	require.False(t, f.allowed(t, "u1", "financial_management.view", strPtr("t1")))

	perms := []string{"logistics_management.view", "financial_management.view"}
	updated, err := f.roles.UpdateRole(ctx, testAdmin, role.ID, RolePatch{
		DisplayName: strPtr("Merchandise Lead"),
		Permissions: &perms,
	})
	require.NoError(t, err)
	assert.Equal(t, "merch_lead", updated.Name)
	assert.Equal(t, "Merchandise Lead", updated.DisplayName)
	assert.Equal(t, []string{"financial_management.view", "logistics_management.view"}, updated.Permissions)

	// the holder's cached set is dropped
	assert.True(t, f.allowed(t, "u1", "financial_management.view", strPtr("t1")))

	entries, err := f.store.ListAuditEntries(ctx, AuditFilter{Action: ActionRoleUpdate})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Details, "before")
	assert.Contains(t, entries[0].Details, "after")
}

func TestRoleManager_UpdateRole_Rename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	role := f.createRole(t, "merch_lead", "logistics_management.view")
	f.createRole(t, "box_office", "financial_management.view")

	renamed, err := f.roles.UpdateRole(ctx, testAdmin, role.ID, RolePatch{Name: strPtr("merch_manager")})
	require.NoError(t, err)
	assert.Equal(t, "merch_manager", renamed.Name)

	_, err = f.roles.UpdateRole(ctx, testAdmin, role.ID, RolePatch{Name: strPtr("box_office")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoleManager_UpdateRole_KeepsDeprecatedGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	role := f.createRole(t, "reporter", "analytics.view", "analytics.export")
	_, err := f.store.DB().Exec(`UPDATE permissions SET deprecated = $1 WHERE key = $2`, true, "analytics.export")
	require.NoError(t, err)

	keep := []string{"analytics.export", "analytics.view", "tour_management.view"}
	updated, err := f.roles.UpdateRole(ctx, testAdmin, role.ID, RolePatch{Permissions: &keep})
	require.NoError(t, err)
	assert.Equal(t, keep, updated.Permissions)

	add := []string{"analytics.export"}
	other := f.createRole(t, "exporter", "analytics.view")
	_, err = f.roles.UpdateRole(ctx, testAdmin, other.ID, RolePatch{Permissions: &add})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoleManager_UpdateRole_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	custom := f.createRole(t, "merch_lead", "logistics_management.view")
	viewer, err := f.store.GetRoleByName(ctx, "viewer")
	require.NoError(t, err)

	_, err = f.roles.UpdateRole(ctx, testAdmin, viewer.ID, RolePatch{DisplayName: strPtr("Watcher")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.roles.UpdateRole(ctx, testAdmin, custom.ID, RolePatch{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "no fields to update")

	_, err = f.roles.UpdateRole(ctx, testAdmin, 9999, RolePatch{DisplayName: strPtr("Ghost")})
	assert.ErrorIs(t, err, ErrNotFound)

	unknown := []string{"logistics_management.fly"}
	_, err = f.roles.UpdateRole(ctx, testAdmin, custom.ID, RolePatch{
		DisplayName: strPtr("Renamed"),
		Permissions: &unknown,
	})
	assert.ErrorIs(t, err, ErrValidation)

	// the failed patch rolled back as a whole
	stored, err := f.store.GetRole(ctx, custom.ID)
	require.NoError(t, err)
	assert.Equal(t, "merch_lead", stored.DisplayName)

	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.Mutations.WithLabelValues("update_role", "error")))
}

func TestRoleManager_DeleteRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("unassigned", func(t *testing.T) {
		role := f.createRole(t, "temp_role", "tour_management.view")
		require.NoError(t, f.roles.DeleteRole(ctx, testAdmin, role.ID, false))

		_, err := f.store.GetRole(ctx, role.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("assigned without cascade", func(t *testing.T) {
		role := f.createRole(t, "merch_lead", "logistics_management.view")
		f.assign(t, "u1", "merch_lead", nil)

		err := f.roles.DeleteRole(ctx, testAdmin, role.ID, false)
		var cerr *ConflictError
		require.ErrorAs(t, err, &cerr)
		assert.Contains(t, cerr.Message, "1 active assignments")

		_, err = f.store.GetRole(ctx, role.ID)
		assert.NoError(t, err)
		assert.True(t, f.allowed(t, "u1", "logistics_management.view", nil))
	})

	t.Run("cascade", func(t *testing.T) {
		role := f.createRole(t, "stage_hand", "event_management.view")
		f.assign(t, "u2", "stage_hand", strPtr("t1"))
		f.assign(t, "u3", "stage_hand", nil)
		require.True(t, f.allowed(t, "u2", "event_management.view", strPtr("t1")))

		require.NoError(t, f.roles.DeleteRole(ctx, testAdmin, role.ID, true))

		assert.False(t, f.allowed(t, "u2", "event_management.view", strPtr("t1")))
		assert.False(t, f.allowed(t, "u3", "event_management.view", nil))

		assignments, err := f.store.ListAssignments(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, assignments)

		entries, err := f.store.ListAuditEntries(ctx, AuditFilter{Action: ActionRoleDelete, RoleID: &role.ID})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, float64(2), entries[0].Details["revoked_assignments"])
	})

	t.Run("system role", func(t *testing.T) {
		viewer, err := f.store.GetRoleByName(ctx, "viewer")
		require.NoError(t, err)
		assert.ErrorIs(t, f.roles.DeleteRole(ctx, testAdmin, viewer.ID, true), ErrForbidden)
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, f.roles.DeleteRole(ctx, testAdmin, 9999, false), ErrNotFound)
	})
}

func TestRoleManager_AssignRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := AssignmentRequest{PrincipalID: "u1", Role: "crew_member", ScopeTourID: strPtr("t1")}

	first, created, err := f.roles.AssignRole(ctx, testAdmin, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "crew_member", first.RoleName)
	assert.Equal(t, testAdmin, first.GrantedBy)

	again, created, err := f.roles.AssignRole(ctx, "someone-else", req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, testAdmin, again.GrantedBy)

	entries, err := f.store.ListAuditEntries(ctx, AuditFilter{Action: ActionRoleAssign, PrincipalID: "u1"})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a repeated assignment is not audited")

	_, _, err = f.roles.AssignRole(ctx, testAdmin, AssignmentRequest{PrincipalID: "u1", Role: "roadie"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.roles.AssignRole(ctx, testAdmin, AssignmentRequest{Role: "viewer"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoleManager_AssignRole_BlankScopeIsGlobal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, _, err := f.roles.AssignRole(ctx, testAdmin, AssignmentRequest{PrincipalID: "u1", Role: "viewer", ScopeTourID: strPtr("")})
	require.NoError(t, err)
	assert.True(t, a.IsGlobal())
	assert.True(t, f.allowed(t, "u1", "analytics.view", nil))
}

func TestRoleManager_RemoveRole_ScopeIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assign(t, "u1", "crew_member", strPtr("t1"))
	f.assign(t, "u1", "crew_member", strPtr("t2"))
	f.assign(t, "u1", "crew_member", nil)

	require.NoError(t, f.roles.RemoveRole(ctx, testAdmin, AssignmentRequest{
		PrincipalID: "u1",
		Role:        "crew_member",
		ScopeTourID: strPtr("t1"),
	}))

	assignments, err := f.store.ListAssignments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		if a.ScopeTourID != nil {
			assert.Equal(t, "t2", *a.ScopeTourID)
		}
	}

	err = f.roles.RemoveRole(ctx, testAdmin, AssignmentRequest{
		PrincipalID: "u1",
		Role:        "crew_member",
		ScopeTourID: strPtr("t1"),
	})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "assignment", nf.Kind)
	assert.Equal(t, "u1/crew_member/tour:t1", nf.Key)

	assert.Contains(t, f.audit.types(), audit.EventTypeRoleRevoke)
}

func TestRoleManager_SeedCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	before, err := f.roles.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, before, 22)

	def, err := DefaultCatalogDefinition()
	require.NoError(t, err)

	result, err := f.roles.SeedCatalog(ctx, SystemActor, def)
	require.NoError(t, err)
	assert.False(t, result.Changed())

	def.Permissions = append(def.Permissions, Permission{
		Key:         "communications.broadcast",
		Category:    CategoryCommunications,
		DisplayName: "Broadcast",
	})
	result, err = f.roles.SeedCatalog(ctx, SystemActor, def)
	require.NoError(t, err)
	assert.Equal(t, []string{"communications.broadcast"}, result.PermissionsAdded)

	// the catalog snapshot is refreshed
	exists, err := f.roles.PermissionExists(ctx, "communications.broadcast")
	require.NoError(t, err)
	assert.True(t, exists)

	// super_admin grants every key, so the admin's cached set must be dropped
	assert.True(t, f.allowed(t, testAdmin, "communications.broadcast", nil))
	assert.Contains(t, f.audit.types(), audit.EventTypeCatalogSeed)
}

func TestRoleManager_ReadViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	role := f.createRole(t, "merch_lead", "logistics_management.view", "financial_management.view")
	f.assign(t, "u1", "merch_lead", nil)
	f.assign(t, "u2", "merch_lead", strPtr("t1"))
	f.assign(t, "u3", "merch_lead", strPtr("t2"))

	stats, err := f.roles.RoleStats(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, &RoleStats{RoleID: role.ID, PermissionCount: 2, ActiveAssignmentCount: 3}, stats)

	n, err := f.roles.GetPermissionCount(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.roles.GetActiveAssignmentCount(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.roles.RoleStats(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	assignments, err := f.roles.ListRoleAssignments(ctx, role.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 3)

	both, err := f.roles.ListRolesAndPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, both.Roles, 7)
	assert.Len(t, both.Permissions, 22)

	admin, err := f.roles.ListPermissionsByCategory(ctx, CategoryAdministration)
	require.NoError(t, err)
	assert.Len(t, admin, 3)

	_, err = f.roles.ListPermissionsByCategory(ctx, "ticketing")
	assert.ErrorIs(t, err, ErrValidation)
}
