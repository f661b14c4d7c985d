package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentGuard_AuthorizeAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assign(t, "coordinator", "tour_coordinator", strPtr("t1"))
	f.assign(t, "manager", "tour_manager", nil)
	f.assign(t, "crew", "crew_member", strPtr("t1"))
	auditor := f.createRole(t, "auditor", "administration.audit")
	runner := f.createRole(t, "runner", "logistics_management.view")

	role := func(name string) *Role {
		r, err := f.store.GetRoleByName(ctx, name)
		require.NoError(t, err)
		return r
	}

	tests := []struct {
		name    string
		actor   string
		role    *Role
		scope   *string
		allowed bool
		message string
	}{
		{"global admin assigns globally", testAdmin, role("tour_manager"), nil, true, ""},
		{"global admin assigns super_admin", testAdmin, role(RoleSuperAdmin), strPtr("t1"), true, ""},
		{"delegate assigns subset in own tour", "coordinator", role("crew_member"), strPtr("t1"), true, ""},
		{"delegate assigns custom subset role", "coordinator", runner, strPtr("t1"), true, ""},
		{"delegate outside own tour", "coordinator", role("crew_member"), strPtr("t2"), false, "within tour t2"},
		{"delegate assigns globally", "coordinator", role("crew_member"), nil, false, "global assignments require administration.roles"},
		{"delegate assigns role beyond own set", "coordinator", role("finance_officer"), strPtr("t1"), false, "does not hold in tour t1"},
		{"delegate assigns super_admin", "coordinator", role(RoleSuperAdmin), strPtr("t1"), false, "cannot be delegated"},
		{"delegate assigns administrative role", "coordinator", auditor, strPtr("t1"), false, "cannot be delegated"},
		{"global delegate acts in any tour", "manager", role("tour_coordinator"), strPtr("t7"), true, ""},
		{"global delegate still cannot assign globally", "manager", role("crew_member"), nil, false, "global assignments"},
		{"no delegation permission", "crew", role("crew_member"), strPtr("t1"), false, "requires administration.roles or staff_management.delegate"},
		{"anonymous", "", role("crew_member"), strPtr("t1"), false, "authentication required"},
		{"blank scope is global", "coordinator", role("crew_member"), strPtr(" "), false, "global assignments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.guard.AuthorizeAssignment(ctx, tt.actor, tt.role, tt.scope)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrForbidden)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestAssignmentGuard_CanManageAssignments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assign(t, "coordinator", "tour_coordinator", strPtr("t1"))

	assert.NoError(t, f.guard.CanManageAssignments(ctx, testAdmin, nil))
	assert.NoError(t, f.guard.CanManageAssignments(ctx, "coordinator", strPtr("t1")))
	assert.ErrorIs(t, f.guard.CanManageAssignments(ctx, "coordinator", strPtr("t2")), ErrForbidden)
	assert.ErrorIs(t, f.guard.CanManageAssignments(ctx, "coordinator", nil), ErrForbidden)
}

func TestAssignmentGuard_Require(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.assign(t, "u1", "viewer", nil)

	assert.NoError(t, f.guard.Require(ctx, "u1", "analytics.view", nil))

	err := f.guard.Require(ctx, "u1", PermissionAdminRoles, nil)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "missing permission administration.roles", err.Error())

	err = f.guard.Require(ctx, "", "analytics.view", nil)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "authentication required", err.Error())
}

func TestAssignmentGuard_EngineFailureDenies(t *testing.T) {
	engine := NewEngine(&stubSource{err: errors.New("db down")}, WithCache(NewLRUPermissionCache(10, time.Minute)))
	guard := NewAssignmentGuard(engine, nil)
	ctx := context.Background()

	err := guard.Require(ctx, "u1", "analytics.view", nil)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "authorization check failed", err.Error())

	err = guard.AuthorizeAssignment(ctx, "u1", &Role{Name: "viewer"}, strPtr("t1"))
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "authorization check failed", err.Error())
}
