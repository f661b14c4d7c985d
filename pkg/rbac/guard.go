package rbac

import (
	"context"

	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// AssignmentGuard decides who may assign and revoke roles.
//
// The rules, in order:
//  1. a principal holding administration.roles through a global assignment
//     may assign or revoke any role, globally or in any tour;
//  2. a principal holding staff_management.delegate within tour T may assign
//     or revoke roles scoped to T only, as long as the role is neither
//     super_admin nor grants any administration.* permission, and every
//     permission it grants is already in the principal's own set for T;
//  3. global assignments always require rule 1.
//
// Engine failures deny.
type AssignmentGuard struct {
	engine *Engine
	logger *observability.Logger
}

// NewAssignmentGuard creates a guard backed by engine
func NewAssignmentGuard(engine *Engine, logger *observability.Logger) *AssignmentGuard {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AssignmentGuard{engine: engine, logger: logger}
}

// Require fails with ForbiddenError unless actor holds key in scope
func (g *AssignmentGuard) Require(ctx context.Context, actor, key string, scope *string) error {
	if actor == "" {
		return forbidden("authentication required")
	}
	allowed, err := g.engine.IsAllowed(ctx, actor, key, scope)
	if err != nil {
		g.logger.WithError(err).WithField("actor", actor).Error("authorization check failed")
		return forbidden("authorization check failed")
	}
	if !allowed {
		return forbidden("missing permission %s", key)
	}
	return nil
}

// CanManageAssignments fails unless actor may assign at least some role in scope.
// It does not look at any particular role.
func (g *AssignmentGuard) CanManageAssignments(ctx context.Context, actor string, scope *string) error {
	_, _, err := g.authority(ctx, actor, normalizeScope(scope))
	return err
}

// AuthorizeAssignment fails unless actor may assign or revoke role in scope
func (g *AssignmentGuard) AuthorizeAssignment(ctx context.Context, actor string, role *Role, scope *string) error {
	scope = normalizeScope(scope)

	global, held, err := g.authority(ctx, actor, scope)
	if err != nil {
		return err
	}
	if global {
		return nil
	}

	if role.Name == RoleSuperAdmin || role.GrantsAdministration() {
		return g.deny(actor, role, scope, "role %q cannot be delegated", role.Name)
	}
	if !held.ContainsAll(role.Permissions) {
		return g.deny(actor, role, scope, "role %q grants permissions the actor does not hold in tour %s", role.Name, *scope)
	}
	return nil
}

// authority reports whether actor is a global role administrator, or else
// returns the actor's set in scope when it carries the delegation permission
func (g *AssignmentGuard) authority(ctx context.Context, actor string, scope *string) (bool, PermissionSet, error) {
	if actor == "" {
		return false, PermissionSet{}, forbidden("authentication required")
	}

	global, err := g.engine.EffectivePermissions(ctx, actor, nil)
	if err != nil {
		g.logger.WithError(err).WithField("actor", actor).Error("authorization check failed")
		return false, PermissionSet{}, forbidden("authorization check failed")
	}
	if global.Has(PermissionAdminRoles) {
		return true, global, nil
	}
	if scope == nil {
		return false, PermissionSet{}, forbidden("global assignments require %s", PermissionAdminRoles)
	}

	held, err := g.engine.EffectivePermissions(ctx, actor, scope)
	if err != nil {
		g.logger.WithError(err).WithField("actor", actor).Error("authorization check failed")
		return false, PermissionSet{}, forbidden("authorization check failed")
	}
	if !held.Has(PermissionStaffDelegate) {
		return false, PermissionSet{}, forbidden("requires %s or %s within tour %s", PermissionAdminRoles, PermissionStaffDelegate, *scope)
	}
	return false, held, nil
}

func (g *AssignmentGuard) deny(actor string, role *Role, scope *string, format string, args ...interface{}) error {
	g.logger.WithFields(map[string]interface{}{
		"actor": actor,
		"role":  role.Name,
		"scope": scopeString(scope),
	}).Debug("delegated assignment denied")
	return forbidden(format, args...)
}
