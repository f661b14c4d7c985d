package rbac

import (
	"context"

	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// CheckMode selects how a multi-key check combines its keys
type CheckMode string

const (
	CheckAny CheckMode = "any"
	CheckAll CheckMode = "all"
)

// CheckRequest asks whether the caller holds some permissions
type CheckRequest struct {
	Permissions []string  `json:"permissions" validate:"required,min=1,max=100,dive,required,max=255"`
	ScopeTourID *string   `json:"tour_id,omitempty" validate:"omitempty,max=255"`
	Mode        CheckMode `json:"mode,omitempty" validate:"omitempty,oneof=any all"`
}

// CheckResult answers a CheckRequest
type CheckResult struct {
	Allowed bool     `json:"allowed"`
	Granted []string `json:"granted"`
}

// Service is the authorized entry point to RBAC.
//
// Role management requires administration.roles through a global
// assignment. Assignment changes go through the AssignmentGuard. Reads about
// a principal are open to that principal and to role administrators.
type Service struct {
	manager *RoleManager
	engine  *Engine
	guard   *AssignmentGuard
	logger  *observability.Logger
}

// NewService creates the service
func NewService(manager *RoleManager, engine *Engine, guard *AssignmentGuard, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{manager: manager, engine: engine, guard: guard, logger: logger}
}

// Manager exposes the unguarded manager for trusted callers such as the operator CLI
func (s *Service) Manager() *RoleManager { return s.manager }

// Engine exposes the authorization engine
func (s *Service) Engine() *Engine { return s.engine }

// IsAllowed reports whether principalID holds any of keys in scope.
// It never returns true on error.
func (s *Service) IsAllowed(ctx context.Context, principalID string, keys []string, scope *string) bool {
	allowed, err := s.engine.IsAllowedAny(ctx, principalID, keys, scope)
	if err != nil {
		s.logger.WithError(err).WithField("principal", principalID).Error("permission check failed, denying")
		return false
	}
	return allowed
}

// IsAllowedAll reports whether principalID holds every one of keys in scope
func (s *Service) IsAllowedAll(ctx context.Context, principalID string, keys []string, scope *string) bool {
	allowed, err := s.engine.IsAllowedAll(ctx, principalID, keys, scope)
	if err != nil {
		s.logger.WithError(err).WithField("principal", principalID).Error("permission check failed, denying")
		return false
	}
	return allowed
}

// Check evaluates req for the caller itself
func (s *Service) Check(ctx context.Context, actor string, req CheckRequest) (*CheckResult, error) {
	if actor == "" {
		return nil, forbidden("authentication required")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	set, err := s.engine.EffectivePermissions(ctx, actor, req.ScopeTourID)
	if err != nil {
		s.logger.WithError(err).WithField("principal", actor).Error("permission check failed, denying")
		return &CheckResult{Allowed: false, Granted: []string{}}, nil
	}

	granted := make([]string, 0, len(req.Permissions))
	for _, key := range uniqueSorted(req.Permissions) {
		if set.Has(key) {
			granted = append(granted, key)
		}
	}

	result := &CheckResult{Granted: granted}
	if req.Mode == CheckAll {
		result.Allowed = set.HasAll(req.Permissions...)
	} else {
		result.Allowed = set.HasAny(req.Permissions...)
	}
	return result, nil
}

// EffectivePermissions returns principalID's keys in scope; callers may read
// their own set, role administrators anyone's
func (s *Service) EffectivePermissions(ctx context.Context, actor, principalID string, scope *string) ([]string, error) {
	if err := s.requireSelfOrAdmin(ctx, actor, principalID); err != nil {
		return nil, err
	}
	set, err := s.engine.EffectivePermissions(ctx, principalID, scope)
	if err != nil {
		return nil, err
	}
	return set.Keys(), nil
}

// ListAssignments returns principalID's assignments, for itself or a role administrator
func (s *Service) ListAssignments(ctx context.Context, actor, principalID string) ([]RoleAssignment, error) {
	if err := s.requireSelfOrAdmin(ctx, actor, principalID); err != nil {
		return nil, err
	}
	return s.manager.ListAssignments(ctx, principalID)
}

// CreateRole creates a custom role
func (s *Service) CreateRole(ctx context.Context, actor string, req CreateRoleRequest) (*Role, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.manager.CreateRole(ctx, actor, req)
}

// UpdateRole patches a custom role
func (s *Service) UpdateRole(ctx context.Context, actor string, roleID int64, patch RolePatch) (*Role, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.manager.UpdateRole(ctx, actor, roleID, patch)
}

// DeleteRole deletes a custom role, revoking its assignments when cascade is set
func (s *Service) DeleteRole(ctx context.Context, actor string, roleID int64, cascade bool) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	return s.manager.DeleteRole(ctx, actor, roleID, cascade)
}

// AssignRole assigns a role if the guard lets actor do so
func (s *Service) AssignRole(ctx context.Context, actor string, req AssignmentRequest) (*RoleAssignment, bool, error) {
	if err := s.authorizeAssignment(ctx, actor, req); err != nil {
		return nil, false, err
	}
	return s.manager.AssignRole(ctx, actor, req)
}

// RemoveRole revokes an assignment if the guard lets actor do so
func (s *Service) RemoveRole(ctx context.Context, actor string, req AssignmentRequest) error {
	if err := s.authorizeAssignment(ctx, actor, req); err != nil {
		return err
	}
	return s.manager.RemoveRole(ctx, actor, req)
}

// authorizeAssignment only reveals whether a role exists to callers who could assign something in scope
func (s *Service) authorizeAssignment(ctx context.Context, actor string, req AssignmentRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}

	role, err := s.manager.GetRoleByName(ctx, req.Role)
	if isNotFound(err) {
		if gerr := s.guard.CanManageAssignments(ctx, actor, req.ScopeTourID); gerr != nil {
			return gerr
		}
		return err
	}
	if err != nil {
		return err
	}
	return s.guard.AuthorizeAssignment(ctx, actor, role, req.ScopeTourID)
}

// GetRole retrieves a role
func (s *Service) GetRole(ctx context.Context, actor string, roleID int64) (*Role, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.manager.GetRole(ctx, roleID)
}

// ListRoles lists every role
func (s *Service) ListRoles(ctx context.Context, actor string) ([]Role, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.manager.ListRoles(ctx)
}

// RoleStats returns the derived counts of a role
func (s *Service) RoleStats(ctx context.Context, actor string, roleID int64) (*RoleStats, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.manager.RoleStats(ctx, roleID)
}

// ListRolesAndPermissions returns both catalogs
func (s *Service) ListRolesAndPermissions(ctx context.Context, actor string) (*RolesAndPermissions, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.manager.ListRolesAndPermissions(ctx)
}

// ListPermissions returns the permission catalog, optionally restricted to one category
func (s *Service) ListPermissions(ctx context.Context, actor string, category *Category) ([]Permission, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if category != nil {
		return s.manager.ListPermissionsByCategory(ctx, *category)
	}
	return s.manager.ListPermissions(ctx)
}

// ListAuditEntries reads the audit trail; requires administration.audit globally
func (s *Service) ListAuditEntries(ctx context.Context, actor string, filter AuditFilter) ([]AuditEntry, error) {
	if err := s.guard.Require(ctx, actor, PermissionAdminAudit, nil); err != nil {
		return nil, err
	}
	return s.manager.ListAuditEntries(ctx, filter)
}

func (s *Service) requireAdmin(ctx context.Context, actor string) error {
	return s.guard.Require(ctx, actor, PermissionAdminRoles, nil)
}

func (s *Service) requireSelfOrAdmin(ctx context.Context, actor, principalID string) error {
	if actor == "" {
		return forbidden("authentication required")
	}
	if actor == principalID {
		return nil
	}
	return s.requireAdmin(ctx, actor)
}
