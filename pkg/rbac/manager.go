package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tourdesk/pkg/audit"
	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// RoleManager performs the mutating RBAC operations and the catalog read views.
//
// It does not authorize callers; that is the job of Service. Every mutation
// runs in a single transaction together with its audit row, so concurrent
// readers observe either the old or the new state. After commit the event is
// forwarded to the audit logger and the affected permission sets are dropped
// from the engine cache.
type RoleManager struct {
	store   *Store
	catalog *CatalogCache
	engine  *Engine
	auditor audit.Logger
	metrics *Metrics
	logger  *observability.Logger
	tracer  trace.Tracer
}

// NewRoleManager wires a manager. auditor, metrics and logger may be nil.
func NewRoleManager(store *Store, catalog *CatalogCache, engine *Engine, auditor audit.Logger, metrics *Metrics, logger *observability.Logger) *RoleManager {
	if auditor == nil {
		auditor = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RoleManager{
		store:   store,
		catalog: catalog,
		engine:  engine,
		auditor: auditor,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// CreateRole creates a custom role granting req.Permissions
func (m *RoleManager) CreateRole(ctx context.Context, actor string, req CreateRoleRequest) (role *Role, err error) {
	ctx, span := m.startSpan(ctx, "rbac.CreateRole", actor)
	defer func() { m.finish(ctx, span, "create_role", actor, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	keys := uniqueSorted(req.Permissions)
	now := time.Now().UTC()
	role = &Role{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Permissions: keys,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		index, err := permissionIndex(ctx, tx)
		if err != nil {
			return err
		}
		if err := checkGrants(index, keys, nil); err != nil {
			return err
		}
		if err := insertRole(ctx, tx, role); err != nil {
			return err
		}
		if err := setRolePermissions(ctx, tx, role.ID, keys); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &AuditEntry{
			ID:         uuid.NewString(),
			OccurredAt: now,
			ActorID:    actor,
			Action:     ActionRoleCreate,
			RoleID:     &role.ID,
			RoleName:   role.Name,
			Details:    map[string]interface{}{"permissions": keys},
		})
	})
	if err != nil {
		return nil, err
	}

	m.emit(ctx, audit.EventTypeRoleCreate, actor, func(e *audit.AuditEvent) {
		e.ResourceType = audit.ResourceTypeRole
		e.ResourceID = strconv.FormatInt(role.ID, 10)
		e.ResourceName = role.Name
		e.Changes = &audit.ChangeDetails{After: roleSnapshot(role)}
	})
	return role, nil
}

// UpdateRole applies patch to a custom role. System roles are immutable.
func (m *RoleManager) UpdateRole(ctx context.Context, actor string, roleID int64, patch RolePatch) (role *Role, err error) {
	ctx, span := m.startSpan(ctx, "rbac.UpdateRole", actor)
	span.SetAttributes(attribute.Int64("rbac.role_id", roleID))
	defer func() { m.finish(ctx, span, "update_role", actor, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, invalid("", "no fields to update")
	}

	var before map[string]interface{}
	permissionsChanged := false

	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		role, err = m.store.getRole(ctx, tx, roleID, true)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return forbidden("system role %q cannot be modified", role.Name)
		}
		before = roleSnapshot(role)

		if patch.Name != nil {
			role.Name = *patch.Name
		}
		if patch.DisplayName != nil {
			role.DisplayName = *patch.DisplayName
		}
		if patch.Description != nil {
			role.Description = *patch.Description
		}
		role.UpdatedAt = time.Now().UTC()

		if err := updateRoleRow(ctx, tx, role); err != nil {
			return err
		}

		if patch.Permissions != nil {
			keys := uniqueSorted(*patch.Permissions)
			index, err := permissionIndex(ctx, tx)
			if err != nil {
				return err
			}
			// a deprecated key may stay on a role that already grants it
			if err := checkGrants(index, keys, role.Permissions); err != nil {
				return err
			}
			if !equalKeys(keys, role.Permissions) {
				if err := setRolePermissions(ctx, tx, role.ID, keys); err != nil {
					return err
				}
				role.Permissions = keys
				permissionsChanged = true
			}
		}

		return insertAudit(ctx, tx, &AuditEntry{
			ID:         uuid.NewString(),
			OccurredAt: role.UpdatedAt,
			ActorID:    actor,
			Action:     ActionRoleUpdate,
			RoleID:     &role.ID,
			RoleName:   role.Name,
			Details: map[string]interface{}{
				"before": before,
				"after":  roleSnapshot(role),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if permissionsChanged {
		m.engine.PurgeCache(ctx)
	}

	m.emit(ctx, audit.EventTypeRoleUpdate, actor, func(e *audit.AuditEvent) {
		e.ResourceType = audit.ResourceTypeRole
		e.ResourceID = strconv.FormatInt(role.ID, 10)
		e.ResourceName = role.Name
		e.Changes = &audit.ChangeDetails{Before: before, After: roleSnapshot(role)}
	})
	return role, nil
}

// DeleteRole removes a custom role. A role that is still assigned can only be
// deleted with cascade, which revokes its assignments in the same transaction.
func (m *RoleManager) DeleteRole(ctx context.Context, actor string, roleID int64, cascade bool) (err error) {
	ctx, span := m.startSpan(ctx, "rbac.DeleteRole", actor)
	span.SetAttributes(attribute.Int64("rbac.role_id", roleID), attribute.Bool("rbac.cascade", cascade))
	defer func() { m.finish(ctx, span, "delete_role", actor, err) }()

	if err := requireActor(actor); err != nil {
		return err
	}

	var (
		role    *Role
		revoked []RoleAssignment
	)
	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		role, err = m.store.getRole(ctx, tx, roleID, true)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return forbidden("system role %q cannot be deleted", role.Name)
		}

		revoked, err = listRoleAssignments(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if len(revoked) > 0 && !cascade {
			return &ConflictError{Message: fmt.Sprintf("role %q has %d active assignments", role.Name, len(revoked))}
		}
		if len(revoked) > 0 {
			if err := deleteRoleAssignments(ctx, tx, roleID); err != nil {
				return err
			}
		}
		if err := deleteRoleRow(ctx, tx, roleID); err != nil {
			return err
		}

		return insertAudit(ctx, tx, &AuditEntry{
			ID:         uuid.NewString(),
			OccurredAt: time.Now().UTC(),
			ActorID:    actor,
			Action:     ActionRoleDelete,
			RoleID:     &role.ID,
			RoleName:   role.Name,
			Details: map[string]interface{}{
				"cascade":             cascade,
				"revoked_assignments": len(revoked),
			},
		})
	})
	if err != nil {
		return err
	}

	if len(revoked) > 0 {
		m.engine.PurgeCache(ctx)
	}

	m.emit(ctx, audit.EventTypeRoleDelete, actor, func(e *audit.AuditEvent) {
		e.ResourceType = audit.ResourceTypeRole
		e.ResourceID = strconv.FormatInt(role.ID, 10)
		e.ResourceName = role.Name
		e.Metadata = map[string]interface{}{"cascade": cascade, "revoked_assignments": len(revoked)}
		e.Changes = &audit.ChangeDetails{Before: roleSnapshot(role)}
	})
	return nil
}

// AssignRole grants a role to a principal, globally or within one tour.
// Assigning an existing triple returns the stored assignment with created=false.
func (m *RoleManager) AssignRole(ctx context.Context, actor string, req AssignmentRequest) (assignment *RoleAssignment, created bool, err error) {
	ctx, span := m.startSpan(ctx, "rbac.AssignRole", actor)
	defer func() { m.finish(ctx, span, "assign_role", actor, err) }()

	if err := requireActor(actor); err != nil {
		return nil, false, err
	}
	if err := validateStruct(req); err != nil {
		return nil, false, err
	}
	scope := normalizeScope(req.ScopeTourID)

	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		role, err := m.store.getRoleByName(ctx, tx, req.Role, false)
		if err != nil {
			return err
		}

		assignment, created, err = insertAssignment(ctx, tx, &RoleAssignment{
			ID:          uuid.NewString(),
			PrincipalID: req.PrincipalID,
			RoleID:      role.ID,
			RoleName:    role.Name,
			ScopeTourID: scope,
			GrantedBy:   actor,
			GrantedAt:   time.Now().UTC(),
		})
		if err != nil || !created {
			return err
		}

		return insertAudit(ctx, tx, &AuditEntry{
			ID:          uuid.NewString(),
			OccurredAt:  assignment.GrantedAt,
			ActorID:     actor,
			Action:      ActionRoleAssign,
			RoleID:      &role.ID,
			RoleName:    role.Name,
			PrincipalID: req.PrincipalID,
			ScopeTourID: scope,
			Details:     map[string]interface{}{"assignment_id": assignment.ID},
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		return assignment, false, nil
	}

	m.engine.InvalidatePrincipal(ctx, req.PrincipalID)
	m.emit(ctx, audit.EventTypeRoleAssign, actor, func(e *audit.AuditEvent) {
		e.ResourceType = audit.ResourceTypeAssignment
		e.ResourceID = assignment.ID
		e.ResourceName = assignment.RoleName
		e.SubjectID = assignment.PrincipalID
		e.ScopeTourID = assignment.ScopeTourID
	})
	return assignment, true, nil
}

// RemoveRole revokes exactly the (principal, role, scope) assignment.
// Assignments of the same role in other scopes are untouched.
func (m *RoleManager) RemoveRole(ctx context.Context, actor string, req AssignmentRequest) (err error) {
	ctx, span := m.startSpan(ctx, "rbac.RemoveRole", actor)
	defer func() { m.finish(ctx, span, "remove_role", actor, err) }()

	if err := requireActor(actor); err != nil {
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}
	scope := normalizeScope(req.ScopeTourID)

	var assignment *RoleAssignment
	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		role, err := m.store.getRoleByName(ctx, tx, req.Role, false)
		if err != nil {
			return err
		}

		assignment, err = findAssignment(ctx, tx, req.PrincipalID, role.ID, scope)
		if err != nil {
			return err
		}
		if assignment == nil {
			return notFound("assignment", assignmentKey(req.PrincipalID, role.Name, scope))
		}
		if err := deleteAssignment(ctx, tx, assignment.ID); err != nil {
			return err
		}

		return insertAudit(ctx, tx, &AuditEntry{
			ID:          uuid.NewString(),
			OccurredAt:  time.Now().UTC(),
			ActorID:     actor,
			Action:      ActionRoleRevoke,
			RoleID:      &role.ID,
			RoleName:    role.Name,
			PrincipalID: req.PrincipalID,
			ScopeTourID: scope,
			Details:     map[string]interface{}{"assignment_id": assignment.ID},
		})
	})
	if err != nil {
		return err
	}

	m.engine.InvalidatePrincipal(ctx, req.PrincipalID)
	m.emit(ctx, audit.EventTypeRoleRevoke, actor, func(e *audit.AuditEvent) {
		e.ResourceType = audit.ResourceTypeAssignment
		e.ResourceID = assignment.ID
		e.ResourceName = assignment.RoleName
		e.SubjectID = assignment.PrincipalID
		e.ScopeTourID = assignment.ScopeTourID
	})
	return nil
}

// SeedCatalog provisions def and refreshes every in-memory view that depends on it
func (m *RoleManager) SeedCatalog(ctx context.Context, actor string, def *CatalogDefinition) (result *SeedResult, err error) {
	ctx, span := m.startSpan(ctx, "rbac.SeedCatalog", actor)
	defer func() { m.finish(ctx, span, "seed_catalog", actor, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	result, err = m.store.SeedCatalog(ctx, def, actor)
	if err != nil {
		return nil, err
	}
	if !result.Changed() {
		return result, nil
	}

	m.catalog.Invalidate()
	m.engine.PurgeCache(ctx)
	m.emit(ctx, audit.EventTypeCatalogSeed, actor, func(e *audit.AuditEvent) {
		e.ResourceType = audit.ResourceTypeCatalog
		e.Metadata = map[string]interface{}{
			"permissions_added":      len(result.PermissionsAdded),
			"permissions_updated":    len(result.PermissionsUpdated),
			"permissions_deprecated": len(result.PermissionsDeprecated),
			"roles_added":            len(result.RolesAdded),
			"roles_synced":           len(result.RolesSynced),
		}
	})
	return result, nil
}

// Read views

// GetRole retrieves a role by id
func (m *RoleManager) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return m.store.GetRole(ctx, roleID)
}

// GetRoleByName retrieves a role by name
func (m *RoleManager) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return m.store.GetRoleByName(ctx, name)
}

// ListRoles lists every role, system roles first
func (m *RoleManager) ListRoles(ctx context.Context) ([]Role, error) {
	return m.store.ListRoles(ctx)
}

// ListAssignments lists the assignments held by principalID
func (m *RoleManager) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	return m.store.ListAssignments(ctx, principalID)
}

// ListRoleAssignments lists the assignments of a role
func (m *RoleManager) ListRoleAssignments(ctx context.Context, roleID int64) ([]RoleAssignment, error) {
	if _, err := m.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return m.store.ListRoleAssignments(ctx, roleID)
}

// ListAuditEntries reads the audit trail
func (m *RoleManager) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return m.store.ListAuditEntries(ctx, filter)
}

// ListPermissions returns the permission catalog
func (m *RoleManager) ListPermissions(ctx context.Context) ([]Permission, error) {
	catalog, err := m.catalog.Get(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.List(), nil
}

// ListPermissionsByCategory returns the permissions of one category
func (m *RoleManager) ListPermissionsByCategory(ctx context.Context, category Category) ([]Permission, error) {
	catalog, err := m.catalog.Get(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ListByCategory(category)
}

// PermissionExists reports whether key is in the catalog
func (m *RoleManager) PermissionExists(ctx context.Context, key string) (bool, error) {
	catalog, err := m.catalog.Get(ctx)
	if err != nil {
		return false, err
	}
	return catalog.Exists(key), nil
}

// GetPermissionCount counts the permissions a role grants
func (m *RoleManager) GetPermissionCount(ctx context.Context, roleID int64) (int, error) {
	if _, err := m.store.GetRole(ctx, roleID); err != nil {
		return 0, err
	}
	return m.store.CountRolePermissions(ctx, roleID)
}

// GetActiveAssignmentCount counts the assignments referencing a role
func (m *RoleManager) GetActiveAssignmentCount(ctx context.Context, roleID int64) (int, error) {
	if _, err := m.store.GetRole(ctx, roleID); err != nil {
		return 0, err
	}
	return m.store.CountActiveAssignments(ctx, roleID)
}

// RoleStats computes both derived counts of a role
func (m *RoleManager) RoleStats(ctx context.Context, roleID int64) (*RoleStats, error) {
	if _, err := m.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	stats := &RoleStats{RoleID: roleID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := m.store.CountRolePermissions(gctx, roleID)
		stats.PermissionCount = n
		return err
	})
	g.Go(func() error {
		n, err := m.store.CountActiveAssignments(gctx, roleID)
		stats.ActiveAssignmentCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// ListRolesAndPermissions loads both catalogs for administrative screens
func (m *RoleManager) ListRolesAndPermissions(ctx context.Context) (*RolesAndPermissions, error) {
	out := &RolesAndPermissions{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roles, err := m.store.ListRoles(gctx)
		out.Roles = roles
		return err
	})
	g.Go(func() error {
		perms, err := m.ListPermissions(gctx)
		out.Permissions = perms
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// checkGrants verifies every key exists and is not deprecated, unless it is in keep
func checkGrants(index map[string]Permission, keys, keep []string) error {
	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	for _, key := range keys {
		p, ok := index[key]
		if !ok {
			return invalid("permissions", "unknown permission %q", key)
		}
		if p.Deprecated {
			if _, ok := kept[key]; !ok {
				return invalid("permissions", "permission %q is deprecated", key)
			}
		}
	}
	return nil
}

func requireActor(actor string) error {
	if actor == "" {
		return invalid("actor", "is required")
	}
	return nil
}

func assignmentKey(principalID, role string, scope *string) string {
	if scope == nil {
		return principalID + "/" + role + "/global"
	}
	return principalID + "/" + role + "/tour:" + *scope
}

func roleSnapshot(r *Role) map[string]interface{} {
	return map[string]interface{}{
		"name":         r.Name,
		"display_name": r.DisplayName,
		"description":  r.Description,
		"permissions":  r.Permissions,
	}
}

func (m *RoleManager) startSpan(ctx context.Context, name, actor string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("rbac.actor", actor)))
}

// finish records the outcome of a mutation on the span, metrics and log
func (m *RoleManager) finish(ctx context.Context, span trace.Span, operation, actor string, err error) {
	defer span.End()
	m.metrics.recordMutation(operation, err)

	logger := m.logger.WithFields(map[string]interface{}{
		"operation": operation,
		"actor":     actor,
	})
	if err == nil {
		logger.Info("rbac mutation applied")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if HTTPStatus(err) >= 500 {
		logger.WithError(err).Error("rbac mutation failed")
	} else {
		logger.WithError(err).Info("rbac mutation rejected")
	}
}

func (m *RoleManager) emit(ctx context.Context, eventType audit.EventType, actor string, fill func(*audit.AuditEvent)) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ActorID = actor
	fill(event)
	if err := m.auditor.Log(ctx, event); err != nil {
		m.logger.WithError(err).WithField("event_type", string(eventType)).Error("failed to emit audit event")
	}
}
