package rbac

import (
	"sort"
	"strings"
	"time"
)

// Category groups permissions; every permission belongs to exactly one
type Category string

const (
	CategoryTourManagement      Category = "tour_management"
	CategoryEventManagement     Category = "event_management"
	CategoryStaffManagement     Category = "staff_management"
	CategoryFinancialManagement Category = "financial_management"
	CategoryLogisticsManagement Category = "logistics_management"
	CategoryCommunications      Category = "communications"
	CategoryAnalytics           Category = "analytics"
	CategoryAdministration      Category = "administration"
)

// AllCategories returns the fixed category enumeration in display order
func AllCategories() []Category {
	return []Category{
		CategoryTourManagement,
		CategoryEventManagement,
		CategoryStaffManagement,
		CategoryFinancialManagement,
		CategoryLogisticsManagement,
		CategoryCommunications,
		CategoryAnalytics,
		CategoryAdministration,
	}
}

// Valid reports whether c is one of the fixed categories
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Permission keys the service itself depends on
const (
	PermissionAdminRoles    = "administration.roles"
	PermissionAdminSettings = "administration.settings"
	PermissionAdminAudit    = "administration.audit"
	PermissionStaffDelegate = "staff_management.delegate"
)

// RoleSuperAdmin is the seeded role that grants every permission
const RoleSuperAdmin = "super_admin"

// Permission is a single catalog entry
type Permission struct {
	Key         string   `json:"key" yaml:"key"`
	Category    Category `json:"category" yaml:"category"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Description string   `json:"description" yaml:"description"`
	// Deprecated keys stay resolvable but cannot be granted to roles anymore
	Deprecated bool `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
}

// Role is a named bundle of permission keys
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	IsSystemRole bool      `json:"is_system_role"`
	Permissions  []string  `json:"permissions"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Grants reports whether the role carries key
func (r *Role) Grants(key string) bool {
	for _, p := range r.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// GrantsAdministration reports whether the role carries any administration.* key
func (r *Role) GrantsAdministration() bool {
	prefix := string(CategoryAdministration) + "."
	for _, p := range r.Permissions {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// RoleAssignment binds a principal to a role, globally or within one tour
type RoleAssignment struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	RoleID      int64     `json:"role_id"`
	RoleName    string    `json:"role_name"`
	ScopeTourID *string   `json:"scope_tour_id,omitempty"`
	GrantedBy   string    `json:"granted_by"`
	GrantedAt   time.Time `json:"granted_at"`
}

// IsGlobal reports whether the assignment applies across every tour
func (a *RoleAssignment) IsGlobal() bool {
	return a.ScopeTourID == nil
}

// CreateRoleRequest is the input to RoleManager.CreateRole
type CreateRoleRequest struct {
	Name        string   `json:"name" validate:"required,rolename"`
	DisplayName string   `json:"display_name" validate:"required,max=255"`
	Description string   `json:"description" validate:"max=2000"`
	Permissions []string `json:"permissions" validate:"dive,required,max=255"`
}

// RolePatch carries the fields to change on a custom role; nil means unchanged
type RolePatch struct {
	Name        *string   `json:"name,omitempty" validate:"omitempty,rolename"`
	DisplayName *string   `json:"display_name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	Permissions *[]string `json:"permissions,omitempty" validate:"omitempty,dive,required,max=255"`
}

// IsEmpty reports whether the patch changes nothing
func (p RolePatch) IsEmpty() bool {
	return p.Name == nil && p.DisplayName == nil && p.Description == nil && p.Permissions == nil
}

// AssignmentRequest identifies a (principal, role, scope) triple
type AssignmentRequest struct {
	PrincipalID string  `json:"principal_id" validate:"required,max=255"`
	Role        string  `json:"role" validate:"required,max=64"`
	ScopeTourID *string `json:"tour_id,omitempty" validate:"omitempty,max=255"`
}

// RoleStats are derived counts for a role, computed from current state
type RoleStats struct {
	RoleID                int64 `json:"role_id"`
	PermissionCount       int   `json:"permission_count"`
	ActiveAssignmentCount int   `json:"active_assignment_count"`
}

// RolesAndPermissions is the administrative overview of both catalogs
type RolesAndPermissions struct {
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
}

// Audit actions recorded in rbac_audit_log
const (
	ActionRoleCreate  = "role.create"
	ActionRoleUpdate  = "role.update"
	ActionRoleDelete  = "role.delete"
	ActionRoleAssign  = "role.assign"
	ActionRoleRevoke  = "role.revoke"
	ActionCatalogSeed = "catalog.seed"
)

// AuditEntry is one row of the RBAC audit trail
type AuditEntry struct {
	ID          string                 `json:"id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	ActorID     string                 `json:"actor_id"`
	Action      string                 `json:"action"`
	RoleID      *int64                 `json:"role_id,omitempty"`
	RoleName    string                 `json:"role_name,omitempty"`
	PrincipalID string                 `json:"principal_id,omitempty"`
	ScopeTourID *string                `json:"scope_tour_id,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// AuditFilter narrows ListAuditEntries; zero values match everything
type AuditFilter struct {
	ActorID     string
	PrincipalID string
	RoleID      *int64
	Action      string
	Since       *time.Time
	Limit       int
}

// normalizeScope maps an empty tour id to the global scope
func normalizeScope(scope *string) *string {
	if scope == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*scope)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func scopeString(scope *string) string {
	if scope == nil {
		return ""
	}
	return *scope
}

// uniqueSorted dedupes and sorts permission keys
func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
