package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SeedResult summarises what SeedCatalog changed
type SeedResult struct {
	PermissionsAdded      []string `json:"permissions_added,omitempty"`
	PermissionsUpdated    []string `json:"permissions_updated,omitempty"`
	PermissionsDeprecated []string `json:"permissions_deprecated,omitempty"`
	RolesAdded            []string `json:"roles_added,omitempty"`
	RolesSynced           []string `json:"roles_synced,omitempty"`
}

// Changed reports whether the seed modified anything
func (r *SeedResult) Changed() bool {
	return len(r.PermissionsAdded)+len(r.PermissionsUpdated)+len(r.PermissionsDeprecated)+
		len(r.RolesAdded)+len(r.RolesSynced) > 0
}

// SeedCatalog provisions the permission catalog and system roles from def.
//
// It is idempotent. Existing keys keep their category: a definition that tries
// to move a key to another category is rejected, since keys are never
// repurposed. Keys missing from def are marked deprecated rather than
// deleted. System roles are created when absent and their grant lists are
// brought in line with def; a custom role squatting on a system role name is
// an error.
func (s *Store) SeedCatalog(ctx context.Context, def *CatalogDefinition, actor string) (*SeedResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	result := &SeedResult{}
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := permissionIndex(ctx, tx)
		if err != nil {
			return err
		}

		defined := make(map[string]struct{}, len(def.Permissions))
		for _, p := range def.Permissions {
			defined[p.Key] = struct{}{}

			current, ok := existing[p.Key]
			if !ok {
				if err := insertPermission(ctx, tx, p, now); err != nil {
					return err
				}
				result.PermissionsAdded = append(result.PermissionsAdded, p.Key)
				continue
			}

			if current.Category != p.Category {
				return invalid("category", "permission %s belongs to %s and cannot move to %s", p.Key, current.Category, p.Category)
			}
			if current.DisplayName != p.DisplayName || current.Description != p.Description || current.Deprecated != p.Deprecated {
				if err := updatePermission(ctx, tx, p, now); err != nil {
					return err
				}
				result.PermissionsUpdated = append(result.PermissionsUpdated, p.Key)
			}
		}

		for key, current := range existing {
			if _, ok := defined[key]; ok || current.Deprecated {
				continue
			}
			current.Deprecated = true
			if err := updatePermission(ctx, tx, current, now); err != nil {
				return err
			}
			result.PermissionsDeprecated = append(result.PermissionsDeprecated, key)
		}
		sort.Strings(result.PermissionsDeprecated)

		for _, rd := range def.Roles {
			keys := def.expandRole(rd)

			role, err := s.getRoleByName(ctx, tx, rd.Name, true)
			if err != nil && !isNotFound(err) {
				return err
			}

			if role == nil {
				role = &Role{
					Name:         rd.Name,
					DisplayName:  rd.DisplayName,
					Description:  rd.Description,
					IsSystemRole: true,
					CreatedBy:    actor,
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				if err := insertRole(ctx, tx, role); err != nil {
					return err
				}
				if err := setRolePermissions(ctx, tx, role.ID, keys); err != nil {
					return err
				}
				result.RolesAdded = append(result.RolesAdded, rd.Name)
				continue
			}

			if !role.IsSystemRole {
				return invalid("name", "custom role %q collides with a system role", rd.Name)
			}

			if role.DisplayName != rd.DisplayName || role.Description != rd.Description || !equalKeys(role.Permissions, keys) {
				role.DisplayName = rd.DisplayName
				role.Description = rd.Description
				role.UpdatedAt = now
				if err := updateRoleRow(ctx, tx, role); err != nil {
					return err
				}
				if err := setRolePermissions(ctx, tx, role.ID, keys); err != nil {
					return err
				}
				result.RolesSynced = append(result.RolesSynced, rd.Name)
			}
		}

		if !result.Changed() {
			return nil
		}

		return insertAudit(ctx, tx, &AuditEntry{
			ID:         uuid.NewString(),
			OccurredAt: now,
			ActorID:    actor,
			Action:     ActionCatalogSeed,
			Details: map[string]interface{}{
				"permissions_added":      len(result.PermissionsAdded),
				"permissions_updated":    len(result.PermissionsUpdated),
				"permissions_deprecated": result.PermissionsDeprecated,
				"roles_added":            result.RolesAdded,
				"roles_synced":           result.RolesSynced,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed catalog: %w", err)
	}
	return result, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
