package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Store handles RBAC data persistence
type Store struct {
	db      *sql.DB
	reader  func() *sql.DB
	dialect Dialect
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithReader sends reads that tolerate replication lag (role listings, role
// statistics, the audit trail and the catalog load) to the handle reader
// returns. Effective permissions and every mutation stay on the primary.
func WithReader(reader func() *sql.DB) StoreOption {
	return func(s *Store) { s.reader = reader }
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB, dialect Dialect, opts ...StoreOption) *Store {
	s := &Store{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// replica returns the handle for lag-tolerant reads
func (s *Store) replica() *sql.DB {
	if s.reader != nil {
		if db := s.reader(); db != nil {
			return db
		}
	}
	return s.db
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn in a transaction, rolling back on error or panic
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Permissions

// ListPermissions returns the whole catalog ordered by key
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return listPermissions(ctx, s.replica())
}

func listPermissions(ctx context.Context, q querier) ([]Permission, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, category, display_name, description, deprecated
		FROM permissions
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Key, &p.Category, &p.DisplayName, &p.Description, &p.Deprecated); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return perms, nil
}

func permissionIndex(ctx context.Context, q querier) (map[string]Permission, error) {
	perms, err := listPermissions(ctx, q)
	if err != nil {
		return nil, err
	}
	index := make(map[string]Permission, len(perms))
	for _, p := range perms {
		index[p.Key] = p
	}
	return index, nil
}

func insertPermission(ctx context.Context, q querier, p Permission, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO permissions (key, category, display_name, description, deprecated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, p.Key, string(p.Category), p.DisplayName, p.Description, p.Deprecated, now)
	if err != nil {
		return fmt.Errorf("failed to insert permission %s: %w", p.Key, err)
	}
	return nil
}

func updatePermission(ctx context.Context, q querier, p Permission, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE permissions
		SET display_name = $1, description = $2, deprecated = $3, updated_at = $4
		WHERE key = $5
	`, p.DisplayName, p.Description, p.Deprecated, now, p.Key)
	if err != nil {
		return fmt.Errorf("failed to update permission %s: %w", p.Key, err)
	}
	return nil
}

// Roles

const roleColumns = `id, name, display_name, description, is_system_role, created_by, created_at, updated_at`

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&role.IsSystemRole,
		&role.CreatedBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.getRole(ctx, s.db, roleID, false)
}

func (s *Store) getRole(ctx context.Context, q querier, roleID int64, lock bool) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	if lock {
		query += s.dialect.forUpdate()
	}

	role, err := scanRole(q.QueryRowContext(ctx, query, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role", fmt.Sprintf("%d", roleID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if role.Permissions, err = rolePermissions(ctx, q, role.ID); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.getRoleByName(ctx, s.db, name, false)
}

func (s *Store) getRoleByName(ctx context.Context, q querier, name string, lock bool) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	if lock {
		query += s.dialect.forUpdate()
	}

	role, err := scanRole(q.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if role.Permissions, err = rolePermissions(ctx, q, role.ID); err != nil {
		return nil, err
	}
	return role, nil
}

func rolePermissions(ctx context.Context, q querier, roleID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT permission_key FROM role_permissions WHERE role_id = $1 ORDER BY permission_key
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		keys = append(keys, key)
	}
	// collation order differs between backends
	sort.Strings(keys)
	return keys, rows.Err()
}

// ListRoles lists all roles, system roles first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	db := s.replica()
	rows, err := db.QueryContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		ORDER BY is_system_role DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	index := make(map[int64]int)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.Permissions = make([]string, 0)
		index[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	rows.Close()

	grants, err := db.QueryContext(ctx, `
		SELECT role_id, permission_key FROM role_permissions ORDER BY role_id, permission_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer grants.Close()

	for grants.Next() {
		var roleID int64
		var key string
		if err := grants.Scan(&roleID, &key); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		// a role created between the two reads is simply not listed
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, key)
		}
	}
	if err := grants.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role permissions: %w", err)
	}
	for i := range roles {
		sort.Strings(roles[i].Permissions)
	}
	return roles, nil
}

func insertRole(ctx context.Context, q querier, role *Role) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO roles (name, display_name, description, is_system_role, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		role.Name,
		role.DisplayName,
		role.Description,
		role.IsSystemRole,
		role.CreatedBy,
		role.CreatedAt,
		role.UpdatedAt,
	).Scan(&role.ID)

	if isUniqueViolation(err) {
		return invalid("name", "role %q already exists", role.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

func updateRoleRow(ctx context.Context, q querier, role *Role) error {
	_, err := q.ExecContext(ctx, `
		UPDATE roles
		SET name = $1, display_name = $2, description = $3, updated_at = $4
		WHERE id = $5
	`, role.Name, role.DisplayName, role.Description, role.UpdatedAt, role.ID)

	if isUniqueViolation(err) {
		return invalid("name", "role %q already exists", role.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

// setRolePermissions replaces the grant list of a role
func setRolePermissions(ctx context.Context, q querier, roleID int64, keys []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	for _, key := range keys {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_key) VALUES ($1, $2)`,
			roleID, key,
		); err != nil {
			return fmt.Errorf("failed to grant %s: %w", key, err)
		}
	}
	return nil
}

func deleteRoleRow(ctx context.Context, q querier, roleID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role permissions: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// Assignments

const assignmentSelect = `
	SELECT ra.id, ra.principal_id, ra.role_id, r.name, ra.scope_tour_id, ra.granted_by, ra.granted_at
	FROM role_assignments ra
	JOIN roles r ON r.id = ra.role_id
`

func scanAssignment(row rowScanner) (*RoleAssignment, error) {
	var a RoleAssignment
	var scope sql.NullString
	if err := row.Scan(&a.ID, &a.PrincipalID, &a.RoleID, &a.RoleName, &scope, &a.GrantedBy, &a.GrantedAt); err != nil {
		return nil, err
	}
	if scope.Valid {
		a.ScopeTourID = &scope.String
	}
	return &a, nil
}

func collectAssignments(rows *sql.Rows) ([]RoleAssignment, error) {
	defer rows.Close()

	assignments := make([]RoleAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return assignments, nil
}

// ListAssignments returns every assignment held by principalID
func (s *Store) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, assignmentSelect+`
		WHERE ra.principal_id = $1
		ORDER BY r.name, COALESCE(ra.scope_tour_id, '')
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return collectAssignments(rows)
}

// ListRoleAssignments returns every assignment of roleID
func (s *Store) ListRoleAssignments(ctx context.Context, roleID int64) ([]RoleAssignment, error) {
	return listRoleAssignments(ctx, s.db, roleID)
}

func listRoleAssignments(ctx context.Context, q querier, roleID int64) ([]RoleAssignment, error) {
	rows, err := q.QueryContext(ctx, assignmentSelect+`
		WHERE ra.role_id = $1
		ORDER BY ra.principal_id, COALESCE(ra.scope_tour_id, '')
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	return collectAssignments(rows)
}

func findAssignment(ctx context.Context, q querier, principalID string, roleID int64, scope *string) (*RoleAssignment, error) {
	a, err := scanAssignment(q.QueryRowContext(ctx, assignmentSelect+`
		WHERE ra.principal_id = $1 AND ra.role_id = $2 AND COALESCE(ra.scope_tour_id, '') = $3
	`, principalID, roleID, scopeString(scope)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	return a, nil
}

// insertAssignment stores a; an existing identical triple is left untouched and returned instead
func insertAssignment(ctx context.Context, q querier, a *RoleAssignment) (*RoleAssignment, bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO role_assignments (id, principal_id, role_id, scope_tour_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, a.ID, a.PrincipalID, a.RoleID, a.ScopeTourID, a.GrantedBy, a.GrantedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert assignment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 1 {
		return a, true, nil
	}

	existing, err := findAssignment(ctx, q, a.PrincipalID, a.RoleID, a.ScopeTourID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("assignment conflict for %s without a matching row", a.PrincipalID)
	}
	return existing, false, nil
}

func deleteAssignment(ctx context.Context, q querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_assignments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}

func deleteRoleAssignments(ctx context.Context, q querier, roleID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_assignments WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role assignments: %w", err)
	}
	return nil
}

// EffectivePermissions returns the union of permission keys granted to principalID
// by global assignments and, when scope is set, by assignments scoped to that tour.
func (s *Store) EffectivePermissions(ctx context.Context, principalID string, scope *string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT rp.permission_key
		FROM role_assignments ra
		JOIN role_permissions rp ON rp.role_id = ra.role_id
		WHERE ra.principal_id = $1
		  AND (ra.scope_tour_id IS NULL OR ra.scope_tour_id = $2)
		ORDER BY rp.permission_key
	`, principalID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query effective permissions: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan permission key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate effective permissions: %w", err)
	}
	return keys, nil
}

// CountRolePermissions counts the grants of a role
func (s *Store) CountRolePermissions(ctx context.Context, roleID int64) (int, error) {
	var n int
	if err := s.replica().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_permissions WHERE role_id = $1`, roleID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count role permissions: %w", err)
	}
	return n, nil
}

// CountActiveAssignments counts the assignments referencing a role
func (s *Store) CountActiveAssignments(ctx context.Context, roleID int64) (int, error) {
	return countAssignments(ctx, s.replica(), roleID)
}

func countAssignments(ctx context.Context, q querier, roleID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_assignments WHERE role_id = $1`, roleID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return n, nil
}

// Audit

func insertAudit(ctx context.Context, q querier, e *AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO rbac_audit_log (id, occurred_at, actor_id, action, role_id, role_name, principal_id, scope_tour_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID,
		e.OccurredAt,
		e.ActorID,
		e.Action,
		e.RoleID,
		e.RoleName,
		e.PrincipalID,
		e.ScopeTourID,
		string(detailsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// ListAuditEntries returns audit rows matching filter, newest first
func (s *Store) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.PrincipalID != "" {
		add("principal_id = $%d", filter.PrincipalID)
	}
	if filter.RoleID != nil {
		add("role_id = $%d", *filter.RoleID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Since != nil {
		add("occurred_at >= $%d", *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	query := `SELECT id, occurred_at, actor_id, action, role_id, role_name, principal_id, scope_tour_id, details FROM rbac_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var (
			e       AuditEntry
			roleID  sql.NullInt64
			scope   sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &e.Action, &roleID, &e.RoleName, &e.PrincipalID, &scope, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if roleID.Valid {
			id := roleID.Int64
			e.RoleID = &id
		}
		if scope.Valid {
			e.ScopeTourID = &scope.String
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
