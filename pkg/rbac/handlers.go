package rbac

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tourdesk/pkg/contextkeys"
	"github.com/platinummonkey/tourdesk/pkg/httputil"
	"github.com/platinummonkey/tourdesk/pkg/middleware"
	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{service: service, logger: logger}
}

// EffectivePermissionsResponse is the body of the permission listing endpoints
type EffectivePermissionsResponse struct {
	PrincipalID string   `json:"principal_id"`
	ScopeTourID *string  `json:"tour_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// assignRoleBody is the POST body of a principal's roles collection
type assignRoleBody struct {
	Role        string  `json:"role"`
	ScopeTourID *string `json:"tour_id,omitempty"`
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Catalog
	router.HandleFunc("/rbac/catalog", h.GetCatalog).Methods("GET")
	router.HandleFunc("/rbac/permissions", h.ListPermissions).Methods("GET")

	// Role management
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/rbac/roles/{id:[0-9]+}", h.GetRole).Methods("GET")
	router.HandleFunc("/rbac/roles/{id:[0-9]+}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/rbac/roles/{id:[0-9]+}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/rbac/roles/{id:[0-9]+}/stats", h.GetRoleStats).Methods("GET")

	// Principal assignments
	router.HandleFunc("/rbac/principals/{principal_id}/roles", h.ListAssignments).Methods("GET")
	router.HandleFunc("/rbac/principals/{principal_id}/roles", h.AssignRole).Methods("POST")
	router.HandleFunc("/rbac/principals/{principal_id}/roles/{role}", h.RemoveRole).Methods("DELETE")
	router.HandleFunc("/rbac/principals/{principal_id}/permissions", h.GetPrincipalPermissions).Methods("GET")

	// Permission checking
	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
	router.HandleFunc("/rbac/me/permissions", h.GetMyPermissions).Methods("GET")

	// Audit trail
	router.HandleFunc("/rbac/audit", h.ListAuditEntries).Methods("GET")
}

// GetCatalog returns every role and permission
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	catalog, err := h.service.ListRolesAndPermissions(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, catalog)
}

// ListPermissions returns the permission catalog, optionally filtered by ?category=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var category *Category
	if c := httputil.OptionalQueryString(r, "category"); c != nil {
		cat := Category(*c)
		category = &cat
	}

	perms, err := h.service.ListPermissions(r.Context(), actor, category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// ListRoles lists all roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	roles, err := h.service.ListRoles(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a new custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole retrieves a specific role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), actor, roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole patches a custom role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var patch RolePatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), actor, roleID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a custom role; ?cascade=true revokes its assignments too
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	cascade, err := httputil.ParseQueryBool(r, "cascade", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.DeleteRole(r.Context(), actor, roleID, cascade); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetRoleStats returns the derived counts of a role
func (h *Handlers) GetRoleStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.service.RoleStats(r.Context(), actor, roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// ListAssignments lists a principal's role assignments
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathStringOrError(w, r, "principal_id")
	if !ok {
		return
	}

	assignments, err := h.service.ListAssignments(r.Context(), actor, principalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, assignments)
}

// AssignRole assigns a role to a principal. A new assignment answers 201,
// an existing identical one 200.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathStringOrError(w, r, "principal_id")
	if !ok {
		return
	}

	var body assignRoleBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	assignment, created, err := h.service.AssignRole(r.Context(), actor, AssignmentRequest{
		PrincipalID: principalID,
		Role:        body.Role,
		ScopeTourID: body.ScopeTourID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if created {
		httputil.WriteCreated(w, assignment)
		return
	}
	httputil.WriteSuccess(w, assignment)
}

// RemoveRole revokes a principal's role in the scope given by ?tour_id=
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathStringOrError(w, r, "principal_id")
	if !ok {
		return
	}
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	err := h.service.RemoveRole(r.Context(), actor, AssignmentRequest{
		PrincipalID: principalID,
		Role:        role,
		ScopeTourID: httputil.OptionalQueryString(r, "tour_id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetPrincipalPermissions returns a principal's effective permissions
func (h *Handlers) GetPrincipalPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathStringOrError(w, r, "principal_id")
	if !ok {
		return
	}
	h.writePermissions(w, r, actor, principalID)
}

// GetMyPermissions returns the caller's effective permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	h.writePermissions(w, r, actor, actor)
}

func (h *Handlers) writePermissions(w http.ResponseWriter, r *http.Request, actor, principalID string) {
	scope := httputil.OptionalQueryString(r, "tour_id")

	keys, err := h.service.EffectivePermissions(r.Context(), actor, principalID, scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, EffectivePermissionsResponse{
		PrincipalID: principalID,
		ScopeTourID: scope,
		Permissions: keys,
	})
}

// CheckPermission evaluates permissions for the caller itself
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Check(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ListAuditEntries returns the audit trail. Filters: actor_id, principal_id,
// role_id, action, since (RFC 3339), limit.
func (h *Handlers) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := AuditFilter{
		ActorID:     q.Get("actor_id"),
		PrincipalID: q.Get("principal_id"),
		Action:      q.Get("action"),
	}
	if v := q.Get("role_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid role_id")
			return
		}
		filter.RoleID = &id
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid since, expected RFC 3339")
			return
		}
		since = since.UTC()
		filter.Since = &since
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Limit = limit

	entries, err := h.service.ListAuditEntries(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := middleware.PrincipalID(r)
	if actor == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	return actor, true
}

// writeError maps typed RBAC errors to their status; anything else is a 500
// whose detail stays in the log
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Error("rbac request failed")
		httputil.WriteInternalError(w)
		return
	}

	switch status {
	case http.StatusNotFound:
		httputil.WriteNotFoundError(w, err.Error())
	case http.StatusConflict:
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteError(w, status, err)
	}
}
