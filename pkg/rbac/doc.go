// Package rbac provides role-based access control for the tour management service.
//
// # Overview
//
// Access is decided by a flat, additive model. Permissions are catalog
// entries identified by stable keys such as "tour_management.edit". Roles
// are named bundles of permission keys. A role assignment binds a principal
// to a role, either globally or scoped to a single tour. There is no role
// hierarchy and no deny rule: the effective permission set of a principal is
// the union of the grants of every applicable assignment.
//
// # Permission Catalog
//
// Every permission belongs to exactly one of eight categories:
//
//	tour_management, event_management, staff_management, financial_management,
//	logistics_management, communications, analytics, administration
//
// The catalog is provisioned from catalog.yaml (embedded) or a file named by
// TOURDESK_CATALOG_FILE:
//
//	def, err := rbac.LoadCatalogDefinition(path)
//	result, err := manager.SeedCatalog(ctx, actor, def)
//
// Seeding is idempotent. A key keeps its category forever; keys dropped from
// the definition are marked deprecated rather than deleted. Deprecated keys
// still count toward effective permissions but cannot be newly granted.
//
// At runtime the catalog is read through CatalogCache, an immutable snapshot
// behind an atomic pointer. CatalogRefresher reloads it on a cron schedule.
//
// # Roles
//
// System roles (super_admin, tour_manager, tour_coordinator, crew_member,
// finance_officer, viewer) are seeded and immutable. Custom roles are created
// through RoleManager:
//
//	role, err := roles.CreateRole(ctx, actor, rbac.CreateRoleRequest{
//		Name:        "merch_lead",
//		DisplayName: "Merch Lead",
//		Permissions: []string{"logistics_management.view", "financial_management.view"},
//	})
//
// Updating or deleting a system role fails with ForbiddenError. Deleting a
// role that is still assigned fails with ConflictError unless cascade is
// requested, in which case its assignments are revoked in the same
// transaction.
//
// # Authorization
//
// Engine computes effective permissions with a single union query and caches
// the result per (principal, scope):
//
//	ok, err := engine.IsAllowed(ctx, "u-42", "event_management.view", &tourID)
//
// When a list of items has to be filtered, Prefetch returns a PermissionSet
// that answers repeated checks without further queries. Engine errors are
// returned to the caller; Service, the middleware and the handlers all turn
// them into denials.
//
// # Delegated Assignment
//
// AssignmentGuard lets a principal holding staff_management.delegate within
// a tour assign roles scoped to that tour, as long as the role grants
// nothing outside the delegator's own set there and nothing administrative.
// Global assignments need administration.roles through a global assignment.
//
// # HTTP
//
//	mgr, err := rbac.NewManager(db, cfg)
//	mgr.RegisterRoutes(router)
//
//	router.Handle("/tours/{tour_id}/crew",
//		mgr.GetMiddleware().RequireTourPermission("staff_management.view")(crewHandler))
//
// # Errors
//
// NotFoundError, ValidationError, ForbiddenError and ConflictError match the
// sentinels ErrNotFound, ErrValidation, ErrForbidden and ErrConflict through
// errors.Is. HTTPStatus maps them to 404, 400, 403 and 409; anything else is
// a 500.
package rbac
