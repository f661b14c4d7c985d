// Package cli implements tourdesk-admin, the operator command line for RBAC.
//
// # Overview
//
// The CLI bypasses the HTTP API and the assignment guard: it opens the RBAC
// database directly and acts as the operator principal "cli:<os user>". Every
// mutation is still written to the audit trail under that principal. It is
// the only way to grant the first super_admin on a fresh installation.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	tourdesk-admin migrate
//
// seed: Provision the permission catalog and system roles
//
//	tourdesk-admin seed
//	tourdesk-admin seed --catalog ./catalog.yaml
//
// roles: Inspect roles
//
//	tourdesk-admin roles list
//	tourdesk-admin roles show tour_manager
//
// assign / revoke: Manage assignments, globally or within a tour
//
//	tourdesk-admin assign u-42 super_admin
//	tourdesk-admin assign u-77 crew_member --tour t-2026-eu
//	tourdesk-admin revoke u-77 crew_member --tour t-2026-eu
//
// check: Evaluate permissions; exits non-zero on denial
//
//	tourdesk-admin check u-77 event_management.view --tour t-2026-eu
//	tourdesk-admin check u-77 tour_management.edit tour_management.delete --all
//
// audit: Read the audit trail
//
//	tourdesk-admin audit --principal u-77 --limit 20
//
// # Configuration
//
// The database comes from the same environment as the server:
//
//	export TOURDESK_DB_DRIVER=postgres
//	export TOURDESK_DB_DSN="postgres://tourdesk@localhost/tourdesk?sslmode=disable"
//	# Or use --driver / --dsn
//
// TOURDESK_CATALOG_FILE sets the default for seed --catalog.
package cli
