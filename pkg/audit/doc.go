// Package audit defines the audit event model for authorization changes and
// the sinks events are delivered to.
//
// The authoritative trail of RBAC mutations is the rbac_audit_log table,
// written in the same transaction as each mutation. Events in this package
// are emitted after commit so operators can ship them to their log pipeline:
//
//	sink := audit.NewMultiLogger(audit.NewStructuredLogger(logger))
//	sink.Log(ctx, audit.NewEvent(ctx, audit.EventTypeRoleAssign, audit.EventStatusSuccess))
package audit
