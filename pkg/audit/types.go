package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role catalog events
	EventTypeRoleCreate EventType = "rbac.role_create"
	EventTypeRoleUpdate EventType = "rbac.role_update"
	EventTypeRoleDelete EventType = "rbac.role_delete"

	// Assignment events
	EventTypeRoleAssign EventType = "rbac.role_assign"
	EventTypeRoleRevoke EventType = "rbac.role_revoke"

	// Catalog provisioning
	EventTypeCatalogSeed EventType = "rbac.catalog_seed"

	// Authorization decisions
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"
	EventTypeAuthzPermissionCheck EventType = "authz.permission_check"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeAssignment ResourceType = "role_assignment"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeCatalog    ResourceType = "catalog"
)

// AuditEvent represents a single audit entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID is the principal that performed the action
	ActorID string `json:"actor_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	// SubjectID is the principal affected by an assignment change
	SubjectID   string  `json:"subject_id,omitempty"`
	ScopeTourID *string `json:"scope_tour_id,omitempty"`

	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Changes      *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}
