package auth

import "strings"

// PrincipalKind distinguishes how a principal reached the service
type PrincipalKind string

const (
	PrincipalUser     PrincipalKind = "user"     // Human user resolved by the auth layer
	PrincipalService  PrincipalKind = "service"  // Service account
	PrincipalOperator PrincipalKind = "operator" // Operator CLI acting directly on the store
)

// AuthContext holds the resolved identity of the caller for a request
type AuthContext struct {
	PrincipalID string        `json:"principal_id"`
	Kind        PrincipalKind `json:"kind"`
	DisplayName string        `json:"display_name,omitempty"`
}

// NewAuthContext builds an AuthContext for the given principal id
func NewAuthContext(principalID string, kind PrincipalKind) *AuthContext {
	if kind == "" {
		kind = PrincipalUser
	}
	return &AuthContext{
		PrincipalID: strings.TrimSpace(principalID),
		Kind:        kind,
	}
}

// IsAuthenticated reports whether a principal id is present
func (a *AuthContext) IsAuthenticated() bool {
	return a != nil && a.PrincipalID != ""
}

// OperatorPrincipal returns the actor id used for operator CLI mutations
func OperatorPrincipal(username string) string {
	if username == "" {
		username = "unknown"
	}
	return "cli:" + username
}
