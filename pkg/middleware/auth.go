package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tourdesk/pkg/auth"
	"github.com/platinummonkey/tourdesk/pkg/contextkeys"
	"github.com/platinummonkey/tourdesk/pkg/httputil"
)

const (
	// DefaultPrincipalHeader is the header the upstream auth layer sets
	DefaultPrincipalHeader = "X-Principal-ID"
	// DefaultPrincipalKindHeader optionally marks service accounts
	DefaultPrincipalKindHeader = "X-Principal-Kind"

	maxPrincipalIDLength = 255
)

// PrincipalConfig configures PrincipalMiddleware
type PrincipalConfig struct {
	Header     string
	KindHeader string
	Optional   bool // If true, allow requests without a principal
}

// PrincipalMiddleware resolves the caller from a trusted upstream header
type PrincipalMiddleware struct {
	header     string
	kindHeader string
	optional   bool
}

// NewPrincipalMiddleware creates a new principal middleware
func NewPrincipalMiddleware(cfg PrincipalConfig) *PrincipalMiddleware {
	if cfg.Header == "" {
		cfg.Header = DefaultPrincipalHeader
	}
	if cfg.KindHeader == "" {
		cfg.KindHeader = DefaultPrincipalKindHeader
	}
	return &PrincipalMiddleware{
		header:     cfg.Header,
		kindHeader: cfg.KindHeader,
		optional:   cfg.Optional,
	}
}

// Handler wraps an HTTP handler with principal resolution
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID := strings.TrimSpace(r.Header.Get(m.header))
		if principalID == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		if len(principalID) > maxPrincipalIDLength || strings.HasPrefix(principalID, "cli:") {
			httputil.WriteUnauthorized(w, "invalid principal")
			return
		}

		kind := auth.PrincipalUser
		if strings.EqualFold(r.Header.Get(m.kindHeader), string(auth.PrincipalService)) {
			kind = auth.PrincipalService
		}

		authCtx := auth.NewAuthContext(principalID, kind)
		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithPrincipalID(ctx, authCtx.PrincipalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// PrincipalID returns the authenticated principal id, or "" when anonymous
func PrincipalID(r *http.Request) string {
	authCtx := GetAuthContext(r)
	if !authCtx.IsAuthenticated() {
		return ""
	}
	return authCtx.PrincipalID
}
