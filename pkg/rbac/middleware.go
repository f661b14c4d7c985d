package rbac

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tourdesk/pkg/httputil"
	"github.com/platinummonkey/tourdesk/pkg/middleware"
	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// TourIDVar is the route variable RequireTourPermission scopes on
const TourIDVar = "tour_id"

// PermissionMiddleware gates handlers on the authorization engine.
// Anonymous requests get 401; a denial or a failed check gets 403.
type PermissionMiddleware struct {
	engine *Engine
	logger *observability.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(engine *Engine, logger *observability.Logger) *PermissionMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PermissionMiddleware{engine: engine, logger: logger}
}

// RequirePermission requires key through a global assignment
func (pm *PermissionMiddleware) RequirePermission(key string) func(http.Handler) http.Handler {
	return pm.require(func(set PermissionSet) bool { return set.Has(key) }, noScope, key)
}

// RequireAny requires at least one of keys through a global assignment
func (pm *PermissionMiddleware) RequireAny(keys ...string) func(http.Handler) http.Handler {
	return pm.require(func(set PermissionSet) bool { return set.HasAny(keys...) }, noScope, keys...)
}

// RequireAll requires every one of keys through a global assignment
func (pm *PermissionMiddleware) RequireAll(keys ...string) func(http.Handler) http.Handler {
	return pm.require(func(set PermissionSet) bool { return set.HasAll(keys...) }, noScope, keys...)
}

// RequireTourPermission requires key within the tour named by the {tour_id} route variable
func (pm *PermissionMiddleware) RequireTourPermission(key string) func(http.Handler) http.Handler {
	return pm.require(func(set PermissionSet) bool { return set.Has(key) }, routeScope, key)
}

// Prefetch loads the caller's set for the route's tour (or globally) into the
// request context, so handlers filtering lists can call PermissionSetFromContext
// instead of querying per item. Anonymous requests pass through with no set.
func (pm *PermissionMiddleware) Prefetch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := middleware.PrincipalID(r)
		if principal == "" {
			next.ServeHTTP(w, r)
			return
		}

		set, err := pm.engine.Prefetch(r.Context(), principal, routeScope(r))
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("permission prefetch failed")
			httputil.WriteForbidden(w, "permission check failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPermissionSet(r.Context(), set)))
	})
}

func (pm *PermissionMiddleware) require(match func(PermissionSet) bool, scopeOf func(*http.Request) *string, keys ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.PrincipalID(r)
			if principal == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			set, err := pm.engine.EffectivePermissions(r.Context(), principal, scopeOf(r))
			if err != nil {
				pm.logger.WithError(err).WithField("principal", principal).Error("permission check failed")
				httputil.WriteForbidden(w, "permission check failed")
				return
			}
			if !match(set) {
				pm.logger.WithFields(map[string]interface{}{
					"principal":   principal,
					"permissions": strings.Join(keys, ","),
					"path":        r.URL.Path,
				}).Debug("request denied")
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPermissionSet(r.Context(), set)))
		})
	}
}

func noScope(*http.Request) *string { return nil }

// routeScope returns the tour route variable, or the tour_id query parameter
func routeScope(r *http.Request) *string {
	if id := mux.Vars(r)[TourIDVar]; id != "" {
		return &id
	}
	return normalizeScope(httputil.OptionalQueryString(r, TourIDVar))
}
