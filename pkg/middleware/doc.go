// Package middleware provides HTTP middleware that establishes who is calling.
//
// Authentication itself happens upstream (gateway or identity proxy). The
// upstream layer forwards the resolved principal id in a trusted header and
// PrincipalMiddleware turns it into an auth.AuthContext on the request:
//
//	pm := middleware.NewPrincipalMiddleware(middleware.PrincipalConfig{Header: "X-Principal-ID"})
//	router.Use(pm.Handler)
//
// Requests without the header continue unauthenticated when Optional is set,
// so permission middleware further down can answer 401 itself.
package middleware
