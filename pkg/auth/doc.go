// Package auth defines the boundary between tourdesk and the external
// authentication layer.
//
// tourdesk never authenticates credentials. An upstream gateway or session
// layer resolves the caller and forwards the principal id; the middleware in
// pkg/middleware turns that into an AuthContext on the request context.
package auth
