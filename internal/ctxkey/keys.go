// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// PrincipalKey is the context key type for the authenticated principal.
type PrincipalKey struct{}

// ClientIDKey is the context key type for the rate-limit identifier of the caller.
type ClientIDKey struct{}
