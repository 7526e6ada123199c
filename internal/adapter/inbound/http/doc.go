// Package http is the inbound HTTP adapter of the gateway.
//
// Every request passes through the Gatekeeper before reaching a handler:
//
//  1. Protocol - in production, plain HTTP is redirected (307) to https
//  2. Headers - defensive response headers and the content security policy
//  3. Rate limit - the Classifier picks a tier, the tier's Limiter decides
//  4. Validation - API routes are checked for size, content type and user agent,
//     and JSON bodies for depth and injection signatures when enabled
//  5. Auth - protected route prefixes require a token with an allowed role
//  6. Forward - the local API handlers, or the upstream application
//
// Any stage may end the request with a JSON rejection:
//
//	{"success": false, "error": "...", "details": "...", "retryAfter": 12}
//
// # Endpoints
//
//	POST /api/auth/login              - exchange email/password for a token
//	GET  /api/auth/verify             - check a bearer token or auth-token cookie
//	POST /api/auth/refresh            - reissue a valid token with a fresh expiry
//	GET  /api/admin/security/events   - recent security events (admin)
//	GET  /api/admin/security/stats    - limiter and event statistics (admin)
//	POST /api/admin/security/ratelimit/reset - clear a client's buckets (admin)
//	GET  /health                      - component checks
//	GET  /metrics                     - Prometheus metrics
//
// Everything else is forwarded to the configured upstream.
package http
