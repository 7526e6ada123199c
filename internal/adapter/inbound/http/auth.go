package http

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pharmalink/pharmagate/internal/domain/audit"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
	"github.com/pharmalink/pharmagate/internal/domain/gateway"
	"github.com/pharmalink/pharmagate/internal/service"
)

// AuthCookieName is the cookie carrying the session token for browsers.
const AuthCookieName = "auth-token"

// authenticateRequest verifies the bearer token of r, falling back to the
// auth-token cookie when allowCookie is set.
func authenticateRequest(sessions *auth.SessionManager, r *http.Request, allowCookie bool) (*auth.Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return sessions.Authenticate(header)
	}
	if allowCookie {
		if c, err := r.Cookie(AuthCookieName); err == nil && c.Value != "" {
			return sessions.Verify(c.Value)
		}
	}
	return nil, auth.ErrMissingToken
}

// authFailureReason maps a token error to the client-facing detail.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "No authentication token provided"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Authentication token expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid authentication token"
	case errors.Is(err, auth.ErrForbidden):
		return "Insufficient permissions"
	default:
		return "Authentication failed"
	}
}

// RouteGuard wraps individual handlers with authentication and role checks.
type RouteGuard struct {
	sessions *auth.SessionManager
	events   service.EventRecorder
}

// NewRouteGuard creates a RouteGuard. events may be nil.
func NewRouteGuard(sessions *auth.SessionManager, events service.EventRecorder) *RouteGuard {
	return &RouteGuard{sessions: sessions, events: events}
}

// RequireAuth runs next only for a valid bearer token whose role is one of
// roles. No roles means any authenticated user. The auth-token cookie is not
// accepted here. Failures answer 401.
func (g *RouteGuard) RequireAuth(next http.Handler, roles ...auth.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := PrincipalFromContext(r.Context()); p != nil {
			if len(roles) == 0 || p.HasAnyRole(roles...) {
				next.ServeHTTP(w, r)
				return
			}
		}

		claims, err := authenticateRequest(g.sessions, r, false)
		if err == nil && len(roles) > 0 {
			err = auth.AuthorizeRole(&claims.Principal, roles...)
		}
		if err != nil {
			g.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, withPrincipal(r, &claims.Principal))
	})
}

// RequireAdmin allows admins only.
func (g *RouteGuard) RequireAdmin(next http.Handler) http.Handler {
	return g.RequireAuth(next, auth.AdminRoles...)
}

// RequirePharmacy allows pharmacies and admins.
func (g *RouteGuard) RequirePharmacy(next http.Handler) http.Handler {
	return g.RequireAuth(next, auth.PharmacyRoles...)
}

// RequirePatient allows patients and admins.
func (g *RouteGuard) RequirePatient(next http.Handler) http.Handler {
	return g.RequireAuth(next, auth.PatientRoles...)
}

// PrincipalFromRequest returns the principal of r's token or cookie, or nil
// when there is none or it does not verify.
func (g *RouteGuard) PrincipalFromRequest(r *http.Request) *auth.Principal {
	if p := PrincipalFromContext(r.Context()); p != nil {
		return p
	}
	claims, err := authenticateRequest(g.sessions, r, true)
	if err != nil {
		return nil
	}
	return &claims.Principal
}

func (g *RouteGuard) fail(w http.ResponseWriter, r *http.Request, err error) {
	rej := gateway.Unauthenticated(authFailureReason(err))
	if errors.Is(err, auth.ErrForbidden) {
		rej = gateway.Unauthorized(authFailureReason(err))
	}
	if g.events != nil {
		g.events.Record(audit.SecurityEvent{
			Type:      audit.EventAuthFailure,
			Message:   rej.Error(),
			ClientIP:  requestClientID(r),
			UserAgent: r.UserAgent(),
			Method:    r.Method,
			Path:      r.URL.Path,
		})
	}
	writeRejection(w, rej)
}
