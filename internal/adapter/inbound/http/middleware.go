package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pharmalink/pharmagate/internal/ctxkey"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// UnknownClient is the identifier used when no address can be determined.
// All such requests share one rate-limit bucket.
const UnknownClient = "unknown"

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ClientIdentifier returns the rate-limit identifier of the caller.
//
// Order: first hop of X-Forwarded-For, X-Real-IP, CF-Connecting-IP, the host
// of the transport address, then UnknownClient.
func ClientIdentifier(r *http.Request) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}
	return UnknownClient
}

// requestClientID prefers the identifier stored by the Gatekeeper.
func requestClientID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxkey.ClientIDKey{}).(string); ok {
		return id
	}
	return ClientIdentifier(r)
}

// PrincipalFromContext returns the principal authenticated by the
// Gatekeeper or RequireAuth, or nil.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(ctxkey.PrincipalKey{}).(*auth.Principal)
	return p
}

func withPrincipal(r *http.Request, p *auth.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxkey.PrincipalKey{}, p))
}
