package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pharmalink/pharmagate/internal/ctxkey"
	"github.com/pharmalink/pharmagate/internal/domain/audit"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
	"github.com/pharmalink/pharmagate/internal/domain/gateway"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
	"github.com/pharmalink/pharmagate/internal/domain/validation"
	"github.com/pharmalink/pharmagate/internal/service"
)

// DefaultMaxPayloadBytes is the request size ceiling on API routes.
const DefaultMaxPayloadBytes = 10 << 20

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' 'unsafe-eval'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https: blob:; " +
	"font-src 'self' data:; " +
	"connect-src 'self' https: wss:; " +
	"media-src 'self'; " +
	"object-src 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'; " +
	"frame-ancestors 'none'"

const tracerName = "github.com/pharmalink/pharmagate/internal/adapter/inbound/http"

// ProtectedRoute requires a token with one of Roles for paths under Prefix.
// Empty Roles accepts any authenticated principal.
type ProtectedRoute struct {
	Prefix string
	Roles  []auth.Role
}

// GatekeeperConfig wires the Gatekeeper stages.
type GatekeeperConfig struct {
	// Production enables the HTTPS redirect and HSTS.
	Production bool

	// Classifier and Limiters drive the rate-limit stage. Nil Limiters
	// disables it.
	Classifier *ratelimit.Classifier
	Limiters   map[ratelimit.Tier]*ratelimit.Limiter

	// Validator checks user agents on API routes. Required.
	Validator *validation.Validator
	// MaxPayloadBytes defaults to DefaultMaxPayloadBytes.
	MaxPayloadBytes int64
	// InspectJSON scans JSON bodies on API routes for depth and injection
	// signatures before forwarding.
	InspectJSON  bool
	MaxJSONDepth int

	// Sessions verifies tokens on ProtectedRoutes.
	Sessions        *auth.SessionManager
	ProtectedRoutes []ProtectedRoute

	Events  service.EventRecorder
	Metrics *Metrics
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Gatekeeper runs the security stages in front of every handler.
type Gatekeeper struct {
	cfg GatekeeperConfig
}

// NewGatekeeper validates cfg and fills defaults.
func NewGatekeeper(cfg GatekeeperConfig) (*Gatekeeper, error) {
	if cfg.Validator == nil {
		return nil, errors.New("gatekeeper requires a validator")
	}
	if len(cfg.ProtectedRoutes) > 0 && cfg.Sessions == nil {
		return nil, errors.New("protected routes require a session manager")
	}
	if cfg.Limiters != nil && cfg.Classifier == nil {
		cfg.Classifier = ratelimit.DefaultClassifier()
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Gatekeeper{cfg: cfg}, nil
}

// Middleware returns next wrapped by the gatekeeper stages.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := g.cfg.Tracer.Start(r.Context(), "gatekeeper",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		if g.cfg.Production && !isHTTPS(r) {
			span.SetAttributes(attribute.String("gatekeeper.outcome", "redirect"))
			http.Redirect(w, r, httpsURL(r), http.StatusTemporaryRedirect)
			return
		}

		g.setSecurityHeaders(w.Header())

		id := ClientIdentifier(r)
		ctx = context.WithValue(ctx, ctxkey.ClientIDKey{}, id)
		r = r.WithContext(ctx)

		tier, rej := g.checkRateLimit(w, r, id)
		span.SetAttributes(attribute.String("gatekeeper.tier", tierLabel(tier)))
		if rej != nil {
			g.reject(w, r, span, rej, audit.EventRateLimit)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			if rej := g.validateRequest(r); rej != nil {
				event := audit.EventValidationFailure
				if rej.Kind == gateway.KindSuspiciousRequest {
					event = audit.EventSuspiciousActivity
				}
				g.reject(w, r, span, rej, event)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, g.cfg.MaxPayloadBytes)
			if g.cfg.InspectJSON {
				if rej := g.inspectBody(r); rej != nil {
					g.reject(w, r, span, rej, audit.EventValidationFailure)
					return
				}
			}
		}

		if route, ok := g.protectedRoute(r.URL.Path); ok {
			principal, rej := g.authorize(r, route)
			if rej != nil {
				g.reject(w, r, span, rej, audit.EventAuthFailure)
				return
			}
			r = withPrincipal(r, principal)
			span.SetAttributes(attribute.String("enduser.role", string(principal.Role)))
		}

		span.SetAttributes(attribute.String("gatekeeper.outcome", "forwarded"))
		next.ServeHTTP(w, r)
	})
}

func (g *Gatekeeper) setSecurityHeaders(h http.Header) {
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(self)")
	h.Set("Content-Security-Policy", contentSecurityPolicy)
	if g.cfg.Production {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

// checkRateLimit applies the tier of r. Store failures let the request
// through.
func (g *Gatekeeper) checkRateLimit(w http.ResponseWriter, r *http.Request, id string) (ratelimit.Tier, *gateway.Rejection) {
	if g.cfg.Limiters == nil {
		return ratelimit.TierNone, nil
	}
	tier := g.cfg.Classifier.Classify(r.URL.Path, r.Method)
	limiter, ok := g.cfg.Limiters[tier]
	if tier == ratelimit.TierNone || !ok {
		return tier, nil
	}

	logger := LoggerFromContext(r.Context())
	if id == UnknownClient {
		logger.Debug("rate limiting request without client address", "tier", tier, "path", r.URL.Path)
	}

	d, err := limiter.Allow(r.Context(), id)
	if err != nil {
		logger.Error("rate limit check failed, allowing request", "tier", tier, "error", err)
		g.countDecision(tier, "error")
		return tier, nil
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		g.countDecision(tier, "denied")
		return tier, gateway.RateLimited(limiter.Policy().Message, d.RetryAfter)
	}
	g.countDecision(tier, "allowed")
	return tier, nil
}

func (g *Gatekeeper) validateRequest(r *http.Request) *gateway.Rejection {
	if r.ContentLength > g.cfg.MaxPayloadBytes {
		return gateway.PayloadTooLarge()
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
			return gateway.InvalidContentType()
		}
	}
	if g.cfg.Validator.IsSuspiciousUserAgent(r.Header.Get("User-Agent")) {
		return gateway.Suspicious()
	}
	return nil
}

// inspectBody validates a JSON body and leaves r.Body readable again.
func (g *Gatekeeper) inspectBody(r *http.Request) *gateway.Rejection {
	if r.Body == nil || r.Body == http.NoBody || !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return gateway.PayloadTooLarge()
		}
		return gateway.Invalid("Invalid request data", "Unreadable request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(data) == 0 {
		return nil
	}
	if res := g.cfg.Validator.ValidateJSON(data, g.cfg.MaxJSONDepth); !res.IsValid {
		return gateway.Invalid("Invalid request data", strings.Join(res.Errors, "; "))
	}
	return nil
}

func (g *Gatekeeper) protectedRoute(path string) (ProtectedRoute, bool) {
	for _, route := range g.cfg.ProtectedRoutes {
		if strings.HasPrefix(path, route.Prefix) {
			return route, true
		}
	}
	return ProtectedRoute{}, false
}

func (g *Gatekeeper) authorize(r *http.Request, route ProtectedRoute) (*auth.Principal, *gateway.Rejection) {
	claims, err := authenticateRequest(g.cfg.Sessions, r, false)
	if err != nil {
		return nil, gateway.Unauthenticated(authFailureReason(err))
	}
	if len(route.Roles) > 0 {
		if err := auth.AuthorizeRole(&claims.Principal, route.Roles...); err != nil {
			return nil, gateway.Unauthorized(authFailureReason(err))
		}
	}
	return &claims.Principal, nil
}

// reject records rej everywhere it is observed and writes the response.
func (g *Gatekeeper) reject(w http.ResponseWriter, r *http.Request, span trace.Span, rej *gateway.Rejection, event audit.EventType) {
	span.SetAttributes(
		attribute.String("gatekeeper.outcome", "rejected"),
		attribute.String("gatekeeper.rejection", string(rej.Kind)),
	)
	span.SetStatus(codes.Error, rej.Message)

	if g.cfg.Metrics != nil {
		g.cfg.Metrics.Rejections.WithLabelValues(string(rej.Kind)).Inc()
	}
	if g.cfg.Events != nil {
		g.cfg.Events.Record(audit.SecurityEvent{
			Type:      event,
			Message:   rej.Error(),
			ClientIP:  requestClientID(r),
			UserAgent: r.UserAgent(),
			Method:    r.Method,
			Path:      r.URL.Path,
		})
	}
	LoggerFromContext(r.Context()).Info("request rejected",
		"kind", rej.Kind,
		"path", r.URL.Path,
		"client", requestClientID(r),
	)
	writeRejection(w, rej)
}

func (g *Gatekeeper) countDecision(tier ratelimit.Tier, result string) {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.RateLimitDecisions.WithLabelValues(string(tier), result).Inc()
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func httpsURL(r *http.Request) string {
	return fmt.Sprintf("https://%s%s", r.Host, r.URL.RequestURI())
}

func tierLabel(t ratelimit.Tier) string {
	if t == ratelimit.TierNone {
		return "none"
	}
	return string(t)
}
