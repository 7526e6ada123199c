package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pharmalink/pharmagate/internal/domain/audit"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
	"github.com/pharmalink/pharmagate/internal/service"
)

// APIHandler serves the gateway's own endpoints.
type APIHandler struct {
	login      *service.LoginService
	sessions   *auth.SessionManager
	users      auth.UserStore
	guard      *RouteGuard
	events     *service.EventService
	limiters   map[ratelimit.Tier]*ratelimit.Limiter
	metrics    *Metrics
	production bool
	logger     *slog.Logger
	now        func() time.Time
}

// APIHandlerConfig holds the collaborators of APIHandler.
type APIHandlerConfig struct {
	Login      *service.LoginService
	Sessions   *auth.SessionManager
	Users      auth.UserStore
	Events     *service.EventService
	Limiters   map[ratelimit.Tier]*ratelimit.Limiter
	Metrics    *Metrics
	Production bool
	Logger     *slog.Logger
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(cfg APIHandlerConfig) *APIHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var recorder service.EventRecorder
	if cfg.Events != nil {
		recorder = cfg.Events
	}
	return &APIHandler{
		login:      cfg.Login,
		sessions:   cfg.Sessions,
		users:      cfg.Users,
		guard:      NewRouteGuard(cfg.Sessions, recorder),
		events:     cfg.Events,
		limiters:   cfg.Limiters,
		metrics:    cfg.Metrics,
		production: cfg.Production,
		logger:     logger,
		now:        time.Now,
	}
}

// Register adds the API routes to mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.Handle("/api/auth/login", allowMethods(http.HandlerFunc(h.handleLogin), http.MethodPost))
	mux.Handle("/api/auth/verify", allowMethods(http.HandlerFunc(h.handleVerify), http.MethodGet))
	mux.Handle("/api/auth/refresh", allowMethods(http.HandlerFunc(h.handleRefresh), http.MethodPost))
	mux.Handle("/api/admin/security/events",
		allowMethods(h.guard.RequireAdmin(http.HandlerFunc(h.handleEvents)), http.MethodGet))
	mux.Handle("/api/admin/security/stats",
		allowMethods(h.guard.RequireAdmin(http.HandlerFunc(h.handleStats)), http.MethodGet))
	mux.Handle("/api/admin/security/ratelimit/reset",
		allowMethods(h.guard.RequireAdmin(http.HandlerFunc(h.handleRateLimitReset)), http.MethodPost))
}

func allowMethods(next http.Handler, methods ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range methods {
			if r.Method == m {
				next.ServeHTTP(w, r)
				return
			}
		}
		for _, m := range methods {
			w.Header().Add("Allow", m)
		}
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	User      auth.Principal `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type credentialsResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	AttemptsRemaining int    `json:"attemptsRemaining"`
}

func (h *APIHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	res, err := h.login.Login(r.Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		ClientIP:  requestClientID(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.loginFailed(w, r, err)
		return
	}

	h.countLogin("success")
	h.setAuthCookie(w, res.Token)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Message:   "Login successful",
		User:      res.User,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *APIHandler) loginFailed(w http.ResponseWriter, r *http.Request, err error) {
	var (
		inputErr  *service.InvalidInputError
		lockedErr *service.LockedError
		credErr   *service.CredentialsError
	)
	switch {
	case errors.As(err, &inputErr):
		h.countLogin("invalid")
		body := errorResponse{Error: inputErr.Message}
		if len(inputErr.Details) > 0 {
			body.Details = inputErr.Details
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &lockedErr):
		h.countLogin("locked")
		w.Header().Set("Retry-After", strconv.Itoa(lockedErr.RetryAfter))
		writeJSON(w, http.StatusLocked, errorResponse{
			Error:      "Account temporarily locked due to multiple failed login attempts",
			RetryAfter: lockedErr.RetryAfter,
		})
	case errors.As(err, &credErr):
		h.countLogin("invalid")
		writeJSON(w, http.StatusUnauthorized, credentialsResponse{
			Error:             "Invalid email or password",
			AttemptsRemaining: credErr.AttemptsRemaining,
		})
	default:
		h.countLogin("error")
		LoggerFromContext(r.Context()).Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type verifyResponse struct {
	Success    bool           `json:"success"`
	User       auth.Principal `json:"user"`
	TokenValid bool           `json:"tokenValid"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}

func (h *APIHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims, err := authenticateRequest(h.sessions, r, true)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authFailureReason(err))
		return
	}

	if h.users != nil {
		user, err := h.users.GetUser(r.Context(), claims.UserID)
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
			return
		case err != nil:
			LoggerFromContext(r.Context()).Error("user lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		case user.Disabled:
			writeError(w, http.StatusUnauthorized, "User account is not active")
			return
		}
	}

	resp := verifyResponse{Success: true, User: claims.Principal, TokenValid: true}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *APIHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, authFailureReason(err))
		return
	}
	issuedAt := h.now()
	fresh, err := h.sessions.Refresh(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authFailureReason(err))
		return
	}
	h.setAuthCookie(w, fresh)
	writeJSON(w, http.StatusOK, refreshResponse{
		Success:   true,
		Token:     fresh,
		ExpiresAt: issuedAt.Add(h.sessions.TTL()),
	})
}

func (h *APIHandler) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.sessions.TTL().Seconds()),
	})
}

type eventsResponse struct {
	Success bool                  `json:"success"`
	Events  []audit.SecurityEvent `json:"events"`
}

func (h *APIHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "Security events are not recorded")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Type:        audit.EventType(q.Get("type")),
		MinSeverity: audit.Severity(q.Get("severity")),
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		writeError(w, http.StatusBadRequest, "Invalid event type")
		return
	}
	if filter.MinSeverity != "" && filter.MinSeverity.Rank() == 0 {
		writeError(w, http.StatusBadRequest, "Invalid severity")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since, expected RFC3339")
			return
		}
		filter.Since = since
	}

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		LoggerFromContext(r.Context()).Error("event query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Success: true, Events: events})
}

type eventStats struct {
	Counts       map[audit.EventType]int64 `json:"counts"`
	Dropped      int64                     `json:"dropped"`
	ChannelDepth int                       `json:"channelDepth"`
}

type statsResponse struct {
	Success    bool                               `json:"success"`
	RateLimits map[ratelimit.Tier]ratelimit.Stats `json:"rateLimits"`
	Events     *eventStats                        `json:"events,omitempty"`
}

func (h *APIHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Success: true, RateLimits: make(map[ratelimit.Tier]ratelimit.Stats)}
	for tier, limiter := range h.limiters {
		s, err := limiter.Stats(r.Context())
		if err != nil {
			LoggerFromContext(r.Context()).Error("limiter stats failed", "tier", tier, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		resp.RateLimits[tier] = s
		if h.metrics != nil {
			h.metrics.RateLimitKeys.WithLabelValues(string(tier)).Set(float64(s.TotalClients))
		}
	}
	if h.events != nil {
		resp.Events = &eventStats{
			Counts:       h.events.Counts(),
			Dropped:      h.events.DroppedEvents(),
			ChannelDepth: h.events.ChannelDepth(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type resetRequest struct {
	Tier       ratelimit.Tier `json:"tier"`
	Identifier string         `json:"identifier"`
}

type resetResponse struct {
	Success bool             `json:"success"`
	Reset   []ratelimit.Tier `json:"reset"`
}

// handleRateLimitReset clears one identifier, one tier, or every tier.
func (h *APIHandler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	targets := h.limiters
	if req.Tier != ratelimit.TierNone {
		limiter, ok := h.limiters[req.Tier]
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown rate limit tier")
			return
		}
		targets = map[ratelimit.Tier]*ratelimit.Limiter{req.Tier: limiter}
	}

	resp := resetResponse{Success: true, Reset: []ratelimit.Tier{}}
	for tier, limiter := range targets {
		var err error
		switch {
		case req.Identifier != "" && tier == ratelimit.TierFailedLogin:
			// Failed-login keys are the normalized email behind the guard's prefix.
			email := strings.ToLower(strings.TrimSpace(req.Identifier))
			err = ratelimit.NewLoginGuard(limiter).RecordSuccess(r.Context(), email)
		case req.Identifier != "":
			err = limiter.Reset(r.Context(), req.Identifier)
		default:
			err = limiter.ResetAll(r.Context())
		}
		if err != nil {
			LoggerFromContext(r.Context()).Error("rate limit reset failed", "tier", tier, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		resp.Reset = append(resp.Reset, tier)
	}

	admin := PrincipalFromContext(r.Context())
	if admin != nil {
		LoggerFromContext(r.Context()).Info("rate limits reset",
			"admin", admin.UserID,
			"tier", req.Tier,
			"identifier", req.Identifier,
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) countLogin(result string) {
	if h.metrics != nil {
		h.metrics.Logins.WithLabelValues(result).Inc()
	}
}
