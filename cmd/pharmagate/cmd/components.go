package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pharmalink/pharmagate/internal/adapter/inbound/http"
	"github.com/pharmalink/pharmagate/internal/adapter/outbound/htmlpolicy"
	"github.com/pharmalink/pharmagate/internal/adapter/outbound/memory"
	"github.com/pharmalink/pharmagate/internal/adapter/outbound/redisstore"
	"github.com/pharmalink/pharmagate/internal/adapter/outbound/sqlite"
	"github.com/pharmalink/pharmagate/internal/config"
	"github.com/pharmalink/pharmagate/internal/domain/audit"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
	"github.com/pharmalink/pharmagate/internal/domain/validation"
)

// windowStore is a rate-limit store the health check can ping.
type windowStore interface {
	ratelimit.Store
	http.Pinger
}

// eventStore is a security event store the health check can ping.
type eventStore interface {
	audit.EventStore
	http.Pinger
}

// newLogger builds the stderr text logger.
// DevMode=true forces debug, otherwise the configured log_level applies.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newWindowStore returns the configured rate-limit backend. The cleanup
// function stops background work and releases connections.
func newWindowStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (windowStore, func(), error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		store := redisstore.NewWindowStore(client)
		if err := store.Ping(ctx); err != nil {
			// Limiters fail open, so an unreachable redis is not fatal.
			logger.Warn("redis rate-limit store unreachable", "addr", cfg.RateLimit.Redis.Addr, "error", err)
		}
		logger.Debug("rate-limit store: redis", "addr", cfg.RateLimit.Redis.Addr, "db", cfg.RateLimit.Redis.DB)
		return store, func() { _ = client.Close() }, nil

	default:
		store := memory.NewWindowStoreWithInterval(config.Duration(cfg.RateLimit.CleanupInterval))
		store.StartCleanup(ctx)
		logger.Debug("rate-limit store: memory", "cleanup_interval", cfg.RateLimit.CleanupInterval)
		return store, store.Stop, nil
	}
}

// newLimiters creates one limiter per tier over store.
func newLimiters(cfg *config.Config, store ratelimit.Store, logger *slog.Logger) map[ratelimit.Tier]*ratelimit.Limiter {
	limiters := make(map[ratelimit.Tier]*ratelimit.Limiter)
	for tier, policy := range cfg.RateLimit.Policies() {
		limiters[tier] = ratelimit.NewLimiter(tier, policy, store, ratelimit.WithLogger(logger))
	}
	return limiters
}

// newEventStore opens the configured security event store.
func newEventStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (eventStore, error) {
	if path, ok := cfg.Audit.SQLitePath(); ok {
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event database %s: %w", path, err)
		}
		logger.Debug("event output: sqlite", "path", path)
		return store, nil
	}
	logger.Debug("event output: memory", "buffer_size", cfg.Audit.BufferSize)
	return memory.NewEventStore(cfg.Audit.BufferSize), nil
}

// newValidator builds the request validator with the configured
// signatures and HTML sanitizer.
func newValidator(cfg *config.Config) (*validation.Validator, error) {
	var opts []validation.Option
	if path := cfg.Security.SignaturesFile; path != "" {
		scanner, err := validation.LoadSignatures(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load signatures: %w", err)
		}
		opts = append(opts, validation.WithScanner(scanner))
	}
	switch cfg.Security.HTMLSanitizer {
	case "escape":
		opts = append(opts, validation.WithHTMLSanitizer(validation.EscapeSanitizer{}))
	default:
		opts = append(opts, validation.WithHTMLSanitizer(htmlpolicy.New()))
	}
	return validation.NewValidator(opts...)
}

// newUserStore seeds the in-memory user directory from the config file.
func newUserStore(cfg *config.Config) (*memory.UserStore, error) {
	users := memory.NewUserStore()
	for i, u := range cfg.Auth.Users {
		err := users.AddUser(auth.User{
			ID:           u.ID,
			Email:        u.Email,
			Role:         auth.Role(u.Role),
			PatientID:    u.PatientID,
			PharmacyID:   u.PharmacyID,
			PasswordHash: u.PasswordHash,
			Disabled:     u.Disabled,
		})
		if err != nil {
			return nil, fmt.Errorf("auth.users[%d]: %w", i, err)
		}
	}
	return users, nil
}

// newSessions creates the token manager.
func newSessions(cfg *config.Config) (*auth.SessionManager, error) {
	return auth.NewSessionManager(auth.SessionConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TTL:      config.Duration(cfg.Auth.TokenTTL),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
}

// protectedRoutes converts configured route protection.
func protectedRoutes(cfg *config.Config) []http.ProtectedRoute {
	routes := make([]http.ProtectedRoute, 0, len(cfg.Auth.ProtectedRoutes))
	for _, r := range cfg.Auth.ProtectedRoutes {
		roles := make([]auth.Role, 0, len(r.Roles))
		for _, role := range r.Roles {
			roles = append(roles, auth.Role(role))
		}
		routes = append(routes, http.ProtectedRoute{Prefix: r.Prefix, Roles: roles})
	}
	return routes
}
