// Package config provides configuration types for the pharmagate gateway.
//
// Configuration is file based (pharmagate.yaml) with environment overrides.
// Durations are strings parsed with time.ParseDuration ("15m", "500ms").
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

// Server modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream is the marketplace application the gateway protects.
	// Optional: without it, unmatched routes answer 404.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// RateLimit configures the tiered sliding-window limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Security configures request validation.
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// Auth configures tokens, users and protected routes.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Audit configures the security event pipeline.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures OpenTelemetry.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode forces debug logging and fills a development secret.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error. DevMode overrides to debug.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Mode is development or production. Production enables the HTTPS
	// redirect and HSTS.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=development production"`

	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`

	// TLSCertFile and TLSKeyFile enable HTTPS on the listener itself.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// UpstreamConfig configures the reverse-proxy target.
type UpstreamConfig struct {
	// URL of the marketplace application (e.g., "http://localhost:3000").
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// Timeout bounds the wait for upstream response headers. Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Backend is memory (single instance) or redis (shared).
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=memory redis"`

	// CleanupInterval is how often idle memory records are purged. Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	Auth        TierConfig `yaml:"auth" mapstructure:"auth"`
	Strict      TierConfig `yaml:"strict" mapstructure:"strict"`
	API         TierConfig `yaml:"api" mapstructure:"api"`
	FailedLogin TierConfig `yaml:"failed_login" mapstructure:"failed_login"`
}

// RedisConfig addresses the shared rate-limit store.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`
}

// TierConfig overrides one tier's policy. Zero fields keep the standard value.
type TierConfig struct {
	Window      string `yaml:"window" mapstructure:"window" validate:"omitempty,duration"`
	MaxRequests int    `yaml:"max_requests" mapstructure:"max_requests" validate:"omitempty,min=1"`
	Message     string `yaml:"message" mapstructure:"message"`
}

// SecurityConfig configures request validation.
type SecurityConfig struct {
	// MaxPayloadBytes is the request size ceiling on API routes. Defaults to 10 MiB.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes" validate:"omitempty,min=1"`

	// InspectJSON scans JSON request bodies before forwarding them.
	InspectJSON bool `yaml:"inspect_json" mapstructure:"inspect_json"`

	// MaxJSONDepth bounds nesting of inspected bodies. Defaults to 10.
	MaxJSONDepth int `yaml:"max_json_depth" mapstructure:"max_json_depth" validate:"omitempty,min=1"`

	// HTMLSanitizer is policy (bluemonday) or escape.
	HTMLSanitizer string `yaml:"html_sanitizer" mapstructure:"html_sanitizer" validate:"required,oneof=policy escape"`

	// SignaturesFile replaces the embedded threat signatures.
	SignaturesFile string `yaml:"signatures_file" mapstructure:"signatures_file" validate:"omitempty,file"`
}

// AuthConfig configures session tokens and the user directory.
type AuthConfig struct {
	// JWTSecret signs session tokens. Production requires at least 32 bytes.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret" validate:"required"`

	// TokenTTL is the session lifetime. Defaults to "24h".
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"omitempty,duration"`
	Issuer   string `yaml:"issuer" mapstructure:"issuer"`
	Audience string `yaml:"audience" mapstructure:"audience"`

	// Users seeds the in-memory user directory.
	Users []UserConfig `yaml:"users" mapstructure:"users" validate:"omitempty,dive"`

	// ProtectedRoutes require a token at the gatekeeper.
	ProtectedRoutes []ProtectedRouteConfig `yaml:"protected_routes" mapstructure:"protected_routes" validate:"omitempty,dive"`
}

// UserConfig defines one account.
type UserConfig struct {
	ID    string `yaml:"id" mapstructure:"id" validate:"required"`
	Email string `yaml:"email" mapstructure:"email" validate:"required,email"`
	Role  string `yaml:"role" mapstructure:"role" validate:"required,role"`

	// PasswordHash is an Argon2id PHC string. Generate with
	// "pharmagate hash-password".
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash" validate:"required,argon2id"`

	PatientID  string `yaml:"patient_id" mapstructure:"patient_id"`
	PharmacyID string `yaml:"pharmacy_id" mapstructure:"pharmacy_id"`
	Disabled   bool   `yaml:"disabled" mapstructure:"disabled"`
}

// ProtectedRouteConfig requires one of Roles under Prefix.
type ProtectedRouteConfig struct {
	Prefix string   `yaml:"prefix" mapstructure:"prefix" validate:"required,startswith=/"`
	Roles  []string `yaml:"roles" mapstructure:"roles" validate:"omitempty,dive,role"`
}

// AuditConfig configures the security event pipeline.
type AuditConfig struct {
	// Output is "memory" or "sqlite:///absolute/path/events.db".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer between request goroutines and the writer.
	// Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of events written together. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval bounds how long an event waits in a partial batch.
	// Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long Record blocks on a full channel before
	// dropping. "0" drops immediately. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// BufferSize is the capacity of the memory ring buffer. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// Retention is how long sqlite events are kept. Defaults to "720h".
	Retention string `yaml:"retention" mapstructure:"retention" validate:"omitempty,duration"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	// Enabled exports spans to stdout.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// devSecret signs tokens in dev mode when no secret is configured.
const devSecret = "pharmagate-development-secret-do-not-use"

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = devSecret
	}
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = ModeDevelopment
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}

	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}

	// Rate limiting is on unless explicitly disabled in YAML/env.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}

	if c.Security.MaxPayloadBytes == 0 {
		c.Security.MaxPayloadBytes = 10 << 20
	}
	if c.Security.MaxJSONDepth == 0 {
		c.Security.MaxJSONDepth = 10
	}
	if c.Security.HTMLSanitizer == "" {
		c.Security.HTMLSanitizer = "policy"
	}

	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "memory"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.Retention == "" {
		c.Audit.Retention = "720h"
	}
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Mode == ModeProduction
}

// Policies returns the standard tier table with configured overrides applied.
func (c *RateLimitConfig) Policies() map[ratelimit.Tier]ratelimit.Policy {
	policies := ratelimit.DefaultPolicies()
	overrides := map[ratelimit.Tier]TierConfig{
		ratelimit.TierAuth:        c.Auth,
		ratelimit.TierStrict:      c.Strict,
		ratelimit.TierAPI:         c.API,
		ratelimit.TierFailedLogin: c.FailedLogin,
	}
	for tier, o := range overrides {
		p := policies[tier]
		if d := Duration(o.Window); d > 0 {
			p.Window = d
		}
		if o.MaxRequests > 0 {
			p.MaxRequests = o.MaxRequests
		}
		if o.Message != "" {
			p.Message = o.Message
		}
		policies[tier] = p
	}
	return policies
}

// Duration parses s, returning 0 for empty or malformed values. Fields are
// validated with the duration tag before use.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
