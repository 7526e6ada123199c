package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pharmalink/pharmagate/internal/domain/auth"
)

// MinProductionSecretBytes is the shortest JWT secret accepted in production.
const MinProductionSecretBytes = 32

const sqlitePrefix = "sqlite://"

// RegisterCustomValidators registers the gateway's validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"duration":     validateDuration,
		"role":         validateRole,
		"argon2id":     validatePasswordHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput accepts "memory" or "sqlite://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "memory" {
		return true
	}
	if path, ok := strings.CutPrefix(output, sqlitePrefix); ok {
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateRole(fl validator.FieldLevel) bool {
	return auth.Role(fl.Field().String()).IsValid()
}

func validatePasswordHash(fl validator.FieldLevel) bool {
	return auth.IsPasswordHash(fl.Field().String())
}

// SQLitePath returns the database path of a sqlite audit output.
func (c *AuditConfig) SQLitePath() (string, bool) {
	return strings.CutPrefix(c.Output, sqlitePrefix)
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateProductionSecret(); err != nil {
		return err
	}
	if err := c.validateRedisBackend(); err != nil {
		return err
	}
	if err := c.validateUniqueUsers(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProductionSecret() error {
	if c.IsProduction() && len(c.Auth.JWTSecret) < MinProductionSecretBytes {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes in production", MinProductionSecretBytes)
	}
	return nil
}

func (c *Config) validateRedisBackend() error {
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		return errors.New("rate_limit.redis.addr is required when backend is redis")
	}
	return nil
}

// validateUniqueUsers ensures user IDs and emails identify one account each.
func (c *Config) validateUniqueUsers() error {
	ids := make(map[string]struct{}, len(c.Auth.Users))
	emails := make(map[string]struct{}, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if _, dup := ids[u.ID]; dup {
			return fmt.Errorf("auth.users[%d]: duplicate id: %s", i, u.ID)
		}
		ids[u.ID] = struct{}{}

		email := strings.ToLower(strings.TrimSpace(u.Email))
		if _, dup := emails[email]; dup {
			return fmt.Errorf("auth.users[%d]: duplicate email: %s", i, u.Email)
		}
		emails[email] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"30s\" or \"15m\"", field)
	case "role":
		return fmt.Sprintf("%s must be one of: patient pharmacy admin", field)
	case "argon2id":
		return fmt.Sprintf("%s must be an argon2id hash (see 'pharmagate hash-password')", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'memory' or 'sqlite://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
