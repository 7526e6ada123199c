// Package ratelimit provides sliding-window rate limiting domain types.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Tier names a class of routes that share one rate-limit policy.
type Tier string

const (
	// TierNone means the route is not rate limited.
	TierNone Tier = ""

	// TierAuth covers authentication endpoints.
	TierAuth Tier = "auth"

	// TierStrict covers sensitive operations (admin, payment, prescription).
	TierStrict Tier = "strict"

	// TierAPI covers every other API route.
	TierAPI Tier = "api"

	// TierFailedLogin counts failed login attempts per account.
	TierFailedLogin Tier = "failed_login"
)

// Policy is the immutable configuration of one tier.
type Policy struct {
	// Window is the length of the sliding window.
	Window time.Duration

	// MaxRequests is the number of requests admitted inside any window.
	MaxRequests int

	// Message is the client-facing text returned on rejection.
	Message string
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	if p.MaxRequests < 1 {
		return errors.New("max requests must be at least 1")
	}
	return nil
}

// DefaultPolicies returns the standard tier table.
func DefaultPolicies() map[Tier]Policy {
	return map[Tier]Policy{
		TierAuth: {
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Message:     "Too many authentication attempts",
		},
		TierStrict: {
			Window:      time.Minute,
			MaxRequests: 10,
			Message:     "Rate limit exceeded for sensitive operation",
		},
		TierAPI: {
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Message:     "API rate limit exceeded",
		},
		TierFailedLogin: {
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Message:     "Too many failed login attempts",
		},
	}
}

// Window is a store's view of one key after a decision or a peek.
type Window struct {
	// Allowed is set by Acquire when the request was recorded.
	Allowed bool

	// Count is the number of timestamps inside the window.
	Count int

	// Oldest is the earliest timestamp inside the window, zero when empty.
	Oldest time.Time
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool

	// Limit is the tier's MaxRequests.
	Limit int

	// Remaining is the number of requests still admitted in the window.
	Remaining int

	// RetryAfter is the number of whole seconds until a slot frees up.
	// Zero when a request would be admitted now.
	RetryAfter int

	// ResetAt is when the current window state expires.
	ResetAt time.Time
}

// Stats summarises the records held for one tier.
type Stats struct {
	TotalClients   int `json:"totalClients"`
	TotalRequests  int `json:"totalRequests"`
	BlockedClients int `json:"blockedClients"`
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns the store key for an identifier within a tier.
// Format: "ratelimit:{tier}:{identifier}"
// Examples:
//   - FormatKey(TierAuth, "10.0.0.1") -> "ratelimit:auth:10.0.0.1"
//   - FormatKey(TierFailedLogin, "failed_a@b.cm") -> "ratelimit:failed_login:failed_a@b.cm"
func FormatKey(tier Tier, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, tier, identifier)
}

// TierPrefix returns the key prefix shared by every identifier of a tier.
func TierPrefix(tier Tier) string {
	return fmt.Sprintf("%s:%s:", keyPrefix, tier)
}

// retryAfterSeconds is the ceiling of the time until oldest leaves the window.
func retryAfterSeconds(window time.Duration, now, oldest time.Time) int {
	if oldest.IsZero() {
		return 0
	}
	wait := window - now.Sub(oldest)
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}
