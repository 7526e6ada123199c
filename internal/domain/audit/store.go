package audit

import (
	"context"
	"time"
)

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EventStore persists security events.
// Interface owned by domain per hexagonal architecture.
type EventStore interface {
	// Append stores events.
	Append(ctx context.Context, events ...SecurityEvent) error

	// Query returns events matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]SecurityEvent, error)

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for security event queries.
type Filter struct {
	// Type filters by event type (optional).
	Type EventType
	// MinSeverity drops events ranked below it (optional).
	MinSeverity Severity
	// Since drops events older than it (optional).
	Since time.Time
	// Limit is the maximum number of events (default 100, max 1000).
	Limit int
}

// Normalize applies the default and maximum limit.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return f
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e SecurityEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.MinSeverity != "" && e.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
