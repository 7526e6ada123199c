// Package audit contains domain types for security event logging.
package audit

import "time"

// EventType classifies a security event.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailure       EventType = "login_failure"
	EventRateLimit          EventType = "rate_limit"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventAccountLocked      EventType = "account_locked"
	EventAuthFailure        EventType = "auth_failure"
	EventValidationFailure  EventType = "validation_failure"
)

// IsValid returns true for known event types.
func (t EventType) IsValid() bool {
	switch t {
	case EventLoginSuccess, EventLoginFailure, EventRateLimit, EventSuspiciousActivity,
		EventAccountLocked, EventAuthFailure, EventValidationFailure:
		return true
	default:
		return false
	}
}

// Severity grades how urgently an event needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical); unknown is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// DefaultSeverity returns the usual severity of an event type.
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventLoginSuccess:
		return SeverityLow
	case EventRateLimit, EventLoginFailure, EventValidationFailure, EventAuthFailure:
		return SeverityMedium
	case EventSuspiciousActivity:
		return SeverityHigh
	case EventAccountLocked:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// SecurityEvent records one security-relevant outcome.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	ClientIP  string    `json:"clientIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
