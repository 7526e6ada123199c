// Package gateway defines the terminal outcomes of the request pipeline.
package gateway

import (
	"errors"
	"net/http"
)

// Kind classifies why a request was rejected.
type Kind string

const (
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindInvalidContentType Kind = "invalid_content_type"
	KindSuspiciousRequest  Kind = "suspicious_request"
	KindValidationFailed   Kind = "validation_failed"
	KindUnauthenticated    Kind = "unauthenticated"
	KindUnauthorized       Kind = "unauthorized"
)

// Status returns the HTTP status code for the kind.
// Role failures at the route boundary answer 401, not 403.
func (k Kind) Status() int {
	switch k {
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindInvalidContentType, KindSuspiciousRequest, KindValidationFailed:
		return http.StatusBadRequest
	case KindUnauthenticated, KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Rejection is a terminal gateway outcome.
type Rejection struct {
	Kind    Kind
	Message string
	// Details is an optional reason shown to the client.
	Details string
	// RetryAfter is set in seconds for rate-limit rejections.
	RetryAfter int
}

func (r *Rejection) Error() string {
	if r.Details != "" {
		return string(r.Kind) + ": " + r.Message + ": " + r.Details
	}
	return string(r.Kind) + ": " + r.Message
}

// Status returns the HTTP status code of the rejection.
func (r *Rejection) Status() int { return r.Kind.Status() }

// Client-facing messages.
const (
	MsgPayloadTooLarge    = "Request payload too large"
	MsgInvalidContentType = "Invalid Content-Type. Expected application/json"
	MsgSuspiciousRequest  = "Invalid or suspicious request"
	MsgAuthFailed         = "Authentication failed"
)

// RateLimited returns a 429 rejection.
func RateLimited(message string, retryAfter int) *Rejection {
	return &Rejection{Kind: KindRateLimitExceeded, Message: message, RetryAfter: retryAfter}
}

// PayloadTooLarge returns a 413 rejection.
func PayloadTooLarge() *Rejection {
	return &Rejection{Kind: KindPayloadTooLarge, Message: MsgPayloadTooLarge}
}

// InvalidContentType returns a 400 rejection for non-JSON bodies.
func InvalidContentType() *Rejection {
	return &Rejection{Kind: KindInvalidContentType, Message: MsgInvalidContentType}
}

// Suspicious returns a 400 rejection for a missing or scanner-like user agent.
func Suspicious() *Rejection {
	return &Rejection{Kind: KindSuspiciousRequest, Message: MsgSuspiciousRequest}
}

// Invalid returns a 400 rejection carrying validation details.
func Invalid(message, details string) *Rejection {
	return &Rejection{Kind: KindValidationFailed, Message: message, Details: details}
}

// Unauthenticated returns a 401 rejection.
func Unauthenticated(reason string) *Rejection {
	return &Rejection{Kind: KindUnauthenticated, Message: MsgAuthFailed, Details: reason}
}

// Unauthorized returns the 401 rejection used for role failures.
func Unauthorized(reason string) *Rejection {
	return &Rejection{Kind: KindUnauthorized, Message: MsgAuthFailed, Details: reason}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
